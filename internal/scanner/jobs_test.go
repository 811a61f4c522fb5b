package scanner

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/notification"
)

type mockScanJobRepo struct {
	mu   sync.Mutex
	jobs map[string]entities.ScanJob
}

func newMockScanJobRepo() *mockScanJobRepo {
	return &mockScanJobRepo{jobs: make(map[string]entities.ScanJob)}
}

func (m *mockScanJobRepo) CreateJob(_ context.Context, job *entities.ScanJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *mockScanJobRepo) UpdateJob(_ context.Context, job *entities.ScanJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *mockScanJobRepo) GetJob(_ context.Context, id string) (*entities.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrScanJobNotFound
	}
	return &job, nil
}

func (m *mockScanJobRepo) ListRecent(_ context.Context, limit int) ([]entities.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.ScanJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockScanJobRepo) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status
}

type mockDeviceRepo struct {
	mu      sync.Mutex
	nextID  uint
	devices map[uint]entities.Device
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{devices: make(map[uint]entities.Device)}
}

func (m *mockDeviceRepo) add(d entities.Device) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	m.devices[d.ID] = d
	return d.ID
}

func (m *mockDeviceRepo) ListDevices(_ context.Context, _ repository.DeviceFilter) ([]entities.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockDeviceRepo) GetDevice(_ context.Context, id uint) (*entities.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, repository.ErrDeviceNotFound
	}
	return &d, nil
}

func (m *mockDeviceRepo) GetDeviceByAgentKey(_ context.Context, agentKey string) (*entities.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.AgentKey == agentKey {
			out := d
			return &out, nil
		}
	}
	return nil, repository.ErrDeviceNotFound
}

func (m *mockDeviceRepo) CreateDevice(_ context.Context, device *entities.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	device.ID = m.nextID
	m.devices[device.ID] = *device
	return nil
}

func (m *mockDeviceRepo) UpdateStatus(_ context.Context, id uint, status string, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return repository.ErrDeviceNotFound
	}
	d.Status = status
	if lastSeen != nil {
		d.LastSeenAt = lastSeen
	}
	m.devices[id] = d
	return nil
}

func (m *mockDeviceRepo) UpdateIPAddress(_ context.Context, id uint, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return repository.ErrDeviceNotFound
	}
	d.IPAddress = ip
	m.devices[id] = d
	return nil
}

func (m *mockDeviceRepo) DeleteDevice(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, id)
	return nil
}

func (m *mockDeviceRepo) GetStats(_ context.Context) (repository.DeviceStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := repository.DeviceStats{Total: int64(len(m.devices))}
	for _, d := range m.devices {
		switch d.Status {
		case entities.DeviceStatusOnline:
			stats.Online++
		case entities.DeviceStatusOffline:
			stats.Offline++
		case entities.DeviceStatusError:
			stats.Error++
		default:
			stats.Unknown++
		}
	}
	return stats, nil
}

func (m *mockDeviceRepo) get(id uint) entities.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[id]
}

func TestJobRunner_SweepRegistersNewDevice(t *testing.T) {
	_, port := fakeAgent(t, "secret", nil)
	jobs := newMockScanJobRepo()
	devices := newMockDeviceRepo()
	runner := NewJobRunner(testScanner(port), jobs, devices, testLogger())
	defer runner.Stop()

	job, err := runner.Start(t.Context(), "127.0.0.1/30")
	require.NoError(t, err)
	assert.Equal(t, entities.ScanStatusPending, job.Status)

	require.Eventually(t, func() bool {
		return jobs.status(job.ID) == entities.ScanStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	final, err := jobs.GetJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.Found)
	assert.Equal(t, 2, final.Total)
	require.NotNil(t, final.FinishedAt)

	created, err := devices.GetDeviceByAgentKey(t.Context(), testAgentKey)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", created.IPAddress)
	assert.Equal(t, entities.DeviceStatusOnline, created.Status)
	require.NotNil(t, created.LastSeenAt)
}

func TestJobRunner_SweepUpdatesKnownDeviceAddress(t *testing.T) {
	_, port := fakeAgent(t, "secret", nil)
	jobs := newMockScanJobRepo()
	devices := newMockDeviceRepo()
	id := devices.add(entities.Device{
		AgentKey:  testAgentKey,
		Name:      "rack-7",
		IPAddress: "10.0.0.99",
		Status:    entities.DeviceStatusOffline,
	})
	runner := NewJobRunner(testScanner(port), jobs, devices, testLogger())
	defer runner.Stop()

	job, err := runner.Start(t.Context(), "127.0.0.1/30")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return jobs.status(job.ID) == entities.ScanStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	updated := devices.get(id)
	assert.Equal(t, "127.0.0.1", updated.IPAddress, "address should follow the agent")
	assert.Equal(t, entities.DeviceStatusOnline, updated.Status)
	assert.Equal(t, "rack-7", updated.Name, "operator-assigned name survives")

	stats, err := devices.GetStats(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Total, "reconcile must not duplicate the device")
}

func TestJobRunner_InvalidSubnetFailsJob(t *testing.T) {
	jobs := newMockScanJobRepo()
	runner := NewJobRunner(testScanner(9090), jobs, newMockDeviceRepo(), testLogger())
	defer runner.Stop()

	job, err := runner.Start(t.Context(), "not-a-subnet")
	require.NoError(t, err, "job creation succeeds; the sweep itself fails")

	require.Eventually(t, func() bool {
		return jobs.status(job.ID) == entities.ScanStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	final, err := jobs.GetJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, final.Error)
}

func TestJobRunner_CancelUnknownJob(t *testing.T) {
	runner := NewJobRunner(testScanner(9090), newMockScanJobRepo(), newMockDeviceRepo(), testLogger())
	defer runner.Stop()

	assert.False(t, runner.Cancel("no-such-job"))
}

// notifRepoStub records created notifications; everything else is a no-op.
type notifRepoStub struct {
	mu      sync.Mutex
	created []entities.Notification
}

func (s *notifRepoStub) Create(_ context.Context, n *entities.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uint(len(s.created) + 1)
	s.created = append(s.created, *n)
	return nil
}

func (s *notifRepoStub) Get(context.Context, uint) (*entities.Notification, error) {
	return nil, nil
}

func (s *notifRepoStub) ListByUser(context.Context, string, int) ([]entities.Notification, error) {
	return nil, nil
}

func (s *notifRepoStub) MarkAsRead(context.Context, uint) error { return nil }

func (s *notifRepoStub) MarkAllAsRead(context.Context, string) (int64, error) { return 0, nil }

func (s *notifRepoStub) UnreadCount(context.Context, string) (int64, error) { return 0, nil }

func (s *notifRepoStub) SaveChannelResult(context.Context, *entities.ChannelResult) error {
	return nil
}

func (s *notifRepoStub) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *notifRepoStub) all() []entities.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.Notification, len(s.created))
	copy(out, s.created)
	return out
}

func TestJobRunner_SweepAnnouncesNewDevice(t *testing.T) {
	notifRepo := &notifRepoStub{}
	svc := notification.NewService(notifRepo, testLogger())
	defer svc.Stop()
	require.NoError(t, notification.SetServiceForTesting(svc))
	defer func() { _ = notification.SetServiceForTesting(nil) }()

	_, port := fakeAgent(t, "secret", nil)
	jobs := newMockScanJobRepo()
	devices := newMockDeviceRepo()
	runner := NewJobRunner(testScanner(port), jobs, devices, testLogger())
	defer runner.Stop()

	job, err := runner.Start(t.Context(), "127.0.0.1/30")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return jobs.status(job.ID) == entities.ScanStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	created := notifRepo.all()
	require.Len(t, created, 1)
	assert.Equal(t, entities.NotificationTypeDevice, created[0].Type)
	assert.Equal(t, "New device discovered", created[0].Title)
	assert.Contains(t, created[0].Message, testAgentKey)
	assert.Contains(t, created[0].Message, "127.0.0.1")
}

func TestJobRunner_ProgressFlushedWhileSweepRuns(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond)
		if r.Header.Get("X-Agent-Handshake-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, "UNIQUE_ID_SYSTEM{uuid=%q} 1\n", testAgentKey)
	}
	_, port := fakeAgent(t, "secret", slow)
	jobs := newMockScanJobRepo()
	runner := NewJobRunner(testScanner(port), jobs, newMockDeviceRepo(), testLogger())
	runner.flushInterval = 20 * time.Millisecond
	defer runner.Stop()

	job, err := runner.Start(t.Context(), "127.0.0.1/30")
	require.NoError(t, err)

	// The non-agent host fails fast; its progress must reach the store
	// while the slow agent probe is still in flight.
	require.Eventually(t, func() bool {
		j, err := jobs.GetJob(context.Background(), job.ID)
		return err == nil && j.Status == entities.ScanStatusRunning && j.Progress >= 1 && j.Total == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return jobs.status(job.ID) == entities.ScanStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	final, err := jobs.GetJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.Progress)
	assert.Equal(t, 2, final.Total)
}
