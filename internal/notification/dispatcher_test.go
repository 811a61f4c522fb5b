package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/datastore/entities"
)

// fakeChannel records sends and fails a configurable number of times.
type fakeChannel struct {
	name      string
	mu        sync.Mutex
	sends     int
	failFirst int // fail this many attempts before succeeding
	err       error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, _ *alerting.AlertEvent, _ *entities.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.sends <= f.failFirst {
		if f.err != nil {
			return f.err
		}
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeChannel) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func dispatcherSettings() conf.NotificationSettings {
	return conf.NotificationSettings{
		MaxRetries:          3,
		RetryBackoff:        conf.Duration(time.Millisecond),
		DedupWindow:         conf.Duration(5 * time.Minute),
		MaxPerDevicePerHour: 12,
	}
}

func firingEvent(deviceID uint) *alerting.AlertEvent {
	return &alerting.AlertEvent{
		RuleID:      1,
		DeviceID:    deviceID,
		RuleName:    "Device offline",
		Metric:      alerting.MetricDeviceOnline,
		Severity:    alerting.SeverityCritical,
		Status:      alerting.StatusFiring,
		Value:       0,
		Message:     "device stopped responding",
		Fingerprint: "1/3/device.online",
		TriggeredAt: time.Now(),
	}
}

func newTestDispatcher(repo *mockNotificationRepo, settings conf.NotificationSettings, channels ...Channel) (*Dispatcher, *Service) {
	svc := NewService(repo, testLogger())
	return NewDispatcher(svc, repo, channels, settings, nil, testLogger()), svc
}

func TestDispatcher_PersistsNotificationAndDelivers(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "telegram"}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), ch)
	defer svc.Stop()

	d.Accept(firingEvent(3))
	d.Wait()

	assert.Equal(t, 1, ch.sendCount())

	list, err := svc.List(t.Context(), "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entities.NotificationTypeAlert, list[0].Type)
	assert.Equal(t, alerting.SeverityCritical, list[0].Severity)
	assert.Equal(t, "Device offline", list[0].Title)

	results := repo.channelResults()
	require.Len(t, results, 1)
	assert.Equal(t, "telegram", results[0].Channel)
	assert.Equal(t, entities.OutcomeSent, results[0].Outcome)
	assert.Equal(t, 1, results[0].Attempts)
}

func TestDispatcher_ResolvedEventTitled(t *testing.T) {
	repo := newMockNotificationRepo()
	d, svc := newTestDispatcher(repo, dispatcherSettings())
	defer svc.Stop()

	event := firingEvent(3)
	event.Status = alerting.StatusResolved
	event.Fingerprint = "1/3/device.online" // same pair, different status
	d.Accept(event)
	d.Wait()

	list, err := svc.List(t.Context(), "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Resolved: Device offline", list[0].Title)
}

func TestDispatcher_DedupSuppressesDuplicates(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "telegram"}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), ch)
	defer svc.Stop()

	d.Accept(firingEvent(3))
	d.Accept(firingEvent(3))
	d.Wait()

	assert.Equal(t, 1, ch.sendCount(), "identical fingerprint+status inside the window delivers once")

	list, err := svc.List(t.Context(), "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDispatcher_DedupAllowsStatusTransition(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "telegram"}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), ch)
	defer svc.Stop()

	firing := firingEvent(3)
	resolved := firingEvent(3)
	resolved.Status = alerting.StatusResolved

	d.Accept(firing)
	d.Accept(resolved)
	d.Wait()

	assert.Equal(t, 2, ch.sendCount(), "FIRING and RESOLVED are distinct dedup keys")
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "webhook", failFirst: 2}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), ch)
	defer svc.Stop()

	d.Accept(firingEvent(3))
	d.Wait()

	assert.Equal(t, 3, ch.sendCount())

	results := repo.channelResults()
	require.NotEmpty(t, results)
	final := results[len(results)-1]
	assert.Equal(t, entities.OutcomeSent, final.Outcome)
	assert.Equal(t, 3, final.Attempts)
}

func TestDispatcher_ExhaustedRetriesMarkedFailed(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "email", failFirst: 10}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), ch)
	defer svc.Stop()

	d.Accept(firingEvent(3))
	d.Wait()

	assert.Equal(t, 3, ch.sendCount(), "delivery stops at MaxRetries")

	results := repo.channelResults()
	require.NotEmpty(t, results)
	final := results[len(results)-1]
	assert.Equal(t, entities.OutcomeFailed, final.Outcome)
	assert.NotEmpty(t, final.LastError)
}

func TestDispatcher_InfoStaysInApp(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "telegram"}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), ch)
	defer svc.Stop()

	event := firingEvent(3)
	event.Severity = alerting.SeverityInfo
	d.Accept(event)
	d.Wait()

	assert.Zero(t, ch.sendCount(), "info severity skips external channels")

	list, err := svc.List(t.Context(), "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "in-app notification is still created")
}

func TestDispatcher_PerDeviceRateLimit(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "telegram"}
	settings := dispatcherSettings()
	settings.MaxPerDevicePerHour = 2
	d, svc := newTestDispatcher(repo, settings, ch)
	defer svc.Stop()

	// Distinct fingerprints so dedup never intervenes.
	for i := range 5 {
		event := firingEvent(3)
		event.RuleID = uint(i + 1) //nolint:gosec // test loop
		event.Fingerprint = string(rune('a' + i))
		d.Accept(event)
	}
	d.Wait()

	assert.Equal(t, 2, ch.sendCount(), "burst beyond the hourly cap is dropped")
}

func TestDispatcher_SystemEventsNeverRateLimited(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "telegram"}
	settings := dispatcherSettings()
	settings.MaxPerDevicePerHour = 1
	d, svc := newTestDispatcher(repo, settings, ch)
	defer svc.Stop()

	for i := range 4 {
		event := firingEvent(0)
		event.Fingerprint = string(rune('a' + i))
		d.Accept(event)
	}
	d.Wait()

	assert.Equal(t, 4, ch.sendCount())
}

func TestDispatcher_MultipleChannelsAllDelivered(t *testing.T) {
	repo := newMockNotificationRepo()
	tg := &fakeChannel{name: "telegram"}
	email := &fakeChannel{name: "email"}
	webhook := &fakeChannel{name: "webhook"}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), tg, email, webhook)
	defer svc.Stop()

	d.Accept(firingEvent(3))
	d.Wait()

	assert.Equal(t, 1, tg.sendCount())
	assert.Equal(t, 1, email.sendCount())
	assert.Equal(t, 1, webhook.sendCount())
	assert.Len(t, repo.channelResults(), 3)
}

func TestDispatcher_RepeatedFiringPastWindowNotRedelivered(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "telegram"}
	settings := dispatcherSettings()
	settings.DedupWindow = conf.Duration(20 * time.Millisecond)
	d, svc := newTestDispatcher(repo, settings, ch)
	defer svc.Stop()

	d.Accept(firingEvent(3))
	time.Sleep(60 * time.Millisecond)
	d.Accept(firingEvent(3)) // same state, well past the damping window
	d.Wait()

	assert.Equal(t, 1, ch.sendCount(), "same delivered state must not notify again without an intervening RESOLVED")

	list, err := svc.List(t.Context(), "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDispatcher_EveryTransitionDeliversPastFlapWindow(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "telegram"}
	settings := dispatcherSettings()
	settings.DedupWindow = conf.Duration(10 * time.Millisecond)
	d, svc := newTestDispatcher(repo, settings, ch)
	defer svc.Stop()

	firing := firingEvent(3)
	resolved := firingEvent(3)
	resolved.Status = alerting.StatusResolved

	d.Accept(firing)
	d.Accept(resolved)
	time.Sleep(30 * time.Millisecond)
	d.Accept(firingEvent(3))
	d.Wait()

	assert.Equal(t, 3, ch.sendCount(), "each genuine transition delivers once")
}

func TestDispatcher_FlapDampedInsideWindow(t *testing.T) {
	repo := newMockNotificationRepo()
	ch := &fakeChannel{name: "telegram"}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), ch)
	defer svc.Stop()

	firing := firingEvent(3)
	resolved := firingEvent(3)
	resolved.Status = alerting.StatusResolved

	d.Accept(firing)
	d.Accept(resolved)
	d.Accept(firingEvent(3)) // re-fires inside the window
	d.Wait()

	assert.Equal(t, 2, ch.sendCount(), "rapid re-fire inside the window is damped")
}

func TestDispatcher_PersistFailureDoesNotMarkDelivered(t *testing.T) {
	repo := newMockNotificationRepo()
	repo.failNextCreate(errors.New("connection reset"))
	ch := &fakeChannel{name: "telegram"}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), ch)
	defer svc.Stop()

	d.Accept(firingEvent(3))
	d.Wait()
	assert.Zero(t, ch.sendCount(), "failed persistence delivers nothing")

	// The repository recovers; the same transition must go through.
	d.Accept(firingEvent(3))
	d.Wait()
	assert.Equal(t, 1, ch.sendCount(), "transition survives a transient repository error")

	list, err := svc.List(t.Context(), "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDispatcher_WarningSkipsEmail(t *testing.T) {
	repo := newMockNotificationRepo()
	tg := &fakeChannel{name: "telegram"}
	email := &fakeChannel{name: "email"}
	webhook := &fakeChannel{name: "webhook"}
	d, svc := newTestDispatcher(repo, dispatcherSettings(), tg, email, webhook)
	defer svc.Stop()

	event := firingEvent(3)
	event.Severity = alerting.SeverityWarning
	d.Accept(event)
	d.Wait()

	assert.Equal(t, 1, tg.sendCount())
	assert.Zero(t, email.sendCount(), "email is reserved for critical alerts")
	assert.Equal(t, 1, webhook.sendCount())
}
