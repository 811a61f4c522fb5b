package notification

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/logger"
)

// mockNotificationRepo is an in-memory NotificationRepository.
type mockNotificationRepo struct {
	mu            sync.Mutex
	notifications map[uint]*entities.Notification
	results       []entities.ChannelResult
	nextID        uint
	createErr     error // returned by the next Create, then cleared
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{
		notifications: make(map[uint]*entities.Notification),
		nextID:        1,
	}
}

func (m *mockNotificationRepo) failNextCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

func (m *mockNotificationRepo) Create(_ context.Context, n *entities.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		err := m.createErr
		m.createErr = nil
		return err
	}
	n.ID = m.nextID
	m.nextID++
	n.CreatedAt = time.Now()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *mockNotificationRepo) Get(_ context.Context, id uint) (*entities.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, repository.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockNotificationRepo) ListByUser(_ context.Context, userID string, limit int) ([]entities.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.Notification
	for _, n := range m.notifications {
		if n.UserID == "" || n.UserID == userID {
			out = append(out, *n)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockNotificationRepo) MarkAsRead(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return repository.ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}

func (m *mockNotificationRepo) MarkAllAsRead(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if !n.IsRead && (n.UserID == "" || n.UserID == userID) {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) UnreadCount(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if !n.IsRead && (n.UserID == "" || n.UserID == userID) {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) SaveChannelResult(_ context.Context, result *entities.ChannelResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result.ID == 0 {
		result.ID = uint(len(m.results)) + 1 //nolint:gosec // test mock
		m.results = append(m.results, *result)
		return nil
	}
	for i := range m.results {
		if m.results[i].ID == result.ID {
			m.results[i] = *result
			return nil
		}
	}
	m.results = append(m.results, *result)
	return nil
}

func (m *mockNotificationRepo) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, n := range m.notifications {
		if n.CreatedAt.Before(before) {
			delete(m.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockNotificationRepo) channelResults() []entities.ChannelResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.ChannelResult, len(m.results))
	copy(out, m.results)
	return out
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func TestService_CreatePersistsAndBroadcasts(t *testing.T) {
	repo := newMockNotificationRepo()
	svc := NewService(repo, testLogger())
	defer svc.Stop()

	id, feed := svc.Subscribe()
	defer svc.Unsubscribe(id)

	n, err := svc.Create(t.Context(), entities.NotificationTypeAlert, "critical", "Device offline", "device 3 stopped responding")
	require.NoError(t, err)
	assert.NotZero(t, n.ID)
	assert.Empty(t, n.UserID, "Create produces broadcasts")

	select {
	case got := <-feed:
		assert.Equal(t, n.ID, got.ID)
		assert.Equal(t, "Device offline", got.Title)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification")
	}
}

func TestService_UnsubscribeClosesChannel(t *testing.T) {
	repo := newMockNotificationRepo()
	svc := NewService(repo, testLogger())
	defer svc.Stop()

	id, feed := svc.Subscribe()
	svc.Unsubscribe(id)

	_, open := <-feed
	assert.False(t, open)
}

func TestService_SlowSubscriberDoesNotBlock(t *testing.T) {
	repo := newMockNotificationRepo()
	svc := NewService(repo, testLogger())
	defer svc.Stop()

	// Never drained; the buffer fills and further broadcasts drop.
	id, _ := svc.Subscribe()
	defer svc.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			_, err := svc.Create(context.Background(), entities.NotificationTypeInfo, "info", "t", "m")
			require.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on slow subscriber")
	}
}

func TestService_ReadTracking(t *testing.T) {
	repo := newMockNotificationRepo()
	svc := NewService(repo, testLogger())
	defer svc.Stop()

	ctx := t.Context()
	_, err := svc.CreateForUser(ctx, "alice", entities.NotificationTypeUser, "info", "a", "m")
	require.NoError(t, err)
	n2, err := svc.Create(ctx, entities.NotificationTypeSystem, "info", "b", "m")
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "broadcasts count toward every user's unread")

	require.NoError(t, svc.MarkAsRead(ctx, n2.ID))
	count, err = svc.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	changed, err := svc.MarkAllAsRead(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	count, err = svc.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_ListIncludesBroadcasts(t *testing.T) {
	repo := newMockNotificationRepo()
	svc := NewService(repo, testLogger())
	defer svc.Stop()

	ctx := t.Context()
	_, err := svc.CreateForUser(ctx, "alice", entities.NotificationTypeUser, "info", "for alice", "m")
	require.NoError(t, err)
	_, err = svc.CreateForUser(ctx, "bob", entities.NotificationTypeUser, "info", "for bob", "m")
	require.NoError(t, err)
	_, err = svc.Create(ctx, entities.NotificationTypeSystem, "info", "for everyone", "m")
	require.NoError(t, err)

	list, err := svc.List(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
