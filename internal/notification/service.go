// Package notification persists user-visible notifications and delivers
// them over external channels. The Service owns the in-app feed (the
// bell); the Dispatcher fans alert events out to external transports
// with retry and dedup bookkeeping.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/logger"
)

const (
	// subscriberBuffer is the per-subscriber channel capacity. A slow
	// consumer loses notifications rather than blocking the service.
	subscriberBuffer = 64

	cleanupInterval = 1 * time.Hour
	cleanupTimeout  = 5 * time.Second
)

// Service persists notifications and streams them to in-app subscribers.
type Service struct {
	repo repository.NotificationRepository
	log  logger.Logger

	mu          sync.Mutex
	subscribers map[uint64]chan *entities.Notification
	nextSubID   uint64

	cleanupStop chan struct{}
	stopOnce    sync.Once
}

// NewService creates a notification service.
func NewService(repo repository.NotificationRepository, log logger.Logger) *Service {
	return &Service{
		repo:        repo,
		log:         log,
		subscribers: make(map[uint64]chan *entities.Notification),
	}
}

// Create persists a broadcast notification and streams it to subscribers.
func (s *Service) Create(ctx context.Context, typ, severity, title, message string) (*entities.Notification, error) {
	return s.CreateForUser(ctx, "", typ, severity, title, message)
}

// CreateForUser persists a notification addressed to one user. An empty
// userID means broadcast.
func (s *Service) CreateForUser(ctx context.Context, userID, typ, severity, title, message string) (*entities.Notification, error) {
	n := &entities.Notification{
		UserID:   userID,
		Type:     typ,
		Severity: severity,
		Title:    title,
		Message:  message,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	s.broadcast(n)
	return n, nil
}

// Subscribe registers a live feed consumer. The returned channel receives
// every notification created after the call; Unsubscribe with the id.
func (s *Service) Subscribe() (uint64, <-chan *entities.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	ch := make(chan *entities.Notification, subscriberBuffer)
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Service) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *Service) broadcast(n *entities.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- n:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
}

// List returns a user's notifications, newest first, including broadcasts.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]entities.Notification, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

// MarkAsRead marks one notification read.
func (s *Service) MarkAsRead(ctx context.Context, id uint) error {
	return s.repo.MarkAsRead(ctx, id)
}

// MarkAllAsRead marks all of a user's unread notifications read and
// returns how many changed.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllAsRead(ctx, userID)
}

// UnreadCount returns the user's unread notification count.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// StartCleanup starts a background goroutine that periodically deletes
// notifications older than retention. A non-positive retention disables it.
func (s *Service) StartCleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	s.mu.Lock()
	if s.cleanupStop != nil {
		s.mu.Unlock()
		return
	}
	s.cleanupStop = make(chan struct{})
	stopCh := s.cleanupStop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
				deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
				cancel()
				if err != nil {
					s.log.Error("notification cleanup failed", logger.Error(err))
				} else if deleted > 0 {
					s.log.Info("notification cleanup completed", logger.Int64("deleted", deleted))
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the cleanup goroutine and closes all subscriber channels.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.cleanupStop != nil {
			close(s.cleanupStop)
			s.cleanupStop = nil
		}
		for id, ch := range s.subscribers {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()
	})
}
