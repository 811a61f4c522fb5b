// Package session provides the redis-backed login session store.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/errors"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.NewStd("session not found")

// Session is one authenticated login.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store keeps sessions in redis with a sliding TTL. Keys are namespaced
// per user so all of a user's sessions can be revoked in one sweep.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Store from configuration and verifies connectivity.
func New(ctx context.Context, settings *conf.SessionSettings) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     settings.Address,
		Password: settings.Password,
		DB:       settings.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.New(err).
			Component("session").
			Category(errors.CategoryDatabase).
			Context("address", settings.Address).
			Build()
	}
	return NewWithClient(client, settings.TTL.Std()), nil
}

// NewWithClient creates a Store around an existing client. Tests use this.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func key(userID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s", userID, sessionID)
}

// Create issues a new session for the user.
func (s *Store) Create(ctx context.Context, userID string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, key(userID, sess.ID), payload, s.ttl).Err(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get fetches a session, returning ErrNotFound if absent or expired.
func (s *Store) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	payload, err := s.client.Get(ctx, key(userID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess := &Session{}
	if err := json.Unmarshal(payload, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns every live session belonging to the user.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	iter := s.client.Scan(ctx, 0, key(userID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		payload, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and fetch
			}
			return nil, err
		}
		sess := Session{}
		if err := json.Unmarshal(payload, &sess); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, iter.Err()
}

// Touch extends a session's TTL, implementing the sliding window.
func (s *Store) Touch(ctx context.Context, userID, sessionID string) error {
	ok, err := s.client.Expire(ctx, key(userID, sessionID), s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete revokes one session. Deleting an absent session is not an error.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	return s.client.Del(ctx, key(userID, sessionID)).Err()
}

// DeleteAll revokes every session belonging to the user and returns how
// many were removed.
func (s *Store) DeleteAll(ctx context.Context, userID string) (int64, error) {
	var deleted int64
	iter := s.client.Scan(ctx, 0, key(userID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, iter.Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
