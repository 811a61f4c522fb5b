package repository

import (
	"context"
	"time"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
)

// NotificationRepository handles notification persistence and the
// per-channel delivery bookkeeping written by the dispatcher.
type NotificationRepository interface {
	Create(ctx context.Context, n *entities.Notification) error
	Get(ctx context.Context, id uint) (*entities.Notification, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]entities.Notification, error)
	MarkAsRead(ctx context.Context, id uint) error
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	SaveChannelResult(ctx context.Context, result *entities.ChannelResult) error
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
