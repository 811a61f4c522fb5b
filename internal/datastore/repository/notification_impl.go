package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/errors"
	"gorm.io/gorm"
)

// notificationRepository implements NotificationRepository.
type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// Create persists a notification with any attached channel results.
func (r *notificationRepository) Create(ctx context.Context, n *entities.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// Get returns a notification by ID with its channel results.
func (r *notificationRepository) Get(ctx context.Context, id uint) (*entities.Notification, error) {
	var n entities.Notification
	if err := r.db.WithContext(ctx).Preload("ChannelResults").First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification %d: %w", id, err)
	}
	return &n, nil
}

// ListByUser returns the most recent notifications visible to a user:
// their own plus broadcasts.
func (r *notificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]entities.Notification, error) {
	if limit <= 0 {
		limit = 10
	}
	var items []entities.Notification
	err := r.db.WithContext(ctx).
		Preload("ChannelResults").
		Where("user_id = ? OR user_id = ''", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return items, nil
}

// MarkAsRead marks a single notification as read.
func (r *notificationRepository) MarkAsRead(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Model(&entities.Notification{}).Where("id = ?", id).Update("is_read", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark notification %d as read: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllAsRead marks all of a user's unread notifications as read.
func (r *notificationRepository) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.Notification{}).
		Where("(user_id = ? OR user_id = '') AND is_read = ?", userID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// UnreadCount returns the number of unread notifications for a user.
func (r *notificationRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Notification{}).
		Where("(user_id = ? OR user_id = '') AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// SaveChannelResult upserts the delivery outcome for one channel.
func (r *notificationRepository) SaveChannelResult(ctx context.Context, result *entities.ChannelResult) error {
	if result.ID != 0 {
		if err := r.db.WithContext(ctx).Save(result).Error; err != nil {
			return fmt.Errorf("failed to update channel result: %w", err)
		}
		return nil
	}
	if err := r.db.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("failed to save channel result: %w", err)
	}
	return nil
}

// DeleteOlderThan removes notifications created before the given time.
func (r *notificationRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&entities.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}
