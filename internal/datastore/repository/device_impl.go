package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/errors"
	"gorm.io/gorm"
)

// deviceRepository implements DeviceRepository.
type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// ListDevices returns devices matching the given filter.
func (r *deviceRepository) ListDevices(ctx context.Context, filter DeviceFilter) ([]entities.Device, error) {
	var devices []entities.Device
	query := r.db.WithContext(ctx)

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.IPAddress != "" {
		query = query.Where("ip_address = ?", filter.IPAddress)
	}

	if err := query.Order("id ASC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// GetDevice returns a single device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *deviceRepository) GetDevice(ctx context.Context, id uint) (*entities.Device, error) {
	var device entities.Device
	if err := r.db.WithContext(ctx).First(&device, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device %d: %w", id, err)
	}
	return &device, nil
}

// GetDeviceByAgentKey returns the device with the given agent key.
// Returns ErrDeviceNotFound if no device has that key.
func (r *deviceRepository) GetDeviceByAgentKey(ctx context.Context, agentKey string) (*entities.Device, error) {
	var device entities.Device
	if err := r.db.WithContext(ctx).Where("agent_key = ?", agentKey).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device by agent key: %w", err)
	}
	return &device, nil
}

// CreateDevice creates a new device record.
func (r *deviceRepository) CreateDevice(ctx context.Context, device *entities.Device) error {
	if err := r.db.WithContext(ctx).Create(device).Error; err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// UpdateStatus sets a device's status and optionally its last-seen time.
func (r *deviceRepository) UpdateStatus(ctx context.Context, id uint, status string, lastSeen *time.Time) error {
	updates := map[string]any{"status": status}
	if lastSeen != nil {
		updates["last_seen_at"] = *lastSeen
	}
	result := r.db.WithContext(ctx).Model(&entities.Device{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update device %d status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpdateIPAddress records a device's new address after re-discovery.
func (r *deviceRepository) UpdateIPAddress(ctx context.Context, id uint, ip string) error {
	result := r.db.WithContext(ctx).Model(&entities.Device{}).Where("id = ?", id).Update("ip_address", ip)
	if result.Error != nil {
		return fmt.Errorf("failed to update device %d ip address: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// DeleteDevice removes a device record.
func (r *deviceRepository) DeleteDevice(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.Device{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete device %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// GetStats returns aggregate device counts per status.
func (r *deviceRepository) GetStats(ctx context.Context) (DeviceStats, error) {
	var stats DeviceStats
	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := r.db.WithContext(ctx).Model(&entities.Device{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return stats, fmt.Errorf("failed to get device stats: %w", err)
	}
	for _, c := range counts {
		stats.Total += c.Count
		switch c.Status {
		case entities.DeviceStatusOnline:
			stats.Online = c.Count
		case entities.DeviceStatusOffline:
			stats.Offline = c.Count
		case entities.DeviceStatusError:
			stats.Error = c.Count
		default:
			stats.Unknown += c.Count
		}
	}
	return stats, nil
}
