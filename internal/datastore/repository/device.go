package repository

import (
	"context"
	"time"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
)

// DeviceRepository handles device persistence. The scanner and poller
// never mutate device rows directly; all updates go through this
// interface so each device's update is an independent, serialized write.
type DeviceRepository interface {
	ListDevices(ctx context.Context, filter DeviceFilter) ([]entities.Device, error)
	GetDevice(ctx context.Context, id uint) (*entities.Device, error)
	GetDeviceByAgentKey(ctx context.Context, agentKey string) (*entities.Device, error)
	CreateDevice(ctx context.Context, device *entities.Device) error
	UpdateStatus(ctx context.Context, id uint, status string, lastSeen *time.Time) error
	UpdateIPAddress(ctx context.Context, id uint, ip string) error
	DeleteDevice(ctx context.Context, id uint) error
	GetStats(ctx context.Context) (DeviceStats, error)
}

// DeviceFilter controls device listing queries.
type DeviceFilter struct {
	Status    string
	IPAddress string
}

// DeviceStats aggregates device counts per status.
type DeviceStats struct {
	Total   int64 `json:"total"`
	Online  int64 `json:"online"`
	Offline int64 `json:"offline"`
	Unknown int64 `json:"unknown"`
	Error   int64 `json:"error"`
}
