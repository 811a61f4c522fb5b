package entities

import "time"

// Device status values. AgentKey is the durable identity; IPAddress is
// best-effort and re-resolved by the scanner after DHCP churn.
const (
	DeviceStatusOnline  = "online"
	DeviceStatusOffline = "offline"
	DeviceStatusUnknown = "unknown"
	DeviceStatusError   = "error"
)

// Device is a monitored hardware device running an agent.
type Device struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	AgentKey   string     `gorm:"size:100;not null;uniqueIndex" json:"agent_key"`
	Name       string     `gorm:"size:255;default:''" json:"name"`
	IPAddress  string     `gorm:"size:45;default:'';index" json:"ip_address"`
	Status     string     `gorm:"size:20;not null;default:'unknown';index" json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Device) TableName() string {
	return "devices"
}

// IsValidDeviceStatus reports whether s is a known device status.
func IsValidDeviceStatus(s string) bool {
	switch s {
	case DeviceStatusOnline, DeviceStatusOffline, DeviceStatusUnknown, DeviceStatusError:
		return true
	default:
		return false
	}
}
