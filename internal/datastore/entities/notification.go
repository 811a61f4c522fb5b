package entities

import "time"

// Notification types.
const (
	NotificationTypeSystem = "system"
	NotificationTypeUser   = "user"
	NotificationTypeDevice = "device"
	NotificationTypeAlert  = "alert"
	NotificationTypeInfo   = "info"
)

// Per-channel delivery outcomes.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeRetrying = "retrying"
)

// Notification is a user-visible message created by the dispatcher.
// An empty UserID means broadcast. The row itself is immutable after
// creation; only the attached ChannelResults are updated as delivery
// bookkeeping progresses.
type Notification struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         string          `gorm:"size:64;default:'';index" json:"user_id"`
	Type           string          `gorm:"size:20;not null" json:"type"`
	Severity       string          `gorm:"size:20;not null;default:'info'" json:"severity"`
	Title          string          `gorm:"size:500;not null" json:"title"`
	Message        string          `gorm:"size:2000;default:''" json:"message"`
	IsRead         bool            `gorm:"not null;default:false;index" json:"is_read"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	ChannelResults []ChannelResult `gorm:"foreignKey:NotificationID;constraint:OnDelete:CASCADE" json:"channel_results"`
}

// TableName returns the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// ChannelResult records the delivery outcome of one notification on one
// channel, for audit and retry bookkeeping.
type ChannelResult struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	NotificationID uint      `gorm:"not null;index" json:"notification_id"`
	Channel        string    `gorm:"size:50;not null" json:"channel"`
	Outcome        string    `gorm:"size:20;not null" json:"outcome"`
	Attempts       int       `gorm:"not null;default:0" json:"attempts"`
	LastError      string    `gorm:"size:1000;default:''" json:"last_error"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ChannelResult) TableName() string {
	return "notification_channel_results"
}
