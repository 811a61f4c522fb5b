package entities

import "time"

// AlertRule defines an operator-configurable alerting rule. Rules compare
// a device metric against a threshold; a non-zero DurationSec requires the
// condition to hold continuously before the rule fires.
type AlertRule struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"size:1000;default:''" json:"description"`
	Enabled     bool      `gorm:"not null;index" json:"enabled"`
	BuiltIn     bool      `gorm:"not null;default:false" json:"built_in"`
	Category    string    `gorm:"size:50;not null;index" json:"category"`
	Metric      string    `gorm:"size:100;not null" json:"metric"`
	Operator    string    `gorm:"size:20;not null" json:"operator"`
	Threshold   float64   `gorm:"not null;default:0" json:"threshold"`
	DurationSec int       `gorm:"not null;default:0" json:"duration_sec"`
	Severity    string    `gorm:"size:20;not null" json:"severity"`
	CooldownSec int       `gorm:"not null;default:300" json:"cooldown_sec"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}
