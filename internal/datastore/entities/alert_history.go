package entities

import "time"

// AlertHistory records each alert state transition for audit.
// One row per FIRING or RESOLVED emission, never per evaluation.
type AlertHistory struct {
	ID        uint      `gorm:"primaryKey"`
	RuleID    uint      `gorm:"not null;index:idx_alert_history_rule_fired,priority:1"`
	DeviceID  uint      `gorm:"not null;index"`
	Status    string    `gorm:"size:20;not null"` // firing or resolved
	Value     float64   `gorm:"not null;default:0"`
	FiredAt   time.Time `gorm:"not null;index:idx_alert_history_rule_fired,priority:2"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	Rule      AlertRule `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (AlertHistory) TableName() string {
	return "alert_history"
}
