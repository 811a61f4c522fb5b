package entities

import "time"

// Scan job statuses.
const (
	ScanStatusPending   = "pending"
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
	ScanStatusCancelled = "cancelled"
)

// ScanJob tracks an asynchronous subnet sweep so API callers can poll
// progress and fetch results after the fact.
type ScanJob struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	Subnet     string     `gorm:"size:50;default:''" json:"subnet"`
	Status     string     `gorm:"size:20;not null;index" json:"status"`
	Progress   int        `gorm:"not null;default:0" json:"progress"` // probed addresses
	Total      int        `gorm:"not null;default:0" json:"total"`    // addresses in the sweep
	Found      int        `gorm:"not null;default:0" json:"found"`
	Error      string     `gorm:"size:1000;default:''" json:"error"`
	StartedAt  time.Time  `gorm:"autoCreateTime" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// TableName returns the table name for GORM.
func (ScanJob) TableName() string {
	return "network_scan_jobs"
}
