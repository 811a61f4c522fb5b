package repository

import "errors"

// Sentinel errors returned by repositories. Callers match with errors.Is.
var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrAlertRuleNotFound    = errors.New("alert rule not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrScanJobNotFound      = errors.New("scan job not found")
)
