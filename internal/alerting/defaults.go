package alerting

import (
	"github.com/nitrinonet/monitord/internal/datastore/entities"
)

// DefaultRules returns the built-in alert rules seeded on first startup.
// They can be restored via reset-defaults.
func DefaultRules() []entities.AlertRule {
	return []entities.AlertRule{
		{
			Name:        "Device offline",
			Description: "Notifies when an agent stops responding to status polls for 2 minutes",
			Enabled:     true,
			BuiltIn:     true,
			Category:    CategoryDevice,
			Metric:      MetricDeviceOnline,
			Operator:    OperatorEqual,
			Threshold:   0,
			DurationSec: 120,
			Severity:    SeverityCritical,
			CooldownSec: 600,
		},
		{
			Name:        "High CPU usage",
			Description: "Notifies when CPU usage exceeds 90% for 5 minutes",
			Enabled:     true,
			BuiltIn:     true,
			Category:    CategorySystem,
			Metric:      MetricCPUUsage,
			Operator:    OperatorGreaterThan,
			Threshold:   90,
			DurationSec: 300,
			Severity:    SeverityWarning,
			CooldownSec: 900,
		},
		{
			Name:        "High memory usage",
			Description: "Notifies when memory usage exceeds 90% for 5 minutes",
			Enabled:     true,
			BuiltIn:     true,
			Category:    CategorySystem,
			Metric:      MetricMemoryUsage,
			Operator:    OperatorGreaterThan,
			Threshold:   90,
			DurationSec: 300,
			Severity:    SeverityWarning,
			CooldownSec: 900,
		},
		{
			Name:        "Low disk space",
			Description: "Notifies when disk usage exceeds 85% for 5 minutes",
			Enabled:     true,
			BuiltIn:     true,
			Category:    CategorySystem,
			Metric:      MetricDiskUsage,
			Operator:    OperatorGreaterThan,
			Threshold:   85,
			DurationSec: 300,
			Severity:    SeverityWarning,
			CooldownSec: 1800,
		},
	}
}
