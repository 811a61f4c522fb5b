// Package alerting provides the alert rule evaluation engine.
package alerting

// Rule categories group what a rule monitors.
const (
	CategoryDevice  = "device"
	CategorySystem  = "system"
	CategoryNetwork = "network"
)

// Metric names identify the values rules evaluate. device.online is the
// poller's liveness signal (1 online, 0 offline); system.* come from the
// controller host's own snapshots.
const (
	MetricDeviceOnline = "device.online"
	MetricCPUUsage     = "system.cpu_usage"
	MetricMemoryUsage  = "system.memory_usage"
	MetricDiskUsage    = "system.disk_usage"
)

// Comparison operators. A closed set: the evaluator rejects anything else
// as a configuration error.
const (
	OperatorGreaterThan    = "greater_than"
	OperatorLessThan       = "less_than"
	OperatorGreaterOrEqual = "greater_or_equal"
	OperatorLessOrEqual    = "less_or_equal"
	OperatorEqual          = "equal"
	OperatorNotEqual       = "not_equal"
)

// Severities order operator attention.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert statuses. An event is emitted once per state transition, never
// once per evaluation.
const (
	StatusFiring   = "firing"
	StatusResolved = "resolved"
)

// IsValidOperator reports whether op is a known comparison operator.
func IsValidOperator(op string) bool {
	switch op {
	case OperatorGreaterThan, OperatorLessThan, OperatorGreaterOrEqual,
		OperatorLessOrEqual, OperatorEqual, OperatorNotEqual:
		return true
	default:
		return false
	}
}

// IsValidSeverity reports whether s is a known severity.
func IsValidSeverity(s string) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// IsValidCategory reports whether c is a known rule category.
func IsValidCategory(c string) bool {
	switch c {
	case CategoryDevice, CategorySystem, CategoryNetwork:
		return true
	default:
		return false
	}
}
