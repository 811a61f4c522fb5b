package alerting

// Schema describes the full catalog of rule categories, metrics, operators
// and severities for the rule builder UI.
type Schema struct {
	Categories []CategorySchema `json:"categories"`
	Operators  []OperatorSchema `json:"operators"`
	Severities []SeveritySchema `json:"severities"`
}

// CategorySchema describes a rule category and its available metrics.
type CategorySchema struct {
	Name    string         `json:"name"`
	Label   string         `json:"label"`
	Metrics []MetricSchema `json:"metrics"`
}

// MetricSchema describes a metric available for rule conditions.
type MetricSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Unit  string `json:"unit"`
}

// OperatorSchema describes a comparison operator for the UI.
type OperatorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// SeveritySchema describes a severity level for the UI.
type SeveritySchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// GetSchema returns the full alerting schema for the UI.
func GetSchema() Schema {
	return Schema{
		Categories: []CategorySchema{
			{
				Name:  CategoryDevice,
				Label: "Device",
				Metrics: []MetricSchema{
					{Name: MetricDeviceOnline, Label: "Device Online", Unit: ""},
				},
			},
			{
				Name:  CategorySystem,
				Label: "System",
				Metrics: []MetricSchema{
					{Name: MetricCPUUsage, Label: "CPU Usage", Unit: "%"},
					{Name: MetricMemoryUsage, Label: "Memory Usage", Unit: "%"},
					{Name: MetricDiskUsage, Label: "Disk Usage", Unit: "%"},
				},
			},
		},
		Operators: []OperatorSchema{
			{Name: OperatorGreaterThan, Label: "greater than"},
			{Name: OperatorLessThan, Label: "less than"},
			{Name: OperatorGreaterOrEqual, Label: "greater or equal"},
			{Name: OperatorLessOrEqual, Label: "less or equal"},
			{Name: OperatorEqual, Label: "equals"},
			{Name: OperatorNotEqual, Label: "does not equal"},
		},
		Severities: []SeveritySchema{
			{Name: SeverityInfo, Label: "Info"},
			{Name: SeverityWarning, Label: "Warning"},
			{Name: SeverityCritical, Label: "Critical"},
		},
	}
}
