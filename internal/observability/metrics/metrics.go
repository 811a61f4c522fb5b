// Package metrics exposes prometheus instrumentation for the discovery,
// polling, alerting, and notification pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all monitord collectors. A single instance is created at
// startup and handed to each component; a nil *Metrics disables
// instrumentation (tests).
type Metrics struct {
	ProbesTotal        *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	ScansTotal         prometheus.Counter
	AgentsDiscovered   prometheus.Counter
	PollCyclesTotal    prometheus.Counter
	DeviceStatus       *prometheus.GaugeVec
	AlertTransitions   *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
}

// New creates the monitord collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitord_probes_total",
			Help: "Handshake probes attempted, by result.",
		}, []string{"result"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitord_scan_duration_seconds",
			Help:    "Duration of full subnet sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitord_scans_total",
			Help: "Subnet sweeps started.",
		}),
		AgentsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitord_agents_discovered_total",
			Help: "Agents discovered across all sweeps.",
		}),
		PollCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitord_poll_cycles_total",
			Help: "Device polling cycles completed.",
		}),
		DeviceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitord_devices",
			Help: "Known devices by status.",
		}, []string{"status"}),
		AlertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitord_alert_transitions_total",
			Help: "Alert state transitions emitted, by status.",
		}, []string{"status"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitord_notifications_total",
			Help: "Notification deliveries, by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}
	reg.MustRegister(
		m.ProbesTotal,
		m.ScanDuration,
		m.ScansTotal,
		m.AgentsDiscovered,
		m.PollCyclesTotal,
		m.DeviceStatus,
		m.AlertTransitions,
		m.NotificationsTotal,
	)
	return m
}

// ObserveProbe records a probe attempt outcome. Safe on nil receiver.
func (m *Metrics) ObserveProbe(result string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
}

// ObserveNotification records a delivery outcome. Safe on nil receiver.
func (m *Metrics) ObserveNotification(channel, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveTransition records an alert transition. Safe on nil receiver.
func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.AlertTransitions.WithLabelValues(status).Inc()
}

// ObservePollCycle records a completed poll cycle. Safe on nil receiver.
func (m *Metrics) ObservePollCycle() {
	if m == nil {
		return
	}
	m.PollCyclesTotal.Inc()
}

// SetDeviceStatus sets the device count gauge for one status. Safe on
// nil receiver.
func (m *Metrics) SetDeviceStatus(status string, count float64) {
	if m == nil {
		return
	}
	m.DeviceStatus.WithLabelValues(status).Set(count)
}
