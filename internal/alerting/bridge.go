package alerting

import (
	"strconv"
	"time"

	"github.com/nitrinonet/monitord/internal/logger"
)

// WebhookPayload is the inbound Alertmanager webhook body. External
// Prometheus/Alertmanager deployments can push their alerts into the same
// notification pipeline the internal engine feeds.
type WebhookPayload struct {
	Version  string         `json:"version"`
	GroupKey string         `json:"groupKey"`
	Status   string         `json:"status"`
	Receiver string         `json:"receiver"`
	Alerts   []WebhookAlert `json:"alerts"`
}

// WebhookAlert is a single alert within an Alertmanager webhook payload.
type WebhookAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
	Fingerprint string            `json:"fingerprint"`
}

// WebhookBridge maps Alertmanager webhook payloads into alert events and
// forwards them to an Acceptor.
type WebhookBridge struct {
	acceptor Acceptor
	log      logger.Logger
}

// NewWebhookBridge creates a bridge that forwards mapped events to acceptor.
func NewWebhookBridge(acceptor Acceptor, log logger.Logger) *WebhookBridge {
	return &WebhookBridge{acceptor: acceptor, log: log}
}

// Handle maps every alert in the payload and hands it to the acceptor.
// Returns the number of events forwarded.
func (b *WebhookBridge) Handle(payload *WebhookPayload) int {
	events := MapPayload(payload)
	for _, event := range events {
		b.acceptor.Accept(event)
	}
	if len(events) > 0 {
		b.log.Info("forwarded alertmanager webhook alerts",
			logger.Int("count", len(events)),
			logger.String("receiver", payload.Receiver))
	}
	return len(events)
}

// MapPayload converts an Alertmanager webhook payload into alert events.
// Labels alertname, severity, instance and device_id map onto the event;
// the summary or description annotation becomes the message.
func MapPayload(payload *WebhookPayload) []*AlertEvent {
	events := make([]*AlertEvent, 0, len(payload.Alerts))
	for i := range payload.Alerts {
		alert := &payload.Alerts[i]

		status := StatusFiring
		if alert.Status == "resolved" {
			status = StatusResolved
		}

		severity := alert.Labels["severity"]
		if !IsValidSeverity(severity) {
			severity = SeverityWarning
		}

		name := alert.Labels["alertname"]
		if name == "" {
			name = "external alert"
		}

		var deviceID uint
		if raw, ok := alert.Labels["device_id"]; ok {
			if parsed, err := strconv.ParseUint(raw, 10, 32); err == nil {
				deviceID = uint(parsed)
			}
		}

		message := alert.Annotations["summary"]
		if message == "" {
			message = alert.Annotations["description"]
		}
		if message == "" {
			message = name
		}

		var value float64
		if raw, ok := alert.Annotations["value"]; ok {
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
				value = parsed
			}
		}

		triggeredAt := alert.StartsAt
		if status == StatusResolved && !alert.EndsAt.IsZero() {
			triggeredAt = alert.EndsAt
		}
		if triggeredAt.IsZero() {
			triggeredAt = time.Now()
		}

		events = append(events, &AlertEvent{
			DeviceID:    deviceID,
			RuleName:    name,
			Metric:      alert.Labels["metric"],
			Severity:    severity,
			Status:      status,
			Value:       value,
			Message:     message,
			Fingerprint: alert.Fingerprint,
			TriggeredAt: triggeredAt,
		})
	}
	return events
}
