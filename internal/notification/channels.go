package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/errors"
)

// Channel delivers one notification over one external transport. Send is
// a single attempt; retry policy belongs to the dispatcher.
type Channel interface {
	Name() string
	Send(ctx context.Context, event *alerting.AlertEvent, n *entities.Notification) error
}

// Channel names as recorded in delivery results and used for
// severity routing.
const (
	channelTelegram = "telegram"
	channelEmail    = "email"
	channelWebhook  = "webhook"
)

// ShoutrrrChannel delivers notifications through a shoutrrr service URL
// (telegram, smtp, and anything else shoutrrr speaks).
type ShoutrrrChannel struct {
	name   string
	sender *router.ServiceRouter
}

// NewShoutrrrChannel creates a channel from a shoutrrr service URL.
func NewShoutrrrChannel(name, serviceURL string) (*ShoutrrrChannel, error) {
	sender, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("channel", name).
			Build()
	}
	return &ShoutrrrChannel{name: name, sender: sender}, nil
}

// NewTelegramChannel builds a telegram channel from configuration.
func NewTelegramChannel(settings *conf.TelegramSettings) (*ShoutrrrChannel, error) {
	serviceURL := fmt.Sprintf("telegram://%s@telegram?chats=%s",
		settings.BotToken, url.QueryEscape(settings.ChatID))
	return NewShoutrrrChannel(channelTelegram, serviceURL)
}

// NewEmailChannel builds an SMTP channel from configuration.
func NewEmailChannel(settings *conf.EmailSettings) (*ShoutrrrChannel, error) {
	serviceURL := fmt.Sprintf("smtp://%s:%s@%s:%d/?from=%s&to=%s",
		url.QueryEscape(settings.Username),
		url.QueryEscape(settings.Password),
		settings.Host,
		settings.Port,
		url.QueryEscape(settings.From),
		url.QueryEscape(strings.Join(settings.To, ",")))
	return NewShoutrrrChannel(channelEmail, serviceURL)
}

// Name implements Channel.
func (c *ShoutrrrChannel) Name() string { return c.name }

// Send delivers the notification body with the title as metadata.
func (c *ShoutrrrChannel) Send(_ context.Context, _ *alerting.AlertEvent, n *entities.Notification) error {
	params := types.Params{"title": n.Title}
	errs := c.sender.Send(n.Message, &params)
	for _, err := range errs {
		if err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryDelivery).
				Context("channel", c.name).
				Build()
		}
	}
	return nil
}

// WebhookChannel POSTs the full alert event as JSON to a configured URL.
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel builds a webhook channel from configuration.
func NewWebhookChannel(settings *conf.WebhookSettings) *WebhookChannel {
	return &WebhookChannel{
		url:     settings.URL,
		headers: settings.Headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return channelWebhook }

// webhookBody is the outbound webhook payload.
type webhookBody struct {
	RuleName    string    `json:"rule_name"`
	DeviceID    uint      `json:"device_id"`
	Metric      string    `json:"metric"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status"`
	Value       float64   `json:"value"`
	Message     string    `json:"message"`
	Fingerprint string    `json:"fingerprint"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, event *alerting.AlertEvent, n *entities.Notification) error {
	body := webhookBody{Message: n.Message}
	if event != nil {
		body = webhookBody{
			RuleName:    event.RuleName,
			DeviceID:    event.DeviceID,
			Metric:      event.Metric,
			Severity:    event.Severity,
			Status:      event.Status,
			Value:       event.Value,
			Message:     event.Message,
			Fingerprint: event.Fingerprint,
			TriggeredAt: event.TriggeredAt,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryDelivery).
			Context("channel", "webhook").
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("webhook returned %d", resp.StatusCode).
			Component("notification").
			Category(errors.CategoryDelivery).
			Context("channel", "webhook").
			Context("status_code", resp.StatusCode).
			Build()
	}
	return nil
}

// ChannelsFromConfig builds the enabled external channels.
func ChannelsFromConfig(settings *conf.NotificationSettings) ([]Channel, error) {
	var channels []Channel
	if settings.Telegram.Enabled {
		ch, err := NewTelegramChannel(&settings.Telegram)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if settings.Email.Enabled {
		ch, err := NewEmailChannel(&settings.Email)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if settings.Webhook.Enabled {
		channels = append(channels, NewWebhookChannel(&settings.Webhook))
	}
	return channels, nil
}
