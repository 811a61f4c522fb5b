package notification

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/errors"
)

func TestWebhookChannel_PostsEventJSON(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var received webhookBody
	var authHeader string
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/alerts",
		func(req *http.Request) (*http.Response, error) {
			authHeader = req.Header.Get("Authorization")
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	ch := NewWebhookChannel(&conf.WebhookSettings{
		URL:     "https://hooks.example.com/alerts",
		Headers: map[string]string{"Authorization": "Bearer token123"},
	})

	event := firingEvent(3)
	n := &entities.Notification{Title: "Device offline", Message: event.Message}
	require.NoError(t, ch.Send(t.Context(), event, n))

	assert.Equal(t, "Bearer token123", authHeader)
	assert.Equal(t, "Device offline", received.RuleName)
	assert.Equal(t, uint(3), received.DeviceID)
	assert.Equal(t, "firing", received.Status)
	assert.Equal(t, "device stopped responding", received.Message)
}

func TestWebhookChannel_Non2xxIsDeliveryError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/alerts",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	ch := NewWebhookChannel(&conf.WebhookSettings{URL: "https://hooks.example.com/alerts"})

	err := ch.Send(t.Context(), firingEvent(3), &entities.Notification{})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryDelivery, errors.CategoryOf(err))
}

func TestNewTelegramChannel_BuildsValidURL(t *testing.T) {
	ch, err := NewTelegramChannel(&conf.TelegramSettings{
		BotToken: "110201543:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw",
		ChatID:   "-100123456",
	})
	require.NoError(t, err)
	assert.Equal(t, "telegram", ch.Name())
}

func TestNewEmailChannel_BuildsValidURL(t *testing.T) {
	ch, err := NewEmailChannel(&conf.EmailSettings{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "monitord",
		Password: "secret",
		From:     "monitord@example.com",
		To:       []string{"ops@example.com", "oncall@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "email", ch.Name())
}

func TestChannelsFromConfig_OnlyEnabled(t *testing.T) {
	settings := &conf.NotificationSettings{
		Telegram: conf.TelegramSettings{Enabled: true, BotToken: "110201543:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", ChatID: "1"},
		Email:    conf.EmailSettings{Enabled: false},
		Webhook:  conf.WebhookSettings{Enabled: true, URL: "https://hooks.example.com/alerts"},
	}

	channels, err := ChannelsFromConfig(settings)
	require.NoError(t, err)
	require.Len(t, channels, 2)

	names := []string{channels[0].Name(), channels[1].Name()}
	assert.ElementsMatch(t, []string{"telegram", "webhook"}, names)
}

func TestChannelsFromConfig_NoneEnabled(t *testing.T) {
	channels, err := ChannelsFromConfig(&conf.NotificationSettings{})
	require.NoError(t, err)
	assert.Empty(t, channels)
}
