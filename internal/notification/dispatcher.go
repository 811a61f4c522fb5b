package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/logger"
	"github.com/nitrinonet/monitord/internal/observability/metrics"
)

const deliveryTimeout = 30 * time.Second

// Dispatcher turns alert events into notifications: it persists an
// in-app notification through the Service and fans delivery out to the
// external channels with retry, dedup, and per-device rate limiting.
// It implements alerting.Acceptor.
type Dispatcher struct {
	service  *Service
	repo     repository.NotificationRepository
	channels []Channel
	metrics  *metrics.Metrics
	log      logger.Logger
	settings conf.NotificationSettings

	// delivered tracks the last delivered status per fingerprint so a
	// repeat of the same state never notifies twice, no matter how much
	// time passed between the events.
	delivered   map[string]string
	deliveredMu sync.Mutex

	// dedup damps flapping: a (fingerprint, status) pair that already
	// delivered inside the window is not re-delivered even after an
	// intervening transition.
	dedup *cache.Cache

	// limiters caps notifications per device per hour.
	limiters   map[uint]*rate.Limiter
	limitersMu sync.Mutex

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher delivering through the given channels.
func NewDispatcher(
	service *Service,
	repo repository.NotificationRepository,
	channels []Channel,
	settings conf.NotificationSettings,
	m *metrics.Metrics,
	log logger.Logger,
) *Dispatcher {
	window := settings.DedupWindow.Std()
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Dispatcher{
		service:   service,
		repo:      repo,
		channels:  channels,
		metrics:   m,
		log:       log,
		settings:  settings,
		delivered: make(map[string]string),
		dedup:     cache.New(window, 2*window),
		limiters:  make(map[uint]*rate.Limiter),
	}
}

// Accept implements alerting.Acceptor. It never blocks the caller on
// channel delivery; external sends run in their own goroutines.
func (d *Dispatcher) Accept(event *alerting.AlertEvent) {
	if !d.isTransition(event) {
		d.log.Debug("alert state already delivered",
			logger.String("fingerprint", event.Fingerprint),
			logger.String("status", event.Status))
		return
	}

	dedupKey := fmt.Sprintf("%s|%s", event.Fingerprint, event.Status)
	if _, dup := d.dedup.Get(dedupKey); dup {
		d.log.Debug("flapping alert damped",
			logger.String("fingerprint", event.Fingerprint),
			logger.String("status", event.Status))
		return
	}

	if !d.allow(event.DeviceID) {
		d.log.Warn("device notification rate limit hit",
			logger.Uint64("device_id", uint64(event.DeviceID)),
			logger.String("rule", event.RuleName))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	n, err := d.service.Create(ctx, entities.NotificationTypeAlert, event.Severity, title(event), event.Message)
	if err != nil {
		// Nothing is marked delivered: the next event for this
		// transition goes through cleanly instead of being swallowed.
		d.log.Error("persisting alert notification",
			logger.String("rule", event.RuleName),
			logger.Error(err))
		return
	}

	d.markDelivered(event.Fingerprint, event.Status, dedupKey)

	for _, ch := range d.channelsFor(event.Severity) {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(ch, event, n)
		}()
	}
}

// isTransition reports whether the event changes the fingerprint's last
// delivered status. The first event for a fingerprint always counts.
func (d *Dispatcher) isTransition(event *alerting.AlertEvent) bool {
	d.deliveredMu.Lock()
	defer d.deliveredMu.Unlock()
	return d.delivered[event.Fingerprint] != event.Status
}

func (d *Dispatcher) markDelivered(fingerprint, status, dedupKey string) {
	d.deliveredMu.Lock()
	d.delivered[fingerprint] = status
	d.deliveredMu.Unlock()
	d.dedup.SetDefault(dedupKey, struct{}{})
}

// channelsFor resolves the external fan-out for a severity: critical
// reaches every configured channel, warning all but email, info stays
// in-app.
func (d *Dispatcher) channelsFor(severity string) []Channel {
	switch severity {
	case alerting.SeverityCritical:
		return d.channels
	case alerting.SeverityWarning:
		out := make([]Channel, 0, len(d.channels))
		for _, ch := range d.channels {
			if ch.Name() == channelEmail {
				continue
			}
			out = append(out, ch)
		}
		return out
	default:
		return nil
	}
}

// Wait blocks until all in-flight deliveries finish. Called on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func title(event *alerting.AlertEvent) string {
	if event.Status == alerting.StatusResolved {
		return fmt.Sprintf("Resolved: %s", event.RuleName)
	}
	return event.RuleName
}

// allow consults the per-device hourly limiter. Device 0 (system scope)
// is never limited.
func (d *Dispatcher) allow(deviceID uint) bool {
	if deviceID == 0 {
		return true
	}
	perHour := d.settings.MaxPerDevicePerHour
	if perHour <= 0 {
		return true
	}

	d.limitersMu.Lock()
	limiter, ok := d.limiters[deviceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour)
		d.limiters[deviceID] = limiter
	}
	d.limitersMu.Unlock()

	return limiter.Allow()
}

// deliver attempts one channel with bounded retries and exponential
// backoff, recording the outcome after every attempt.
func (d *Dispatcher) deliver(ch Channel, event *alerting.AlertEvent, n *entities.Notification) {
	maxAttempts := d.settings.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := d.settings.RetryBackoff.Std()
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	result := &entities.ChannelResult{
		NotificationID: n.ID,
		Channel:        ch.Name(),
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := ch.Send(ctx, event, n)
		cancel()

		result.Attempts = attempt
		if err == nil {
			result.Outcome = entities.OutcomeSent
			result.LastError = ""
			d.saveResult(result)
			d.metrics.ObserveNotification(ch.Name(), entities.OutcomeSent)
			return
		}

		result.LastError = err.Error()
		if attempt < maxAttempts {
			result.Outcome = entities.OutcomeRetrying
			d.saveResult(result)
			d.log.Warn("notification delivery failed, retrying",
				logger.String("channel", ch.Name()),
				logger.Int("attempt", attempt),
				logger.Error(err))
			time.Sleep(backoff)
			backoff *= 2
			continue
		}

		result.Outcome = entities.OutcomeFailed
		d.saveResult(result)
		d.metrics.ObserveNotification(ch.Name(), entities.OutcomeFailed)
		d.log.Error("notification delivery failed permanently",
			logger.String("channel", ch.Name()),
			logger.Int("attempts", attempt),
			logger.Error(err))
	}
}

func (d *Dispatcher) saveResult(result *entities.ChannelResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.repo.SaveChannelResult(ctx, result); err != nil {
		d.log.Error("saving channel delivery result",
			logger.String("channel", result.Channel),
			logger.Error(err))
	}
}
