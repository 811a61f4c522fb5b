// Package poller periodically probes every registered device and keeps
// its status current. Each poll cycle publishes a device.online snapshot
// per device so offline detection flows through the same rule pipeline
// as every other alert.
package poller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/logger"
	"github.com/nitrinonet/monitord/internal/observability/metrics"
	"github.com/nitrinonet/monitord/internal/scanner"
)

// Prober confirms a single address hosts a live agent.
type Prober interface {
	Handshake(ctx context.Context, ip string, port int) (*scanner.AgentIdentity, error)
}

// Relocator finds an agent's new address after DHCP churn.
type Relocator interface {
	FindAgentNewIP(ctx context.Context, agentKey string) (string, bool, error)
}

const (
	onlineValue  = 1
	offlineValue = 0
)

// Poller drives periodic device status checks. A device is marked
// offline only after OfflineThreshold consecutive failed probes, so a
// single dropped packet never flips status.
type Poller struct {
	devices   repository.DeviceRepository
	prober    Prober
	relocator Relocator // nil disables IP relocation
	bus       *alerting.SnapshotBus
	metrics   *metrics.Metrics
	log       logger.Logger

	settings  conf.PollerSettings
	agentPort int

	// Consecutive probe failures per device, reset on success.
	failures   map[uint]int
	failuresMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a Poller. relocator may be nil to disable offline IP
// relocation regardless of configuration.
func New(
	devices repository.DeviceRepository,
	prober Prober,
	relocator Relocator,
	bus *alerting.SnapshotBus,
	settings conf.PollerSettings,
	agentPort int,
	m *metrics.Metrics,
	log logger.Logger,
) *Poller {
	return &Poller{
		devices:   devices,
		prober:    prober,
		relocator: relocator,
		bus:       bus,
		metrics:   m,
		log:       log,
		settings:  settings,
		agentPort: agentPort,
		failures:  make(map[uint]int),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs poll cycles at the configured interval until Stop is called
// or ctx is cancelled. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		interval := p.settings.Interval.Std()
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		p.PollOnce(ctx)
		for {
			select {
			case <-ticker.C:
				p.PollOnce(ctx)
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the poll loop and waits for the in-flight cycle to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.done
}

// PollOnce probes every registered device under the concurrency bound.
func (p *Poller) PollOnce(ctx context.Context) {
	devices, err := p.devices.ListDevices(ctx, repository.DeviceFilter{})
	if err != nil {
		p.log.Error("listing devices for poll cycle", logger.Error(err))
		return
	}
	if len(devices) == 0 {
		return
	}

	concurrency := p.settings.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	for i := range devices {
		device := devices[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break // context cancelled mid-cycle
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			p.pollDevice(ctx, &device)
		}()
	}
	wg.Wait()

	p.metrics.ObservePollCycle()
	p.publishStats(ctx)
}

func (p *Poller) pollDevice(ctx context.Context, device *entities.Device) {
	timeout := p.settings.QueryTimeout.Std()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	identity, err := p.prober.Handshake(probeCtx, device.IPAddress, p.agentPort)
	if err == nil && identity.AgentKey == device.AgentKey {
		p.markOnline(ctx, device)
		return
	}
	if err == nil {
		// An agent answered on this address but it is a different one;
		// the stored IP is stale.
		p.log.Warn("agent key mismatch at known address",
			logger.Uint64("device_id", uint64(device.ID)),
			logger.String("ip", device.IPAddress),
			logger.String("expected", device.AgentKey),
			logger.String("actual", identity.AgentKey))
	}

	p.markFailure(ctx, device)
}

func (p *Poller) markOnline(ctx context.Context, device *entities.Device) {
	p.failuresMu.Lock()
	delete(p.failures, device.ID)
	p.failuresMu.Unlock()

	now := time.Now()
	if err := p.devices.UpdateStatus(ctx, device.ID, entities.DeviceStatusOnline, &now); err != nil {
		p.log.Error("updating device status",
			logger.Uint64("device_id", uint64(device.ID)),
			logger.Error(err))
	}
	p.publishOnline(device.ID, onlineValue)
}

func (p *Poller) markFailure(ctx context.Context, device *entities.Device) {
	threshold := p.settings.OfflineThreshold
	if threshold <= 0 {
		threshold = 3
	}

	p.failuresMu.Lock()
	p.failures[device.ID]++
	count := p.failures[device.ID]
	p.failuresMu.Unlock()

	if count < threshold {
		p.log.Debug("device probe failed, under offline threshold",
			logger.Uint64("device_id", uint64(device.ID)),
			logger.Int("failures", count),
			logger.Int("threshold", threshold))
		// Still treated as online until the threshold is crossed.
		p.publishOnline(device.ID, onlineValue)
		return
	}

	if p.settings.RelocateOnOffline && p.relocator != nil {
		if p.relocate(ctx, device) {
			return
		}
	}

	if device.Status != entities.DeviceStatusOffline {
		if err := p.devices.UpdateStatus(ctx, device.ID, entities.DeviceStatusOffline, nil); err != nil {
			p.log.Error("updating device status",
				logger.Uint64("device_id", uint64(device.ID)),
				logger.Error(err))
		}
		p.log.Warn("device offline",
			logger.Uint64("device_id", uint64(device.ID)),
			logger.String("agent_key", device.AgentKey),
			logger.Int("failures", count))
	}
	p.publishOnline(device.ID, offlineValue)
}

// relocate sweeps the subnet for the device's agent key and, if found at
// a new address, updates the stored IP and marks the device online.
func (p *Poller) relocate(ctx context.Context, device *entities.Device) bool {
	newIP, found, err := p.relocator.FindAgentNewIP(ctx, device.AgentKey)
	if err != nil {
		p.log.Error("relocation scan failed",
			logger.Uint64("device_id", uint64(device.ID)),
			logger.Error(err))
		return false
	}
	if !found {
		return false
	}

	if err := p.devices.UpdateIPAddress(ctx, device.ID, newIP); err != nil {
		p.log.Error("updating relocated device address",
			logger.Uint64("device_id", uint64(device.ID)),
			logger.Error(err))
		return false
	}
	p.log.Info("device relocated",
		logger.Uint64("device_id", uint64(device.ID)),
		logger.String("old_ip", device.IPAddress),
		logger.String("new_ip", newIP))

	device.IPAddress = newIP
	p.markOnline(ctx, device)
	return true
}

func (p *Poller) publishOnline(deviceID uint, value float64) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(&alerting.Snapshot{
		DeviceID:  deviceID,
		Metric:    alerting.MetricDeviceOnline,
		Value:     value,
		Timestamp: time.Now(),
	})
}

// publishStats refreshes the per-status device gauges after each cycle.
func (p *Poller) publishStats(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	stats, err := p.devices.GetStats(ctx)
	if err != nil {
		p.log.Error("reading device stats", logger.Error(err))
		return
	}
	p.metrics.SetDeviceStatus(entities.DeviceStatusOnline, float64(stats.Online))
	p.metrics.SetDeviceStatus(entities.DeviceStatusOffline, float64(stats.Offline))
	p.metrics.SetDeviceStatus(entities.DeviceStatusUnknown, float64(stats.Unknown))
	p.metrics.SetDeviceStatus(entities.DeviceStatusError, float64(stats.Error))
}
