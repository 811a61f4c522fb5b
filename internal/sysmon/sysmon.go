// Package sysmon samples the controller host's own resource usage and
// feeds it into the alerting pipeline as system.* snapshots.
package sysmon

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/logger"
)

const sampleTimeout = 10 * time.Second

// diskPath is the mount point whose usage is reported.
const diskPath = "/"

// Sampler reads one round of host metrics. Separated from the collector
// loop so tests can substitute readings.
type Sampler interface {
	Sample(ctx context.Context) (Reading, error)
}

// Reading is one round of host resource percentages.
type Reading struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// gopsutilSampler reads real host metrics.
type gopsutilSampler struct{}

func (gopsutilSampler) Sample(ctx context.Context) (Reading, error) {
	var r Reading

	// A zero interval compares against the previous call instead of
	// blocking; the collector's cadence provides the window.
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return r, err
	}
	if len(cpuPercents) > 0 {
		r.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return r, err
	}
	r.MemoryPercent = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return r, err
	}
	r.DiskPercent = du.UsedPercent

	return r, nil
}

// Collector periodically samples host metrics and publishes them as
// snapshots with device ID 0.
type Collector struct {
	sampler  Sampler
	bus      *alerting.SnapshotBus
	log      logger.Logger
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a Collector using real host metrics.
func New(bus *alerting.SnapshotBus, interval time.Duration, log logger.Logger) *Collector {
	return NewWithSampler(gopsutilSampler{}, bus, interval, log)
}

// NewWithSampler creates a Collector with a custom sampler. Tests use this.
func NewWithSampler(sampler Sampler, bus *alerting.SnapshotBus, interval time.Duration, log logger.Logger) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Collector{
		sampler:  sampler,
		bus:      bus,
		log:      log,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sampling loop until Stop is called or ctx is cancelled.
// The first sample runs immediately.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.CollectOnce(ctx)
		for {
			select {
			case <-ticker.C:
				c.CollectOnce(ctx)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sampling loop and waits for it to exit.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.done
}

// CollectOnce samples host metrics once and publishes the snapshots.
func (c *Collector) CollectOnce(ctx context.Context) {
	sampleCtx, cancel := context.WithTimeout(ctx, sampleTimeout)
	defer cancel()

	reading, err := c.sampler.Sample(sampleCtx)
	if err != nil {
		c.log.Error("sampling host metrics", logger.Error(err))
		return
	}

	now := time.Now()
	c.publish(alerting.MetricCPUUsage, reading.CPUPercent, now)
	c.publish(alerting.MetricMemoryUsage, reading.MemoryPercent, now)
	c.publish(alerting.MetricDiskUsage, reading.DiskPercent, now)
}

func (c *Collector) publish(metric string, value float64, ts time.Time) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(&alerting.Snapshot{
		Metric:    metric,
		Value:     value,
		Timestamp: ts,
	})
}
