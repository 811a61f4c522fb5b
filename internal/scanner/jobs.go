package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/logger"
	"github.com/nitrinonet/monitord/internal/notification"
)

// progressFlushInterval bounds how often sweep progress is persisted.
// Per-probe writes on a /24 would be 254 updates for one sweep.
const progressFlushInterval = 2 * time.Second

// JobRunner executes subnet sweeps asynchronously and records their
// lifecycle as ScanJob rows. Discovered agents are reconciled into the
// device repository: a known agent key updates the device's address, an
// unknown one creates a new device.
type JobRunner struct {
	scanner *Scanner
	jobs    repository.ScanJobRepository
	devices repository.DeviceRepository
	log     logger.Logger

	flushInterval time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobRunner creates a JobRunner.
func NewJobRunner(scanner *Scanner, jobs repository.ScanJobRepository, devices repository.DeviceRepository, log logger.Logger) *JobRunner {
	return &JobRunner{
		scanner:       scanner,
		jobs:          jobs,
		devices:       devices,
		log:           log,
		flushInterval: progressFlushInterval,
		running:       make(map[string]context.CancelFunc),
	}
}

// Start registers a new scan job and launches the sweep in the
// background. The returned job is already persisted in pending state.
func (r *JobRunner) Start(ctx context.Context, subnet string) (*entities.ScanJob, error) {
	job := &entities.ScanJob{
		ID:        uuid.NewString(),
		Subnet:    subnet,
		Status:    entities.ScanStatusPending,
		StartedAt: time.Now(),
	}
	if err := r.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.running[job.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, job.ID)
			r.mu.Unlock()
			cancel()
		}()
		r.run(runCtx, job)
	}()

	return job, nil
}

// Cancel requests cooperative cancellation of a running job. It returns
// false when the job is not currently running.
func (r *JobRunner) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.running[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Stop cancels all running jobs and waits for their goroutines.
func (r *JobRunner) Stop() {
	r.mu.Lock()
	for _, cancel := range r.running {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *JobRunner) run(ctx context.Context, job *entities.ScanJob) {
	job.Status = entities.ScanStatusRunning
	r.persist(job)

	// Probe goroutines only bump counters; persistence happens on this
	// ticker so no probe ever waits on the database.
	var probed, total atomic.Int64
	flushStop := make(chan struct{})
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		ticker := time.NewTicker(r.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-flushStop:
				return
			case <-ticker.C:
				job.Progress = int(probed.Load())
				job.Total = int(total.Load())
				r.persist(job)
			}
		}
	}()

	// Each callback is one completed probe; counting locally keeps the
	// figure monotonic even when callbacks arrive out of order.
	agents, err := r.scanner.Scan(ctx, Options{
		Subnet: job.Subnet,
		OnProgress: func(_, t int) {
			probed.Add(1)
			total.Store(int64(t))
		},
	})

	close(flushStop)
	<-flushDone
	job.Progress = int(probed.Load())
	job.Total = int(total.Load())

	now := time.Now()
	job.FinishedAt = &now
	job.Found = len(agents)

	switch {
	case ctx.Err() != nil:
		job.Status = entities.ScanStatusCancelled
	case err != nil:
		job.Status = entities.ScanStatusFailed
		job.Error = err.Error()
	default:
		job.Status = entities.ScanStatusCompleted
	}

	// Partial results are still reconciled: a cancelled sweep may have
	// found agents before the cancellation point.
	r.reconcile(agents)
	r.persist(job)

	r.log.Info("scan job finished",
		logger.String("job_id", job.ID),
		logger.String("status", job.Status),
		logger.Int("found", job.Found))
}

// reconcile folds discovered agents into the device repository. Devices
// absent from the sweep are left alone; liveness demotion is the
// poller's job, never the scanner's.
func (r *JobRunner) reconcile(agents []DiscoveredAgent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := range agents {
		agent := &agents[i]
		device, err := r.devices.GetDeviceByAgentKey(ctx, agent.AgentKey)
		switch {
		case err == nil:
			if device.IPAddress != agent.IPAddress {
				if err := r.devices.UpdateIPAddress(ctx, device.ID, agent.IPAddress); err != nil {
					r.log.Error("failed to update device address",
						logger.Uint64("device_id", uint64(device.ID)), logger.Error(err))
					continue
				}
				r.log.Info("device address updated from sweep",
					logger.Uint64("device_id", uint64(device.ID)),
					logger.String("old_ip", device.IPAddress),
					logger.String("new_ip", agent.IPAddress))
			}
			seen := agent.RespondedAt
			if err := r.devices.UpdateStatus(ctx, device.ID, entities.DeviceStatusOnline, &seen); err != nil {
				r.log.Error("failed to update device status",
					logger.Uint64("device_id", uint64(device.ID)), logger.Error(err))
			}
		case errors.Is(err, repository.ErrDeviceNotFound):
			seen := agent.RespondedAt
			device := &entities.Device{
				AgentKey:   agent.AgentKey,
				Name:       agent.AgentKey,
				IPAddress:  agent.IPAddress,
				Status:     entities.DeviceStatusOnline,
				LastSeenAt: &seen,
			}
			if err := r.devices.CreateDevice(ctx, device); err != nil {
				r.log.Error("failed to register discovered device",
					logger.String("agent_key", agent.AgentKey), logger.Error(err))
				continue
			}
			r.log.Info("new device registered from sweep",
				logger.Uint64("device_id", uint64(device.ID)),
				logger.String("ip", agent.IPAddress))
			r.announce(ctx, device)
		default:
			r.log.Error("device lookup failed during reconcile",
				logger.String("agent_key", agent.AgentKey), logger.Error(err))
		}
	}
}

// announce posts an in-app notification for a newly registered device.
// Deep call site, so it goes through the global service accessor; a nil
// service (tests, early startup) is a no-op.
func (r *JobRunner) announce(ctx context.Context, device *entities.Device) {
	svc := notification.GetService()
	if svc == nil {
		return
	}
	message := fmt.Sprintf("Agent %s registered at %s", device.AgentKey, device.IPAddress)
	if _, err := svc.Create(ctx, entities.NotificationTypeDevice, alerting.SeverityInfo,
		"New device discovered", message); err != nil {
		r.log.Error("failed to announce discovered device",
			logger.Uint64("device_id", uint64(device.ID)), logger.Error(err))
	}
}

func (r *JobRunner) persist(job *entities.ScanJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.jobs.UpdateJob(ctx, job); err != nil {
		r.log.Error("failed to persist scan job",
			logger.String("job_id", job.ID), logger.Error(err))
	}
}
