package alerting

import (
	"sync"
	"time"
)

// Snapshot is a single observed metric value for a device. The poller
// publishes device.online snapshots; the system monitor publishes
// system.* snapshots with DeviceID 0.
type Snapshot struct {
	DeviceID  uint
	Metric    string
	Value     float64
	Timestamp time.Time
}

// AlertEvent is an alert state transition produced by the engine.
type AlertEvent struct {
	RuleID      uint
	DeviceID    uint
	RuleName    string
	Metric      string
	Severity    string
	Status      string // StatusFiring or StatusResolved
	Value       float64
	Message     string
	Fingerprint string
	TriggeredAt time.Time
}

// Acceptor consumes alert events. The notification dispatcher implements
// this; so does the alertmanager bridge's persistence sink.
type Acceptor interface {
	Accept(event *AlertEvent)
}

// SnapshotHandler processes metric snapshots.
type SnapshotHandler func(snap *Snapshot)

// Package-level singleton for the snapshot bus.
var (
	globalSnapshotBus *SnapshotBus
	snapshotBusMu     sync.RWMutex
)

// SetGlobalBus sets the package-level snapshot bus singleton.
// Called during initialization.
func SetGlobalBus(bus *SnapshotBus) {
	snapshotBusMu.Lock()
	defer snapshotBusMu.Unlock()
	globalSnapshotBus = bus
}

// GetGlobalBus returns the package-level snapshot bus, or nil if not initialized.
func GetGlobalBus() *SnapshotBus {
	snapshotBusMu.RLock()
	defer snapshotBusMu.RUnlock()
	return globalSnapshotBus
}

// TryPublish publishes a snapshot to the global bus if initialized.
// Returns false if the bus is not yet available.
func TryPublish(snap *Snapshot) bool {
	bus := GetGlobalBus()
	if bus == nil {
		return false
	}
	bus.Publish(snap)
	return true
}

const (
	// snapshotBusBufferSize is the capacity of the async snapshot channel.
	// Snapshots are dropped if the buffer is full to avoid blocking callers.
	snapshotBusBufferSize = 1000
)

// SnapshotBus is an async pub/sub for metric snapshots. Publish is
// non-blocking: snapshots are sent to a buffered channel and processed by a
// worker goroutine, so callers (the poller, the system monitor) are never
// blocked by rule evaluation or DB writes.
type SnapshotBus struct {
	handlers []SnapshotHandler
	mu       sync.RWMutex
	snapCh   chan *Snapshot
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSnapshotBus creates a new snapshot bus and starts its worker.
func NewSnapshotBus() *SnapshotBus {
	b := &SnapshotBus{
		handlers: make([]SnapshotHandler, 0),
		snapCh:   make(chan *Snapshot, snapshotBusBufferSize),
		stopCh:   make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler for snapshots.
func (b *SnapshotBus) Subscribe(handler SnapshotHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues a snapshot for async processing. Non-blocking: if the
// buffer is full the snapshot is dropped to protect callers on hot paths.
// Snapshots are silently dropped after Stop() has been called.
func (b *SnapshotBus) Publish(snap *Snapshot) {
	select {
	case <-b.stopCh:
		return // Bus is stopped, discard snapshot
	default:
	}

	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}

	select {
	case b.snapCh <- snap:
	default:
		// Buffer full — drop snapshot to avoid blocking callers
	}
}

// Stop shuts down the worker goroutine. Safe to call multiple times.
func (b *SnapshotBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// processLoop drains the snapshot channel and dispatches to handlers.
func (b *SnapshotBus) processLoop() {
	for {
		select {
		case snap := <-b.snapCh:
			b.dispatch(snap)
		case <-b.stopCh:
			// Drain remaining snapshots before exiting
			for {
				select {
				case snap := <-b.snapCh:
					b.dispatch(snap)
				default:
					return
				}
			}
		}
	}
}

func (b *SnapshotBus) dispatch(snap *Snapshot) {
	b.mu.RLock()
	handlers := make([]SnapshotHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, snap)
	}
}

// safeCall invokes a handler with panic recovery so a panicking handler
// cannot kill the bus goroutine.
func (b *SnapshotBus) safeCall(handler SnapshotHandler, snap *Snapshot) {
	defer func() {
		// Swallow panics to keep the bus alive. There is no logger
		// available at this level; the handler should do its own logging.
		recover() //nolint:errcheck // intentionally swallowed to keep bus alive
	}()
	handler(snap)
}
