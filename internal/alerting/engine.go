package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nitrinonet/monitord/internal/datastore/entities"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/logger"
	"github.com/nitrinonet/monitord/internal/observability/metrics"
)

const (
	// saveHistoryTimeout is the context deadline for persisting alert history.
	saveHistoryTimeout = 3 * time.Second
	// cleanupTimeout is the context deadline for the periodic history deletion.
	cleanupTimeout = 5 * time.Second
	// cleanupInterval is how often the history cleanup goroutine runs.
	cleanupInterval = 1 * time.Hour
)

// stateKey identifies one (rule, device) evaluation stream. System-scoped
// rules use device ID 0.
type stateKey struct {
	ruleID   uint
	deviceID uint
}

// ruleState tracks the duration gate and firing status for one (rule, device)
// pair. conditionSince is zero while the condition is unmet; once set, it
// marks when the condition first became true in the current streak.
type ruleState struct {
	mu             sync.Mutex
	conditionSince time.Time
	firing         bool
	lastFired      time.Time
}

// Engine evaluates metric snapshots against configured rules and emits an
// AlertEvent once per state transition: FIRING when a rule's condition has
// held for its configured duration, RESOLVED when it stops holding while the
// alert is active. Repeated evaluations in the same state emit nothing.
type Engine struct {
	repo     repository.AlertRuleRepository
	acceptor Acceptor
	metrics  *metrics.Metrics
	log      logger.Logger

	// Cached enabled rules (refreshed on startup and rule changes)
	rules   []entities.AlertRule
	rulesMu sync.RWMutex

	// Per-(rule, device) evaluation state (in-memory, resets on restart)
	states   map[stateKey]*ruleState
	statesMu sync.Mutex

	// History cleanup
	cleanupStop chan struct{}
}

// NewEngine creates a new alerting rules engine. Emitted alert events are
// handed to acceptor; metrics may be nil.
func NewEngine(repo repository.AlertRuleRepository, acceptor Acceptor, m *metrics.Metrics, log logger.Logger) *Engine {
	return &Engine{
		repo:     repo,
		acceptor: acceptor,
		metrics:  m,
		log:      log,
		states:   make(map[stateKey]*ruleState),
	}
}

// RefreshRules reloads enabled rules from the database.
// Call this on startup and whenever rules are modified via API.
func (e *Engine) RefreshRules(ctx context.Context) error {
	rules, err := e.repo.GetEnabledRules(ctx)
	if err != nil {
		return err
	}
	enabled := make(map[uint]struct{}, len(rules))
	for i := range rules {
		enabled[rules[i].ID] = struct{}{}
	}

	e.rulesMu.Lock()
	e.rules = rules
	e.rulesMu.Unlock()

	// Drop evaluation state for rules that are no longer enabled. A
	// disabled rule must restart its streak from scratch when
	// re-enabled; holding the old firing flag would either suppress a
	// fresh FIRING or emit a phantom RESOLVED. Deleted rules are pruned
	// by the same pass.
	e.statesMu.Lock()
	for key := range e.states {
		if _, ok := enabled[key.ruleID]; !ok {
			delete(e.states, key)
		}
	}
	e.statesMu.Unlock()
	return nil
}

// HandleSnapshot evaluates a snapshot against all enabled rules whose metric
// matches. Designed as a SnapshotBus handler.
func (e *Engine) HandleSnapshot(snap *Snapshot) {
	e.rulesMu.RLock()
	rules := make([]entities.AlertRule, len(e.rules))
	copy(rules, e.rules)
	e.rulesMu.RUnlock()

	for i := range rules {
		rule := &rules[i]
		if rule.Metric != snap.Metric {
			continue
		}
		e.evaluate(rule, snap)
	}
}

// state returns the evaluation state for a (rule, device) pair, creating it
// on first use.
func (e *Engine) state(ruleID, deviceID uint) *ruleState {
	key := stateKey{ruleID: ruleID, deviceID: deviceID}
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	st, ok := e.states[key]
	if !ok {
		st = &ruleState{}
		e.states[key] = st
	}
	return st
}

func (e *Engine) evaluate(rule *entities.AlertRule, snap *Snapshot) {
	satisfied, err := Compare(rule.Operator, snap.Value, rule.Threshold)
	if err != nil {
		e.log.Error("rule evaluation failed",
			logger.Uint64("rule_id", uint64(rule.ID)),
			logger.String("metric", rule.Metric),
			logger.Error(err))
		return
	}

	st := e.state(rule.ID, snap.DeviceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !satisfied {
		st.conditionSince = time.Time{}
		if st.firing {
			st.firing = false
			e.emit(rule, snap, StatusResolved)
		}
		return
	}

	if st.firing {
		// Already firing; nothing to do until the condition clears.
		return
	}

	if st.conditionSince.IsZero() {
		st.conditionSince = snap.Timestamp
	}
	held := snap.Timestamp.Sub(st.conditionSince)
	if held < time.Duration(rule.DurationSec)*time.Second {
		return
	}

	// Cooldown suppresses the FIRING emission only; the streak keeps
	// accumulating and the rule fires on the first snapshot past cooldown.
	if rule.CooldownSec > 0 && !st.lastFired.IsZero() {
		if snap.Timestamp.Sub(st.lastFired) < time.Duration(rule.CooldownSec)*time.Second {
			e.log.Debug("alert suppressed by cooldown",
				logger.Uint64("rule_id", uint64(rule.ID)),
				logger.Uint64("device_id", uint64(snap.DeviceID)))
			return
		}
	}

	st.firing = true
	st.lastFired = snap.Timestamp
	e.emit(rule, snap, StatusFiring)
}

// emit persists an alert history row and hands the event to the acceptor.
func (e *Engine) emit(rule *entities.AlertRule, snap *Snapshot, status string) {
	event := &AlertEvent{
		RuleID:      rule.ID,
		DeviceID:    snap.DeviceID,
		RuleName:    rule.Name,
		Metric:      rule.Metric,
		Severity:    rule.Severity,
		Status:      status,
		Value:       snap.Value,
		Message:     buildMessage(rule, snap, status),
		Fingerprint: fmt.Sprintf("%d/%d/%s", rule.ID, snap.DeviceID, rule.Metric),
		TriggeredAt: snap.Timestamp,
	}

	history := &entities.AlertHistory{
		RuleID:   rule.ID,
		DeviceID: snap.DeviceID,
		Status:   status,
		Value:    snap.Value,
		FiredAt:  snap.Timestamp,
	}
	saveCtx, saveCancel := context.WithTimeout(context.Background(), saveHistoryTimeout)
	defer saveCancel()
	if err := e.repo.SaveHistory(saveCtx, history); err != nil {
		e.log.Error("failed to save alert history",
			logger.Uint64("rule_id", uint64(rule.ID)),
			logger.Error(err))
	}

	e.metrics.ObserveTransition(status)

	if e.acceptor != nil {
		e.acceptor.Accept(event)
	}
}

func buildMessage(rule *entities.AlertRule, snap *Snapshot, status string) string {
	if status == StatusResolved {
		return fmt.Sprintf("%s resolved: %s is %.2f", rule.Name, rule.Metric, snap.Value)
	}
	return fmt.Sprintf("%s: %s is %.2f (threshold %s %.2f)",
		rule.Name, rule.Metric, snap.Value, operatorSymbol(rule.Operator), rule.Threshold)
}

func operatorSymbol(op string) string {
	switch op {
	case OperatorGreaterThan:
		return ">"
	case OperatorLessThan:
		return "<"
	case OperatorGreaterOrEqual:
		return ">="
	case OperatorLessOrEqual:
		return "<="
	case OperatorEqual:
		return "=="
	case OperatorNotEqual:
		return "!="
	default:
		return op
	}
}

// TestFireRule emits a FIRING event for a rule directly, bypassing condition
// evaluation, duration gating and cooldown checks. Used by the test endpoint.
func (e *Engine) TestFireRule(rule *entities.AlertRule) {
	snap := &Snapshot{
		Metric:    rule.Metric,
		Value:     rule.Threshold,
		Timestamp: time.Now(),
	}
	e.emit(rule, snap, StatusFiring)
}

// ForgetDevice drops evaluation state for a device. Called when a device is
// deleted so a re-registered device starts with a clean streak.
func (e *Engine) ForgetDevice(deviceID uint) {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	for key := range e.states {
		if key.deviceID == deviceID {
			delete(e.states, key)
		}
	}
}

// StartHistoryCleanup starts a background goroutine that periodically deletes
// alert history entries older than retentionDays. A value of 0 disables cleanup.
func (e *Engine) StartHistoryCleanup(retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	// Stop any existing cleanup goroutine before starting a new one.
	e.stopCleanup()
	e.rulesMu.Lock()
	e.cleanupStop = make(chan struct{})
	stopCh := e.cleanupStop
	e.rulesMu.Unlock()
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retentionDays)
				cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), cleanupTimeout)
				deleted, err := e.repo.DeleteHistoryBefore(cleanupCtx, cutoff)
				cleanupCancel()
				if err != nil {
					e.log.Error("alert history cleanup failed", logger.Error(err))
				} else if deleted > 0 {
					e.log.Info("alert history cleanup completed",
						logger.Int64("deleted", deleted),
						logger.Int("retention_days", retentionDays))
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// stopCleanup signals the cleanup goroutine to exit. Uses rulesMu to make
// the nil-check-then-close atomic, preventing double-close panics when
// Stop() and StartHistoryCleanup() race.
func (e *Engine) stopCleanup() {
	e.rulesMu.Lock()
	ch := e.cleanupStop
	e.cleanupStop = nil
	e.rulesMu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Stop shuts down background goroutines (history cleanup).
func (e *Engine) Stop() {
	e.stopCleanup()
}
