package alerting

import (
	"context"

	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/logger"
	"github.com/nitrinonet/monitord/internal/observability/metrics"
)

// Initialize creates and starts the alerting engine.
// It seeds default rules if missing, creates the engine with the given
// acceptor, subscribes to the snapshot bus, and loads rules.
func Initialize(
	repo repository.AlertRuleRepository,
	bus *SnapshotBus,
	acceptor Acceptor,
	m *metrics.Metrics,
	log logger.Logger,
) (*Engine, error) {
	ctx := context.Background()

	// Seed default rules if the table is empty
	if err := seedDefaultRules(ctx, repo, log); err != nil {
		return nil, err
	}

	engine := NewEngine(repo, acceptor, m, log)

	// Load rules from database
	if err := engine.RefreshRules(ctx); err != nil {
		return nil, err
	}

	// Subscribe engine to the snapshot bus and set global singleton
	bus.Subscribe(engine.HandleSnapshot)
	SetGlobalBus(bus)

	// Start periodic history cleanup based on configured retention
	if settings := conf.GetSettings(); settings != nil {
		engine.StartHistoryCleanup(settings.Alerting.HistoryRetentionDays)
	}

	log.Info("alerting engine initialized",
		logger.Int("rules_loaded", len(engine.rules)))

	return engine, nil
}

// seedDefaultRules ensures all built-in default rules exist. It checks by name
// so partial seeds from previous runs self-heal on restart.
func seedDefaultRules(ctx context.Context, repo repository.AlertRuleRepository, log logger.Logger) error {
	existing, err := repo.ListRules(ctx, repository.AlertRuleFilter{})
	if err != nil {
		return err
	}

	// Build set of existing rule names for fast lookup
	existingNames := make(map[string]struct{}, len(existing))
	for i := range existing {
		existingNames[existing[i].Name] = struct{}{}
	}

	defaults := DefaultRules()
	var created int
	for i := range defaults {
		if _, exists := existingNames[defaults[i].Name]; exists {
			continue
		}
		if err := repo.CreateRule(ctx, &defaults[i]); err != nil {
			return err
		}
		created++
	}
	if created > 0 {
		log.Info("seeded default alert rules", logger.Int("created", created))
	}
	return nil
}
