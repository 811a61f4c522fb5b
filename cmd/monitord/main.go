// monitord discovers fleet agents on local subnets, polls their status,
// evaluates alert rules against collected metrics, and delivers alert
// notifications across the configured channels.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nitrinonet/monitord/internal/alerting"
	"github.com/nitrinonet/monitord/internal/api"
	"github.com/nitrinonet/monitord/internal/conf"
	"github.com/nitrinonet/monitord/internal/datastore"
	"github.com/nitrinonet/monitord/internal/datastore/repository"
	"github.com/nitrinonet/monitord/internal/logger"
	"github.com/nitrinonet/monitord/internal/notification"
	"github.com/nitrinonet/monitord/internal/observability/metrics"
	"github.com/nitrinonet/monitord/internal/poller"
	"github.com/nitrinonet/monitord/internal/scanner"
	"github.com/nitrinonet/monitord/internal/sysmon"
)

const shutdownTimeout = 10 * time.Second

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "monitord",
		Short:        "Fleet device discovery, monitoring, and alerting daemon",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	settings, err := conf.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.NewSlogLogger(os.Stdout, logger.ParseLevel(settings.Main.LogLevel), nil)
	log.Info("monitord starting", logger.String("version", version))

	db, err := datastore.Open(&settings.Database)
	if err != nil {
		return err
	}

	deviceRepo := repository.NewDeviceRepository(db)
	ruleRepo := repository.NewAlertRuleRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	scanJobRepo := repository.NewScanJobRepository(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Notification pipeline: service for persistence and in-app feeds,
	// dispatcher for external channel delivery.
	service := notification.NewService(notifRepo, log)
	notification.Initialize(service)
	service.StartCleanup(time.Duration(settings.Alerting.HistoryRetentionDays) * 24 * time.Hour)

	channels, err := notification.ChannelsFromConfig(&settings.Notification)
	if err != nil {
		return err
	}
	dispatcher := notification.NewDispatcher(service, notifRepo, channels, settings.Notification, m, log)

	// Alerting: snapshot bus feeds the rule engine, which emits
	// transition events into the dispatcher.
	bus := alerting.NewSnapshotBus()
	engine, err := alerting.Initialize(ruleRepo, bus, dispatcher, m, log)
	if err != nil {
		return err
	}

	// Discovery and liveness.
	sc := scanner.New(settings.Scanner, m, log)
	jobs := scanner.NewJobRunner(sc, scanJobRepo, deviceRepo, log)

	prober := scanner.NewHandshakeClient(settings.Scanner.HandshakeKey, settings.Poller.QueryTimeout.Std())
	var relocator poller.Relocator
	if settings.Poller.RelocateOnOffline {
		relocator = sc
	}
	p := poller.New(deviceRepo, prober, relocator, bus, settings.Poller, settings.Scanner.AgentPort, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p.Start(ctx)

	var collector *sysmon.Collector
	if settings.Sysmon.Enabled {
		collector = sysmon.New(bus, settings.Sysmon.Interval.Std(), log)
		collector.Start(ctx)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.New(e, &api.Deps{
		Settings:      settings,
		Devices:       deviceRepo,
		AlertRules:    ruleRepo,
		ScanJobs:      scanJobRepo,
		Notifications: service,
		Scanner:       sc,
		Jobs:          jobs,
		AlertEngine:   engine,
		Bridge:        alerting.NewWebhookBridge(dispatcher, log),
		Registry:      registry,
		Log:           log,
	})

	addr := fmt.Sprintf(":%d", settings.WebServer.Port)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", logger.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	// Stop producers first so the bus drains, then flush deliveries.
	p.Stop()
	if collector != nil {
		collector.Stop()
	}
	jobs.Stop()
	bus.Stop()
	dispatcher.Wait()
	engine.Stop()
	service.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful http shutdown failed", logger.Error(err))
	}

	log.Info("monitord stopped")
	return nil
}
