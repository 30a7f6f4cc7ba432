// Command masterd runs the Master Orchestrator: Journal, HealthMonitor,
// AgentRegistry, NodeActionDispatcher, LogForwarder, and
// MasterActionCoordinator behind an HTTP surface, wired the way the
// teacher's cmd/main.go assembles internal/app.App.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/masterctl/internal/config"
	"github.com/yungbote/masterctl/internal/dispatch"
	"github.com/yungbote/masterctl/internal/health"
	"github.com/yungbote/masterctl/internal/httpapi"
	"github.com/yungbote/masterctl/internal/httpapi/handlers"
	"github.com/yungbote/masterctl/internal/journal"
	"github.com/yungbote/masterctl/internal/journal/changeindex"
	"github.com/yungbote/masterctl/internal/logforward"
	"github.com/yungbote/masterctl/internal/masteraction"
	"github.com/yungbote/masterctl/internal/notify"
	"github.com/yungbote/masterctl/internal/notify/redisnotifier"
	"github.com/yungbote/masterctl/internal/observability"
	"github.com/yungbote/masterctl/internal/platform/logger"
	"github.com/yungbote/masterctl/internal/registry"
	"github.com/yungbote/masterctl/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("masterd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := logger.New(os.Getenv("MASTERCTL_LOG_MODE"))
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(log)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Environment,
	}); shutdownOTel != nil {
		defer shutdownOTel(context.Background())
	}

	changeIdxPath := cfg.JournalRoot + "/" + cfg.Environment + "/change_journal_index.sqlite"
	if err := os.MkdirAll(cfg.JournalRoot+"/"+cfg.Environment, 0o755); err != nil {
		return fmt.Errorf("preparing journal root: %w", err)
	}
	changeIdx, err := changeindex.Open(changeIdxPath)
	if err != nil {
		return fmt.Errorf("opening change index: %w", err)
	}

	j, err := journal.New(cfg.JournalRoot, cfg.Environment, log, changeIdx)
	if err != nil {
		return fmt.Errorf("initializing journal: %w", err)
	}

	var notifier notify.UINotifier
	redisNotifier, err := redisnotifier.New(ctx, log, cfg.RedisAddr, cfg.RedisChannel)
	if err != nil {
		log.Warn("redis notifier unavailable, UI events will not be published", "error", err)
		notifier = notify.NoopNotifier{}
	} else {
		notifier = redisNotifier
		defer redisNotifier.Close()
	}

	healthMonitor := health.New(health.Config{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		HeartbeatTolerance: time.Duration(cfg.HeartbeatToleranceSeconds) * time.Second,
		OfflineThreshold:   time.Duration(cfg.OfflineThresholdSeconds) * time.Second,
	}, log, j, notifier)
	go healthMonitor.StartSweep(ctx)

	agentTransport := transport.NewLoggingTransport(log)
	agentRegistry := registry.New(log, j, healthMonitor, agentTransport)

	dispatcher := dispatch.New(log, j, healthMonitor, agentRegistry)
	agentRegistry.SetDispatcher(dispatcher)

	forwarder := logforward.New(cfg.LogForwarderQueueSize, log, j, notifier)
	go forwarder.Run(ctx)
	defer forwarder.Close()

	opRegistry := masteraction.NewRegistry()
	coordinator := masteraction.NewCoordinator(log, j, dispatcher, forwarder, opRegistry)

	srv := httpapi.NewServer(httpapi.RouterConfig{
		ServiceName:      cfg.OTelServiceName,
		HealthHandler:    handlers.NewHealthHandler(),
		OperationHandler: handlers.NewOperationHandler(coordinator),
		JournalHandler:   handlers.NewJournalHandler(j),
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("masterd listening", "port", cfg.HTTPPort)
		errCh <- srv.Run(":" + cfg.HTTPPort)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		return err
	}
}
