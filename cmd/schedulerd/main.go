// Command schedulerd runs the job scheduler as a daemon: config file in,
// sqlite-backed state store, signal-driven shutdown, live log-level reload.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ludia8888/arrakis-scheduler/internal/config"
	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/metrics"
	"github.com/ludia8888/arrakis-scheduler/pkg/notify"
	"github.com/ludia8888/arrakis-scheduler/pkg/sched"
	"github.com/ludia8888/arrakis-scheduler/pkg/storage"
)

func main() {
	configPath := flag.String("config", "scheduler.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "schedulerd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	watcher, err := config.NewWatcher(configPath, slog.Default())
	if err != nil {
		return err
	}
	cfg := watcher.Current()

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Log.Level))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	dispatcher := buildDispatcher(cfg.Notify, logger)

	s := sched.New(store,
		sched.WithConfig(sched.Config{
			MaxWorkers:      cfg.Scheduler.MaxWorkers,
			DefaultTimeout:  cfg.Scheduler.DefaultTimeout.Std(),
			TickInterval:    cfg.Scheduler.TickInterval.Std(),
			Coalesce:        cfg.Scheduler.CoalesceEnabled(),
			MaxInstances:    cfg.Scheduler.MaxInstances,
			CleanupInterval: cfg.Scheduler.CleanupInterval.Std(),
			Retention:       cfg.Scheduler.Retention(),
		}),
		sched.WithNotifier(dispatcher),
		sched.WithMetrics(metrics.NewGoMetricsSink()),
		sched.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	logger.Info("schedulerd started",
		"config", configPath,
		"store", cfg.Store.Driver,
		"max_workers", cfg.Scheduler.MaxWorkers)

	// Most knobs need a restart; the log level follows the file live.
	go func() {
		_ = watcher.Watch(ctx)
	}()
	go func() {
		for updated := range watcher.Subscribe() {
			level.Set(parseLevel(updated.Log.Level))
			logger.Info("log level updated", "level", updated.Log.Level)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func openStore(cfg config.StoreConfig) (core.StateStore, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DSN, err)
		}
		return storage.NewGormStore(db), nil
	}
}

func buildDispatcher(cfg config.NotifyConfig, logger *slog.Logger) *notify.Dispatcher {
	var client *http.Client
	if cfg.WebhookTimeout > 0 {
		client = &http.Client{Timeout: cfg.WebhookTimeout.Std()}
	}
	opts := []notify.Option{
		notify.WithLogger(logger),
		notify.WithWebhook(notify.NewHTTPWebhook(client)),
	}
	if cfg.PriorityChannel != "" {
		opts = append(opts, notify.WithPriorityChannel(cfg.PriorityChannel))
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, notify.WithRateLimit(cfg.RatePerSecond, burst))
	}
	return notify.NewDispatcher(opts...)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
