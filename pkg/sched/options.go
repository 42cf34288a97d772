package sched

import (
	"log/slog"
	"time"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/executor"
	"github.com/ludia8888/arrakis-scheduler/pkg/resilient"
	"github.com/ludia8888/arrakis-scheduler/pkg/security"
)

// Config holds scheduler configuration.
type Config struct {
	// MaxWorkers caps concurrent executions across all scheduled jobs.
	MaxWorkers int

	// DefaultTimeout bounds jobs whose metadata carries no timeout.
	DefaultTimeout time.Duration

	// TickInterval is how often the trigger loop checks for due jobs.
	TickInterval time.Duration

	// Coalesce collapses a backlog of missed fire times into one firing.
	Coalesce bool

	// MaxInstances caps concurrent firings of one scheduled instance.
	MaxInstances int

	// CleanupInterval is how often old executions are swept.
	CleanupInterval time.Duration

	// Retention is how long execution records are kept.
	Retention time.Duration

	// MonitorInterval is how often the execution monitor reports.
	MonitorInterval time.Duration

	// DependencyInterval is how often the dependency sweep re-checks jobs
	// parked on unmet dependencies.
	DependencyInterval time.Duration
}

// DefaultConfig returns the standard scheduler knobs.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:         10,
		DefaultTimeout:     executor.DefaultTimeout,
		TickInterval:       time.Second,
		Coalesce:           true,
		MaxInstances:       1,
		CleanupInterval:    time.Hour,
		Retention:          30 * 24 * time.Hour,
		MonitorInterval:    30 * time.Second,
		DependencyInterval: 30 * time.Second,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig replaces the whole configuration. Zero-valued fields take the
// defaults.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		def := DefaultConfig()
		if cfg.MaxWorkers <= 0 {
			cfg.MaxWorkers = def.MaxWorkers
		}
		if cfg.DefaultTimeout <= 0 {
			cfg.DefaultTimeout = def.DefaultTimeout
		}
		if cfg.TickInterval <= 0 {
			cfg.TickInterval = def.TickInterval
		}
		if cfg.MaxInstances <= 0 {
			cfg.MaxInstances = def.MaxInstances
		}
		if cfg.CleanupInterval <= 0 {
			cfg.CleanupInterval = def.CleanupInterval
		}
		if cfg.Retention <= 0 {
			cfg.Retention = def.Retention
		}
		if cfg.MonitorInterval <= 0 {
			cfg.MonitorInterval = def.MonitorInterval
		}
		if cfg.DependencyInterval <= 0 {
			cfg.DependencyInterval = def.DependencyInterval
		}
		s.config = cfg
	}
}

// MaxWorkers caps concurrent executions. Clamped to [1, security.MaxWorkers].
func MaxWorkers(n int) Option {
	return func(s *Scheduler) { s.config.MaxWorkers = security.ClampWorkers(n) }
}

// TickInterval sets the trigger loop resolution.
func TickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.config.TickInterval = d
		}
	}
}

// Coalesce controls whether missed fire times collapse into one firing.
func Coalesce(on bool) Option {
	return func(s *Scheduler) { s.config.Coalesce = on }
}

// MaxInstances caps concurrent firings of one scheduled instance.
func MaxInstances(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.config.MaxInstances = n
		}
	}
}

// WithNotifier injects the notification dispatcher.
func WithNotifier(n executor.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithAudit injects the audit event sink.
func WithAudit(a core.AuditLogger) Option {
	return func(s *Scheduler) { s.audit = a }
}

// WithMetrics injects the metrics sink.
func WithMetrics(m core.MetricsSink) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithDependencyChecker overrides the store-backed dependency policy.
func WithDependencyChecker(c core.DependencyChecker) Option {
	return func(s *Scheduler) { s.deps = c }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithEventFunc registers a callback receiving lifecycle and job events.
func WithEventFunc(fn func(core.Event)) Option {
	return func(s *Scheduler) { s.emit = fn }
}

// WithBreakerConfig overrides the circuit breaker thresholds.
func WithBreakerConfig(cfg resilient.BreakerConfig) Option {
	return func(s *Scheduler) { s.breakerCfg = &cfg }
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}
