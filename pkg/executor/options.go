package executor

import (
	"log/slog"
	"time"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/security"
)

// DefaultTimeout bounds executions whose metadata carries no timeout.
const DefaultTimeout = 5 * time.Minute

// Config holds executor configuration.
type Config struct {
	MaxWorkers     int
	WorkerID       string
	DefaultTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// MaxWorkers caps concurrent executions. Clamped to [1, security.MaxWorkers].
func MaxWorkers(n int) Option {
	return func(e *Executor) { e.config.MaxWorkers = security.ClampWorkers(n) }
}

// WithWorkerID overrides the generated worker id recorded on executions.
func WithWorkerID(id string) Option {
	return func(e *Executor) { e.config.WorkerID = id }
}

// WithDefaultTimeout sets the deadline for jobs without their own timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) { e.config.DefaultTimeout = d }
}

// WithDependencyChecker injects the dependency policy consulted before
// every execution.
func WithDependencyChecker(c core.DependencyChecker) Option {
	return func(e *Executor) { e.deps = c }
}

// WithNotifier injects the notification dispatcher for success/failure fan-out.
func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notifier = n }
}

// WithMetrics injects the metrics sink.
func WithMetrics(m core.MetricsSink) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithEventFunc registers a callback receiving lifecycle and job events.
func WithEventFunc(fn func(core.Event)) Option {
	return func(e *Executor) { e.emit = fn }
}
