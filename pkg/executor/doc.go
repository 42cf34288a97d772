// Package executor runs job functions under bounded concurrency.
//
// This package includes:
//   - Executor: semaphore-bounded, deadline-wrapped job execution with a
//     cancellation registry and graceful shutdown
//   - Run: the per-execution context handed to job bodies for
//     checkpointing, progress reporting, and cooperative cancellation
//
// Job bodies receive a context.Context; RunFromContext recovers the Run.
package executor
