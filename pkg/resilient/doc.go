// Package resilient decorates the executor with retry and circuit-breaking.
//
// This package includes:
//   - CircuitBreaker: consecutive-failure breaker with open/half-open/closed states
//   - Retry policies resolved per job category, driven with exponential
//     backoff and jitter
//   - Reschedule hints for terminally-failed jobs, consumed by the
//     scheduler facade
//
// Retryable failures are timeouts, connection errors, and explicitly marked
// transient errors; validation and programming errors fail immediately.
package resilient
