// Package core provides the fundamental types and interfaces for the scheduler.
//
// This package contains:
//   - JobMetadata and JobExecution data models
//   - StateStore interface defining the persistence contract
//   - Collaborator interfaces for metrics, audit, and dependency checking
//   - Event types for lifecycle monitoring
//   - Error types distinguishing retryable from permanent failures
//
// Most users should import the root package github.com/ludia8888/arrakis-scheduler
// instead of this package directly.
package core
