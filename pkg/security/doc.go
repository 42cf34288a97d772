// Package security provides validation, sanitization, and limits for the scheduler.
//
// This package includes:
//   - Input validation for job ids and notification recipients
//   - Error message sanitization before persistence
//   - Clamping functions enforcing safe limits on retries and concurrency
//
// Most users should import the root package github.com/ludia8888/arrakis-scheduler
// which re-exports these functions.
package security
