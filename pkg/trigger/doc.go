// Package trigger provides pure schedule calculation for the scheduler.
//
// This package includes:
//   - Trigger interface with cron, interval, and one-shot date forms
//   - ParseTrigger for the prefixed string forms ("cron:", "interval:", "date:")
//   - Retry delay strategies (exponential, linear, fixed, fibonacci)
//   - Business-hours window checks
//
// Everything here is stateless and performs no I/O.
package trigger
