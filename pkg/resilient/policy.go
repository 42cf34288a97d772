package resilient

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/ludia8888/arrakis-scheduler/pkg/core"
	"github.com/ludia8888/arrakis-scheduler/pkg/trigger"
)

// RetryPolicy describes how failures in one job category are retried.
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Strategy       trigger.Strategy
	JitterFraction float64
}

// Built-in policies keyed by job category.
var (
	StandardPolicy = RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       time.Minute,
		Strategy:       trigger.StrategyExponential,
		JitterFraction: 0.1,
	}

	CriticalPolicy = RetryPolicy{
		MaxRetries:     5,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Strategy:       trigger.StrategyExponential,
		JitterFraction: 0.1,
	}

	DatabasePolicy = RetryPolicy{
		MaxRetries:     4,
		BaseDelay:      2 * time.Second,
		MaxDelay:       2 * time.Minute,
		Strategy:       trigger.StrategyExponential,
		JitterFraction: 0.2,
	}

	NetworkPolicy = RetryPolicy{
		MaxRetries:     5,
		BaseDelay:      time.Second,
		MaxDelay:       5 * time.Minute,
		Strategy:       trigger.StrategyExponential,
		JitterFraction: 0.3,
	}
)

// policyForCategory resolves the retry policy from job metadata. The
// metadata's MaxRetries, when set, overrides the policy's attempt budget.
func policyForCategory(meta *core.JobMetadata) RetryPolicy {
	var policy RetryPolicy
	switch meta.Category {
	case "critical":
		policy = CriticalPolicy
	case "data_processing", "database":
		policy = DatabasePolicy
	case "external_api", "webhook", "network":
		policy = NetworkPolicy
	default:
		policy = StandardPolicy
	}

	if meta.MaxRetries > 0 {
		policy.MaxRetries = meta.MaxRetries
	}
	if meta.RetryDelay > 0 {
		policy.BaseDelay = meta.RetryDelay
	}
	return policy
}

// connectionErrorFragments are substrings that identify environmental
// connection failures in error text.
var connectionErrorFragments = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"EOF",
}

// IsRetryable classifies a failure. Timeouts, connection errors, and
// explicitly marked transient errors are worth retrying; validation and
// programming errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) {
		return false
	}

	var transient *core.TransientError
	if errors.As(err, &transient) {
		return true
	}

	var timeout *core.TimeoutError
	if errors.As(err, &timeout) {
		return true
	}

	// Bodies that propagate their context's deadline surface this
	// instead of a core.TimeoutError.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	for _, fragment := range connectionErrorFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
