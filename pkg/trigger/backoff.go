package trigger

import (
	"log/slog"
	"time"
)

// Strategy selects the retry delay progression.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
	StrategyFibonacci   Strategy = "fibonacci"
)

// maxShift caps exponential growth so the shift never overflows.
const maxShift = 32

// RetryDelay computes the delay before retry number retryCount.
//
//	exponential: base * 2^retryCount
//	linear:      base * (retryCount+1)
//	fixed:       base
//	fibonacci:   base * fib(retryCount+1)
//
// An unknown strategy logs a warning and falls back to exponential.
func RetryDelay(base time.Duration, retryCount int, strategy Strategy) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	switch strategy {
	case StrategyExponential:
		return base * (1 << min(retryCount, maxShift))
	case StrategyLinear:
		return base * time.Duration(retryCount+1)
	case StrategyFixed:
		return base
	case StrategyFibonacci:
		return base * time.Duration(fib(retryCount+1))
	default:
		slog.Warn("unknown retry strategy, falling back to exponential",
			"strategy", string(strategy))
		return base * (1 << min(retryCount, maxShift))
	}
}

func fib(n int) int64 {
	a, b := int64(0), int64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}
