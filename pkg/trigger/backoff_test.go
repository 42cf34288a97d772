package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay_Exponential(t *testing.T) {
	base := 2 * time.Second
	for n := 0; n < 8; n++ {
		want := base * (1 << n)
		assert.Equal(t, want, RetryDelay(base, n, StrategyExponential), "retry %d", n)
	}
}

func TestRetryDelay_Linear(t *testing.T) {
	base := 3 * time.Second
	assert.Equal(t, 3*time.Second, RetryDelay(base, 0, StrategyLinear))
	assert.Equal(t, 6*time.Second, RetryDelay(base, 1, StrategyLinear))
	assert.Equal(t, 12*time.Second, RetryDelay(base, 3, StrategyLinear))
}

func TestRetryDelay_Fixed(t *testing.T) {
	base := 5 * time.Second
	for n := 0; n < 10; n++ {
		assert.Equal(t, base, RetryDelay(base, n, StrategyFixed))
	}
}

func TestRetryDelay_Fibonacci(t *testing.T) {
	base := time.Second
	// fib(n+1) for n=0..5: 1 1 2 3 5 8
	want := []time.Duration{1, 1, 2, 3, 5, 8}
	for n, f := range want {
		assert.Equal(t, base*f, RetryDelay(base, n, StrategyFibonacci), "retry %d", n)
	}
}

func TestRetryDelay_UnknownFallsBackToExponential(t *testing.T) {
	base := time.Second
	assert.Equal(t, 8*time.Second, RetryDelay(base, 3, Strategy("quadratic")))
}

func TestRetryDelay_NegativeCountClamped(t *testing.T) {
	assert.Equal(t, time.Second, RetryDelay(time.Second, -4, StrategyExponential))
}
