package engine

import (
	"context"
	"strings"
	"time"
)

// RecoveryStrategy selects how ExecuteWithRecovery treats failures.
type RecoveryStrategy string

const (
	// StrategyRetry retries retryable failures with exponential backoff
	// until the retry budget is exhausted.
	StrategyRetry RecoveryStrategy = "retry"

	// StrategyFailFast propagates the first failure immediately.
	StrategyFailFast RecoveryStrategy = "fail_fast"

	// StrategyContinue records failures without propagating them, so a
	// sequence of wrapped calls runs to completion. Used for rollback, which
	// is best-effort and exhaustive.
	StrategyContinue RecoveryStrategy = "continue"
)

// SkipCondition inspects an error and reports whether retrying is futile.
// Matching errors are treated as permanent and bypass the retry budget.
type SkipCondition func(error) bool

// RecoveryOptions configures ExecuteWithRecovery.
type RecoveryOptions struct {
	// Strategy selects the failure handling mode. Default StrategyRetry.
	Strategy RecoveryStrategy `json:"strategy"`

	// MaxRetries bounds retry attempts after the first attempt.
	MaxRetries int `json:"max_retries"`

	// RetryDelay is the delay before the first retry.
	RetryDelay time.Duration `json:"retry_delay"`

	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	// SkipCondition marks errors as non-retryable. Nil means
	// DefaultSkipCondition.
	SkipCondition SkipCondition `json:"-"`

	// OnRetry, if set, is invoked before each backoff wait with the attempt
	// number that just failed and its error.
	OnRetry func(attempt int, err error) `json:"-"`
}

// DefaultRecoveryOptions returns the standard retry policy: three retries,
// one-second initial delay, doubling per attempt, no jitter.
func DefaultRecoveryOptions() RecoveryOptions {
	return RecoveryOptions{
		Strategy:          StrategyRetry,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RecoveryResult reports how a wrapped operation settled.
type RecoveryResult struct {
	// Err is the final error, nil on success. Under StrategyContinue the
	// error is recorded here but callers treat the chain as not aborted.
	Err error

	// Attempts is the total number of attempts made (at least one).
	Attempts int

	// Skipped is true when a skip condition cut the retry budget short.
	Skipped bool
}

// Retries returns the number of retry attempts after the first attempt.
func (r RecoveryResult) Retries() int {
	if r.Attempts <= 0 {
		return 0
	}
	return r.Attempts - 1
}

// permanentPatterns are error texts retries cannot fix.
var permanentPatterns = []string{
	"already exists",
	"permission denied",
	"access denied",
	"unauthorized",
	"invalid configuration",
	"validation failed",
	"not found",
}

// DefaultSkipCondition marks classified-permanent errors and well-known
// permanent failure texts as non-retryable.
func DefaultSkipCondition(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// ExecuteWithRecovery runs op under the configured recovery policy. It knows
// nothing about deployment semantics; it decorates any single fallible
// operation. Backoff waits respect context cancellation.
func ExecuteWithRecovery(ctx context.Context, op func(context.Context) error, opts RecoveryOptions) RecoveryResult {
	if opts.Strategy == "" {
		opts.Strategy = StrategyRetry
	}
	skip := opts.SkipCondition
	if skip == nil {
		skip = DefaultSkipCondition
	}

	result := RecoveryResult{}

	for {
		result.Attempts++
		err := op(ctx)
		if err == nil {
			result.Err = nil
			return result
		}
		result.Err = err

		if opts.Strategy != StrategyRetry {
			return result
		}
		if skip(err) {
			result.Skipped = true
			return result
		}
		if result.Attempts > opts.MaxRetries {
			return result
		}

		if opts.OnRetry != nil {
			opts.OnRetry(result.Attempts, err)
		}

		// Deterministic exponential backoff: delay × multiplier^(attempt-1).
		delay := opts.RetryDelay
		for i := 1; i < result.Attempts; i++ {
			delay = time.Duration(float64(delay) * opts.BackoffMultiplier)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		}
	}
}
