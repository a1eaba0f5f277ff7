package postgres

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
)

// RetryConfig configures the retry behavior of a RetryExecutor.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// DefaultRetryConfig returns the retry settings PostgresPool uses for transient errors such as
// serialization failures under optimistic-concurrency contention.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// RetryExecutor retries an operation with exponential backoff and jitter while shouldRetry(err)
// holds for the error it returns.
type RetryExecutor struct {
	config RetryConfig
	logger *slog.Logger
}

// NewRetryExecutor constructs a RetryExecutor.
func NewRetryExecutor(config RetryConfig, logger *slog.Logger) *RetryExecutor {
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryExecutor{
		config: config,
		logger: logger,
	}
}

// Execute runs operation, retrying on a retryable error up to config.MaxRetries times.
func (r *RetryExecutor) Execute(ctx context.Context, operation func() error) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("operation succeeded after retry",
					"attempt", attempt+1,
					"total_attempts", attempt+1)
			}
			return nil
		}

		lastErr = err

		if attempt < r.config.MaxRetries && r.shouldRetry(err) {
			r.logger.Warn("operation failed, retrying",
				"attempt", attempt+1,
				"max_retries", r.config.MaxRetries,
				"delay", delay,
				"error", err)

			if !r.waitWithContext(ctx, delay) {
				return ctx.Err()
			}

			delay = r.nextDelay(delay)
		} else {
			break
		}
	}

	r.logger.Error("operation failed after all retries",
		"max_retries", r.config.MaxRetries,
		"error", lastErr)

	return lastErr
}

// ExecuteWithResult runs operation like Execute but also carries a result value through.
func (r *RetryExecutor) ExecuteWithResult(ctx context.Context, operation func() (interface{}, error)) (interface{}, error) {
	var lastResult interface{}
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result, err := operation()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("operation succeeded after retry",
					"attempt", attempt+1,
					"total_attempts", attempt+1)
			}
			return result, nil
		}

		lastResult = result
		lastErr = err

		if attempt < r.config.MaxRetries && r.shouldRetry(err) {
			r.logger.Warn("operation failed, retrying",
				"attempt", attempt+1,
				"max_retries", r.config.MaxRetries,
				"delay", delay,
				"error", err)

			if !r.waitWithContext(ctx, delay) {
				return nil, ctx.Err()
			}

			delay = r.nextDelay(delay)
		} else {
			break
		}
	}

	r.logger.Error("operation failed after all retries",
		"max_retries", r.config.MaxRetries,
		"error", lastErr)

	return lastResult, lastErr
}

// shouldRetry reports whether err is worth a further attempt. A *pgconn.PgError from pgx is
// classified by its SQLSTATE code the same way as a DatabaseError.
func (r *RetryExecutor) shouldRetry(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return NewDatabaseError(pgErr.Code, pgErr.Message).IsRetryable()
	}
	return IsRetryable(err)
}

// waitWithContext sleeps for delay, returning false if ctx is canceled first.
func (r *RetryExecutor) waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// nextDelay computes the next backoff delay, capped at config.MaxDelay and jittered to avoid a
// thundering herd of simultaneous retries.
func (r *RetryExecutor) nextDelay(currentDelay time.Duration) time.Duration {
	nextDelay := time.Duration(float64(currentDelay) * r.config.BackoffFactor)

	if nextDelay > r.config.MaxDelay {
		nextDelay = r.config.MaxDelay
	}

	if r.config.JitterFactor > 0 {
		jitter := time.Duration(float64(nextDelay) * r.config.JitterFactor * rand.Float64())
		nextDelay += jitter
	}

	return nextDelay
}
