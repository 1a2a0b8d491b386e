package datastore

import (
	"context"
	"math"
	"time"
)

// RetryConfig holds the retry behavior for transient write failures.
type RetryConfig struct {
	Enabled      bool          // Whether retry is enabled
	MaxRetries   int           // Maximum number of retry attempts
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Backoff multiplier for each subsequent retry
}

// GetDefaultRetryConfig returns the default retry configuration for
// observation writes: three extra attempts spanning roughly ten seconds,
// enough to ride out a WAL checkpoint or a broker failover.
func GetDefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// calculateBackoffDelay calculates the delay before the next retry attempt
func calculateBackoffDelay(config RetryConfig, attemptNum int) time.Duration {
	// Calculate exponential backoff with jitter
	backoff := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attemptNum))

	// Add some jitter (±10%)
	jitterFactor := 0.9 + 0.2*float64(time.Now().Nanosecond())/1e9
	backoff *= jitterFactor

	// Cap at max delay
	if backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}

	return time.Duration(backoff)
}

// withRetry runs op, retrying transient failures with exponential backoff
// until the attempts are exhausted or the context ends. Non-retryable
// errors (constraint violations, validation) return immediately.
func (ds *DataStore) withRetry(ctx context.Context, operation string, op func() error) error {
	config := ds.retry
	if !config.Enabled {
		return op()
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			if attempt > 0 {
				getLogger().Info("Database write succeeded after retry",
					"operation", operation,
					"attempts", attempt+1)
			}
			return nil
		}

		if !isRetryableError(err) || attempt >= config.MaxRetries {
			return err
		}

		delay := calculateBackoffDelay(config, attempt)
		getLogger().Warn("Database write failed, will retry",
			"operation", operation,
			"attempt", attempt+1,
			"max_retries", config.MaxRetries,
			"delay", delay,
			"error", err)

		if ds.metrics != nil {
			ds.metrics.RecordWriteRetry(operation, categorizeError(err))
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
