// retry_test.go: write retry policy and backoff math tests
package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestCalculateBackoffDelay_GrowsAndCaps(t *testing.T) {
	t.Parallel()

	config := RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	for attempt := 0; attempt <= 10; attempt++ {
		delay := calculateBackoffDelay(config, attempt)
		assert.LessOrEqual(t, delay, config.MaxDelay,
			"attempt %d must be capped at MaxDelay", attempt)
		assert.Positive(t, delay)
	}

	// Jitter stays within ±10% of the exponential curve below the cap.
	first := calculateBackoffDelay(config, 0)
	assert.GreaterOrEqual(t, first, 90*time.Millisecond)
	assert.LessOrEqual(t, first, 110*time.Millisecond)

	second := calculateBackoffDelay(config, 1)
	assert.GreaterOrEqual(t, second, 180*time.Millisecond)
	assert.LessOrEqual(t, second, 220*time.Millisecond)
}

func TestIsRetryableError_Classification(t *testing.T) {
	t.Parallel()

	retryable := []string{
		"database is locked",
		"connection refused by peer",
		"operation timeout exceeded",
		"deadlock detected",
		"disk full",
	}
	for _, msg := range retryable {
		assert.True(t, isRetryableError(errors.NewStd(msg)), "%q should be retryable", msg)
	}

	permanent := []string{
		"UNIQUE constraint failed: observations.id",
		"NOT NULL constraint failed: observations.specimen_count",
		"near \"SELEC\": syntax error",
		"FOREIGN KEY constraint failed",
	}
	for _, msg := range permanent {
		assert.False(t, isRetryableError(errors.NewStd(msg)), "%q should not be retryable", msg)
	}
}

func TestWithRetry_TransientFailureRecovers(t *testing.T) {
	t.Parallel()

	ds := &DataStore{retry: fastRetryConfig()}

	calls := 0
	err := ds.withRetry(context.Background(), "test_op", func() error {
		calls++
		if calls < 3 {
			return errors.NewStd("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "two transient failures then success")
}

func TestWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	ds := &DataStore{retry: fastRetryConfig()}

	calls := 0
	err := ds.withRetry(context.Background(), "test_op", func() error {
		calls++
		return errors.NewStd("UNIQUE constraint failed: observations.id")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "constraint violations never retry")
}

func TestWithRetry_AttemptsAreBounded(t *testing.T) {
	t.Parallel()

	ds := &DataStore{retry: fastRetryConfig()}

	calls := 0
	err := ds.withRetry(context.Background(), "test_op", func() error {
		calls++
		return errors.NewStd("database is locked")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus MaxRetries and no more")
}

func TestWithRetry_Disabled(t *testing.T) {
	t.Parallel()

	ds := &DataStore{retry: RetryConfig{Enabled: false}}

	calls := 0
	err := ds.withRetry(context.Background(), "test_op", func() error {
		calls++
		return errors.NewStd("database is locked")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	t.Parallel()

	config := fastRetryConfig()
	config.InitialDelay = time.Minute
	config.MaxDelay = time.Minute
	ds := &DataStore{retry: config}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ds.withRetry(ctx, "test_op", func() error {
			return errors.NewStd("database is locked")
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled, "cancellation interrupts the backoff sleep")
	case <-time.After(5 * time.Second):
		t.Fatal("withRetry did not observe context cancellation")
	}
}
