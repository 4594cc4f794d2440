package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geyserpipe/geyserpipe/internal/common"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

func testRetryConfig(attempts int) *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    common.NewDuration(time.Microsecond),
		MaxBackoff:        common.NewDuration(time.Millisecond),
		BackoffMultiplier: 2.0,
	}
}

func TestRetryWithBackoff_ExhaustionIsStoreUnavailable(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(3), func() error {
		calls++
		return errors.New("database is locked")
	})

	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Equal(t, 3, calls)
}

func TestRetryWithBackoff_PermanentErrorFailsFast(t *testing.T) {
	t.Parallel()

	permanent := errors.New("UNIQUE constraint failed: account_state.account")
	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(5), func() error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	require.NotErrorIs(t, err, ErrStoreUnavailable)
	require.Equal(t, 1, calls)
}

func TestRetryWithBackoff_RecoversWithinBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryWithBackoff(context.Background(), testRetryConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryWithBackoff_NilConfigRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryWithBackoff(context.Background(), nil, func() error {
		calls++
		return errors.New("database is locked")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}
