package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	res, err := Do(context.Background(), Once(time.Second, time.Millisecond), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestDo_OnceStopsAfterTwoAttempts(t *testing.T) {
	calls := 0
	res, err := Do(context.Background(), Once(time.Second, time.Millisecond), func(ctx context.Context) error {
		calls++
		return errors.New("channel down")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, err.Error(), "channel down")
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	sentinel := errors.New("invalid token")
	calls := 0
	res, err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
}

func TestDo_AttemptTimeoutBoundsEachCall(t *testing.T) {
	start := time.Now()
	_, err := Do(context.Background(), Once(20*time.Millisecond, time.Millisecond), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDoWithLog_ReportsFailedAttempts(t *testing.T) {
	var logged []int
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}
	_, err := DoWithLog(context.Background(), cfg, "postgres", func(ctx context.Context) error {
		return errors.New("refused")
	}, func(attempt int, err error, next time.Duration) {
		logged = append(logged, attempt)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres:")
	assert.Equal(t, []int{1, 2}, logged)
}
