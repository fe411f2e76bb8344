package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/errs"
)

func fastConfig() Config {
	return Config{
		MaxRetries:   3,
		BaseDelay:    1 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0.1,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(), "op", func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(), "op", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errs.New(errs.Storage, "transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	cfg := fastConfig()
	calls := 0
	_, err := Do(context.Background(), cfg, "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, errs.New(errs.Queue, "still down")
	})
	require.Error(t, err)
	// Initial attempt plus MaxRetries retries
	assert.Equal(t, cfg.MaxRetries+1, calls)
	assert.Contains(t, err.Error(), "exhausted")
	assert.Equal(t, errs.Queue, errs.KindOf(err))
}

func TestDoNonRetriableSingleAttempt(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), "op", func(ctx context.Context) (int, error) {
		calls++
		return 0, errs.New(errs.Validation, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestDoStopsOnDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Config{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, JitterFactor: 0}, "op",
		func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, errs.New(errs.Storage, "transient")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "deadline expired")
}
