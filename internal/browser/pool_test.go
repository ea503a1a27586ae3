package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPool(t *testing.T, runner func(context.Context, string, Task, bool) error) *Pool {
	t.Helper()
	p := NewPool(Config{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		NavTimeout:  time.Second,
	}, zap.NewNop(), nil)
	p.runner = runner
	return p
}

func TestWithSessionSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	var calls int
	p := testPool(t, func(ctx context.Context, name string, task Task, final bool) error {
		calls++
		require.False(t, final)
		return nil
	})

	err := p.WithSession(context.Background(), "fedex", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestWithSessionRetriesAndWrapsFinalError(t *testing.T) {
	t.Parallel()

	boom := errors.New("selector not found")
	var calls int
	var finals []bool
	p := testPool(t, func(ctx context.Context, name string, task Task, final bool) error {
		calls++
		finals = append(finals, final)
		return boom
	})

	err := p.WithSession(context.Background(), "icl", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Equal(t, 3, calls)
	require.Equal(t, []bool{false, false, true}, finals)
}

func TestWithSessionStopsRetryingOnSuccess(t *testing.T) {
	t.Parallel()

	var calls int
	p := testPool(t, func(ctx context.Context, name string, task Task, final bool) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})

	err := p.WithSession(context.Background(), "dhl", nil)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestWithSessionHonorsCancellationBetweenAttempts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(Config{
		MaxAttempts: 3,
		Backoff:     time.Minute, // would stall without cancellation
	}, zap.NewNop(), nil)
	p.runner = func(context.Context, string, Task, bool) error {
		return errors.New("always fails")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := p.WithSession(ctx, "atlantic", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewPoolAppliesDefaults(t *testing.T) {
	t.Parallel()

	p := NewPool(Config{}, zap.NewNop(), nil)
	require.Equal(t, 3, p.cfg.MaxAttempts)
	require.Equal(t, 30*time.Second, p.cfg.NavTimeout)
	require.Equal(t, 2*time.Second, p.cfg.Backoff)
}
