package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/songzhibin97/task-scheduler/hooks"
	"github.com/stretchr/testify/assert"
)

// fakeClock records sleeps instead of performing them.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

// countingHook tallies each callback.
type countingHook struct {
	hooks.BaseHook
	starts, successes, retries, failures int
	successAttempt                       int
	lastDelay                            time.Duration
}

func (h *countingHook) OnStart(context.Context, *hooks.Attempt) { h.starts++ }
func (h *countingHook) OnSuccess(_ context.Context, a *hooks.Attempt) {
	h.successes++
	h.successAttempt = a.Attempt
}
func (h *countingHook) OnFailure(context.Context, *hooks.Attempt) { h.failures++ }
func (h *countingHook) OnRetry(ctx context.Context, a *hooks.Attempt) {
	h.retries++
	h.lastDelay = a.Delay
}

func TestExecutorCall(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessFirstAttempt", func(t *testing.T) {
		clk := &fakeClock{}
		hook := &countingHook{}
		exec := New(WithClock(clk), WithHook(hook))

		calls := 0
		value, err := exec.Call(ctx, func(context.Context) (interface{}, error) {
			calls++
			return "ok", nil
		})

		assert.NoError(t, err)
		assert.Equal(t, "ok", value)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, hook.starts)
		assert.Equal(t, 1, hook.successes)
		assert.Zero(t, hook.retries)
		assert.Zero(t, hook.failures)
		assert.Empty(t, clk.sleeps)
	})

	t.Run("ExhaustionCounting", func(t *testing.T) {
		clk := &fakeClock{}
		hook := &countingHook{}
		exec := New(WithClock(clk), WithHook(hook), WithStopCondition(MaxAttempts(3)))

		boom := errors.New("boom")
		calls := 0
		value, err := exec.Call(ctx, func(context.Context) (interface{}, error) {
			calls++
			return nil, boom
		})

		assert.Nil(t, value)
		// The original error comes back unwrapped.
		assert.Same(t, boom, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 3, hook.starts)
		assert.Equal(t, 2, hook.retries)
		assert.Equal(t, 1, hook.failures)
		assert.Zero(t, hook.successes)
		assert.Len(t, clk.sleeps, 2)
	})

	t.Run("SucceedsOnSecondAttempt", func(t *testing.T) {
		clk := &fakeClock{}
		hook := &countingHook{}
		exec := New(WithClock(clk), WithHook(hook), WithStopCondition(MaxAttempts(5)))

		calls := 0
		value, err := exec.Call(ctx, func(context.Context) (interface{}, error) {
			calls++
			if calls < 2 {
				return nil, errors.New("transient")
			}
			return 42, nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 42, value)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, hook.retries)
		assert.Equal(t, 1, hook.successes)
		assert.Equal(t, 2, hook.successAttempt)
		assert.Zero(t, hook.failures)
		assert.Len(t, clk.sleeps, 1)
		assert.GreaterOrEqual(t, clk.sleeps[0], time.Duration(0))
	})

	t.Run("ExponentialDelays", func(t *testing.T) {
		clk := &fakeClock{}
		exec := New(
			WithClock(clk),
			WithStopCondition(MaxAttempts(4)),
			WithBackoff(ExponentialBackoff{Initial: time.Second, Multiplier: 2}),
		)

		_, err := exec.Call(ctx, func(context.Context) (interface{}, error) {
			return nil, errors.New("always")
		})

		assert.Error(t, err)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clk.sleeps)
	})

	t.Run("ContextCanceledBeforeCall", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		exec := New(WithClock(&fakeClock{}))
		calls := 0
		_, err := exec.Call(canceled, func(context.Context) (interface{}, error) {
			calls++
			return nil, nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})

	t.Run("CancelDuringBackoff", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		exec := New(WithClock(&fakeClock{}), WithStopCondition(MaxAttempts(10)))

		calls := 0
		_, err := exec.Call(canceled, func(context.Context) (interface{}, error) {
			calls++
			cancel()
			return nil, errors.New("fail then cancel")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("HookPanicDoesNotAbort", func(t *testing.T) {
		exec := New(WithClock(&fakeClock{}), WithHook(panicHook{}))

		value, err := exec.Call(ctx, func(context.Context) (interface{}, error) {
			return "fine", nil
		})

		assert.NoError(t, err)
		assert.Equal(t, "fine", value)
	})

	t.Run("HookContextSharedAcrossAttempts", func(t *testing.T) {
		clk := &fakeClock{}
		hook := &recordingHook{}
		exec := New(WithClock(clk), WithHook(hook), WithStopCondition(MaxAttempts(2)))

		_, _ = exec.Call(ctx, func(context.Context) (interface{}, error) {
			return nil, errors.New("x")
		})

		assert.Equal(t, 2, hook.seen)
	})

	t.Run("CallAsync", func(t *testing.T) {
		exec := New(WithClock(&fakeClock{}))
		res := <-exec.CallAsync(ctx, func(context.Context) (interface{}, error) {
			return "async", nil
		})
		assert.NoError(t, res.Err)
		assert.Equal(t, "async", res.Value)
	})
}

type panicHook struct{ hooks.BaseHook }

func (panicHook) OnStart(context.Context, *hooks.Attempt)   { panic("start") }
func (panicHook) OnSuccess(context.Context, *hooks.Attempt) { panic("success") }

// recordingHook marks the shared hook context on start and counts how many
// attempts observed the mark.
type recordingHook struct {
	hooks.BaseHook
	seen int
}

func (h *recordingHook) OnStart(_ context.Context, a *hooks.Attempt) {
	a.Context["mark"] = true
	if a.Context["mark"] == true {
		h.seen++
	}
}
