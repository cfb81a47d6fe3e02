package retry

import (
	"context"
	"time"

	"github.com/songzhibin97/task-scheduler/clock"
	"github.com/songzhibin97/task-scheduler/hooks"
	"github.com/songzhibin97/task-scheduler/logging"
)

// Operation is the unit of work the executor wraps.
type Operation func(ctx context.Context) (interface{}, error)

// Result carries the outcome of an asynchronous call.
type Result struct {
	Value interface{}
	Err   error
}

// Executor wraps an operation with retry, backoff and audit-hook semantics.
// The sleep source is injected through a Clock so that backoff is
// deterministic and fast under test.
type Executor struct {
	backoff BackoffPolicy
	stop    StopCondition
	hook    hooks.AuditHook
	clk     clock.Clock
	logger  logging.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithBackoff sets the backoff policy.
func WithBackoff(b BackoffPolicy) Option {
	return func(e *Executor) {
		if b != nil {
			e.backoff = b
		}
	}
}

// WithStopCondition sets the stop condition.
func WithStopCondition(s StopCondition) Option {
	return func(e *Executor) {
		if s != nil {
			e.stop = s
		}
	}
}

// WithHook sets the audit hook.
func WithHook(h hooks.AuditHook) Option {
	return func(e *Executor) {
		if h != nil {
			e.hook = h
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clk = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor. Defaults: exponential backoff starting at one
// second, three attempts, no-op hook, wall clock, discarded logs.
func New(opts ...Option) *Executor {
	e := &Executor{
		backoff: ExponentialBackoff{Initial: time.Second, Multiplier: 2.0},
		stop:    MaxAttempts(3),
		hook:    hooks.BaseHook{},
		clk:     clock.Real(),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call runs op until it succeeds, the stop condition fires, or the context is
// canceled. On exhaustion the ORIGINAL operation error is returned unwrapped
// so the root cause survives. Hook panics are logged and never abort the
// loop.
func (e *Executor) Call(ctx context.Context, op Operation) (interface{}, error) {
	hookCtx := make(map[string]interface{})

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		e.fire(func() {
			e.hook.OnStart(ctx, &hooks.Attempt{Attempt: attempt, Context: hookCtx})
		})

		result, err := op(ctx)
		if err == nil {
			e.fire(func() {
				e.hook.OnSuccess(ctx, &hooks.Attempt{Attempt: attempt, Result: result, Context: hookCtx})
			})
			return result, nil
		}

		if e.stop.ShouldStop(attempt) {
			e.fire(func() {
				e.hook.OnFailure(ctx, &hooks.Attempt{Attempt: attempt, Err: err, Context: hookCtx})
			})
			return nil, err
		}

		delay := e.backoff.Delay(attempt)
		if delay < 0 {
			delay = 0
		}
		e.fire(func() {
			e.hook.OnRetry(ctx, &hooks.Attempt{Attempt: attempt, Err: err, Delay: delay, Context: hookCtx})
		})

		if serr := e.clk.Sleep(ctx, delay); serr != nil {
			return nil, serr
		}
	}
}

// CallAsync runs the same state machine as Call without blocking the caller.
// The returned channel receives exactly one Result.
func (e *Executor) CallAsync(ctx context.Context, op Operation) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		value, err := e.Call(ctx, op)
		ch <- Result{Value: value, Err: err}
		close(ch)
	}()
	return ch
}

func (e *Executor) fire(fn func()) {
	if r := hooks.Fire(fn); r != nil {
		e.logger.Errorf("audit hook panicked: %v", r)
	}
}
