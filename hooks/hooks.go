package hooks

import (
	"context"
	"time"
)

// Attempt carries the state of one attempt of an observed operation. The
// Context map is shared across all hook invocations of a single call chain
// and may be mutated by hooks to pass information along.
type Attempt struct {
	// Attempt is the 1-based attempt counter.
	Attempt int

	// Result is the operation result, set for OnSuccess only.
	Result interface{}

	// Err is the attempt error, set for OnRetry and OnFailure.
	Err error

	// Delay is the computed backoff before the next attempt, set for OnRetry.
	Delay time.Duration

	// Context is the shared mutable hook context.
	Context map[string]interface{}
}

// AuditHook observes attempt lifecycles. All methods are present on the
// interface so that consumers never probe for capabilities at runtime; embed
// BaseHook to get no-op defaults.
//
// Hooks are best-effort observers: a hook that panics must not abort the
// operation it observes. Callers invoke hooks through Fire.
type AuditHook interface {
	OnStart(ctx context.Context, a *Attempt)
	OnSuccess(ctx context.Context, a *Attempt)
	OnRetry(ctx context.Context, a *Attempt)
	OnFailure(ctx context.Context, a *Attempt)
}

// BaseHook is a no-op AuditHook intended for embedding.
type BaseHook struct{}

func (BaseHook) OnStart(context.Context, *Attempt)   {}
func (BaseHook) OnSuccess(context.Context, *Attempt) {}
func (BaseHook) OnRetry(context.Context, *Attempt)   {}
func (BaseHook) OnFailure(context.Context, *Attempt) {}

// MultiHook fans an attempt out to several hooks in order.
type MultiHook []AuditHook

func (m MultiHook) OnStart(ctx context.Context, a *Attempt) {
	for _, h := range m {
		h.OnStart(ctx, a)
	}
}

func (m MultiHook) OnSuccess(ctx context.Context, a *Attempt) {
	for _, h := range m {
		h.OnSuccess(ctx, a)
	}
}

func (m MultiHook) OnRetry(ctx context.Context, a *Attempt) {
	for _, h := range m {
		h.OnRetry(ctx, a)
	}
}

func (m MultiHook) OnFailure(ctx context.Context, a *Attempt) {
	for _, h := range m {
		h.OnFailure(ctx, a)
	}
}

// Fire invokes fn and recovers any panic, returning the recovered value.
// Observer failures stay contained in the observer.
func Fire(fn func()) (recovered interface{}) {
	defer func() {
		recovered = recover()
	}()
	fn()
	return nil
}
