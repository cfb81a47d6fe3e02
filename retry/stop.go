package retry

import (
	"github.com/songzhibin97/task-scheduler/rules"
)

// StopCondition decides whether retries should cease after the given number
// of completed attempts.
type StopCondition interface {
	ShouldStop(attempt int) bool
}

// MaxAttempts stops once the attempt counter reaches n. MaxAttempts(3) lets
// an operation run exactly three times.
type MaxAttempts int

func (m MaxAttempts) ShouldStop(attempt int) bool {
	return attempt >= int(m)
}

// StopFunc adapts a plain function to a StopCondition.
type StopFunc func(attempt int) bool

func (f StopFunc) ShouldStop(attempt int) bool {
	return f(attempt)
}

// ConditionStop evaluates a boolean expression against {"attempt": n} using a
// rules evaluator, for example "attempt >= 5". A malformed expression stops
// immediately rather than retrying forever.
type ConditionStop struct {
	Expression string
	Evaluator  rules.Evaluator
}

func (c ConditionStop) ShouldStop(attempt int) bool {
	stop, err := c.Evaluator.Evaluate(c.Expression, map[string]interface{}{"attempt": attempt})
	if err != nil {
		return true
	}
	return stop
}
