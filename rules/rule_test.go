package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestExprEvaluator tests the ExprEvaluator implementation.
func TestExprEvaluator(t *testing.T) {
	evaluator := NewExprEvaluator()

	tests := []struct {
		name       string
		expression string
		context    map[string]interface{}
		wantResult bool
		wantErr    bool
	}{
		{
			name:       "Valid true expression",
			expression: "attempts > 2",
			context:    map[string]interface{}{"attempts": 3},
			wantResult: true,
		},
		{
			name:       "Valid false expression",
			expression: "attempts > 2",
			context:    map[string]interface{}{"attempts": 1},
			wantResult: false,
		},
		{
			name:       "String comparison",
			expression: `env == "prod"`,
			context:    map[string]interface{}{"env": "prod"},
			wantResult: true,
		},
		{
			name:       "Non-boolean result",
			expression: "attempts + 5",
			context:    map[string]interface{}{"attempts": 1},
			wantErr:    true,
		},
		{
			name:       "Malformed expression",
			expression: "attempts >",
			context:    map[string]interface{}{"attempts": 1},
			wantErr:    true,
		},
		{
			name:       "Compound expression",
			expression: `tier == "premium" && load < 0.8`,
			context:    map[string]interface{}{"tier": "premium", "load": 0.5},
			wantResult: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(tt.expression, tt.context)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantResult, got)
		})
	}

	t.Run("CacheReusesCompiledProgram", func(t *testing.T) {
		e := NewExprEvaluator()
		_, err := e.Evaluate("x > 1", map[string]interface{}{"x": 2})
		assert.NoError(t, err)
		e.mu.RLock()
		assert.Len(t, e.cache, 1)
		e.mu.RUnlock()

		_, err = e.Evaluate("x > 1", map[string]interface{}{"x": 0})
		assert.NoError(t, err)
		e.mu.RLock()
		assert.Len(t, e.cache, 1)
		e.mu.RUnlock()
	})

	t.Run("ConcurrentEvaluation", func(t *testing.T) {
		e := NewExprEvaluator()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got, err := e.Evaluate("n >= 0", map[string]interface{}{"n": i})
				assert.NoError(t, err)
				assert.True(t, got)
			}(i)
		}
		wg.Wait()
	})
}
