package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflow(t *testing.T) {
	t.Run("AddTaskPreservesOrder", func(t *testing.T) {
		wf := NewWorkflow("wf-1", "Test")
		assert.NoError(t, wf.AddTask(&Task{ID: "c"}))
		assert.NoError(t, wf.AddTask(&Task{ID: "a"}))
		assert.NoError(t, wf.AddTask(&Task{ID: "b"}))
		assert.Equal(t, []string{"c", "a", "b"}, wf.TaskIDs())
		assert.Equal(t, 3, wf.Len())
	})

	t.Run("AddDuplicateTask", func(t *testing.T) {
		wf := NewWorkflow("wf-1", "Test")
		assert.NoError(t, wf.AddTask(&Task{ID: "a"}))
		err := wf.AddTask(&Task{ID: "a"})
		assert.Error(t, err)
		assert.Equal(t, 1, wf.Len())
	})

	t.Run("RemoveTask", func(t *testing.T) {
		wf := NewWorkflow("wf-1", "Test")
		assert.NoError(t, wf.AddTask(&Task{ID: "a"}))
		assert.NoError(t, wf.AddTask(&Task{ID: "b"}))

		assert.True(t, wf.RemoveTask("a"))
		assert.False(t, wf.RemoveTask("a"))
		assert.Equal(t, []string{"b"}, wf.TaskIDs())

		_, ok := wf.Task("a")
		assert.False(t, ok)
	})

	t.Run("JSONRoundTrip", func(t *testing.T) {
		wf := NewWorkflow("wf-json", "JSON Workflow")
		wf.Description = "round trip"
		assert.NoError(t, wf.AddTask(&Task{ID: "first", Priority: 5}))
		assert.NoError(t, wf.AddTask(&Task{
			ID:           "second",
			Dependencies: []string{"first"},
			Condition:    `env == "prod"`,
			Retry:        &RetrySpec{MaxAttempts: 3, InitialDelaySec: 1, Multiplier: 2},
			Metadata:     map[string]string{"team": "data"},
		}))

		data, err := json.Marshal(wf)
		assert.NoError(t, err)

		var got Workflow
		assert.NoError(t, json.Unmarshal(data, &got))

		assert.Equal(t, wf.ID, got.ID)
		assert.Equal(t, wf.Name, got.Name)
		assert.Equal(t, wf.Version, got.Version)
		assert.Equal(t, []string{"first", "second"}, got.TaskIDs())

		second, ok := got.Task("second")
		assert.True(t, ok)
		assert.Equal(t, []string{"first"}, second.Dependencies)
		assert.Equal(t, `env == "prod"`, second.Condition)
		assert.NotNil(t, second.Retry)
		assert.Equal(t, 3, second.Retry.MaxAttempts)
		assert.Nil(t, second.Handler)
	})

	t.Run("UnmarshalRejectsDuplicateTasks", func(t *testing.T) {
		data := []byte(`{"id":"wf","name":"x","tasks":[{"id":"a"},{"id":"a"}]}`)
		var got Workflow
		assert.Error(t, json.Unmarshal(data, &got))
	})
}
