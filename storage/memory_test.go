package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/songzhibin97/task-scheduler/types"
	"github.com/stretchr/testify/assert"
)

func TestMemoryStorage(t *testing.T) {
	newWorkflow := func(id string) *types.Workflow {
		wf := types.NewWorkflow(id, "Test Workflow")
		wf.AddTask(&types.Task{ID: "a"})
		wf.AddTask(&types.Task{ID: "b", Dependencies: []string{"a"}})
		return wf
	}

	newReport := func(runID uint64, workflowID string) *types.RunReport {
		return &types.RunReport{
			RunID:      runID,
			WorkflowID: workflowID,
			Success:    true,
			TaskResults: map[string]types.TaskResult{
				"a": {Success: true, Status: types.TaskSuccess, Attempts: 1},
			},
		}
	}

	t.Run("NewMemoryStorage", func(t *testing.T) {
		store := NewMemoryStorage()
		assert.NotNil(t, store)
		assert.NotNil(t, store.workflows)
		assert.NotNil(t, store.runs)
	})

	t.Run("SaveAndGetWorkflow", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx := context.Background()

		wf := newWorkflow("wf-1")
		assert.NoError(t, store.SaveWorkflow(ctx, wf))

		got, err := store.GetWorkflow(ctx, "wf-1")
		assert.NoError(t, err)
		assert.Equal(t, wf.ID, got.ID)
		assert.Equal(t, []string{"a", "b"}, got.TaskIDs())
	})

	t.Run("GetWorkflowNotFound", func(t *testing.T) {
		store := NewMemoryStorage()
		_, err := store.GetWorkflow(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	})

	t.Run("HandlersSurviveRoundTrip", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx := context.Background()

		wf := types.NewWorkflow("wf-h", "Handlers")
		called := false
		wf.AddTask(&types.Task{ID: "a", Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			called = true
			return nil, nil
		}})
		assert.NoError(t, store.SaveWorkflow(ctx, wf))

		got, err := store.GetWorkflow(ctx, "wf-h")
		assert.NoError(t, err)
		task, ok := got.Task("a")
		assert.True(t, ok)
		assert.NotNil(t, task.Handler)
		task.Handler(ctx, nil)
		assert.True(t, called)
	})

	t.Run("ListWorkflowsSortedByID", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx := context.Background()

		for _, id := range []string{"wf-c", "wf-a", "wf-b"} {
			assert.NoError(t, store.SaveWorkflow(ctx, newWorkflow(id)))
		}

		list, err := store.ListWorkflows(ctx)
		assert.NoError(t, err)
		ids := make([]string, len(list))
		for i, wf := range list {
			ids[i] = wf.ID
		}
		assert.Equal(t, []string{"wf-a", "wf-b", "wf-c"}, ids)
	})

	t.Run("DeleteWorkflow", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx := context.Background()

		assert.NoError(t, store.SaveWorkflow(ctx, newWorkflow("wf-del")))

		ok, err := store.DeleteWorkflow(ctx, "wf-del")
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.DeleteWorkflow(ctx, "wf-del")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SaveAndGetRun", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx := context.Background()

		report := newReport(7, "wf-1")
		assert.NoError(t, store.SaveRun(ctx, report))

		got, err := store.GetRun(ctx, 7)
		assert.NoError(t, err)
		assert.Equal(t, report.WorkflowID, got.WorkflowID)
		assert.True(t, got.TaskResults["a"].Success)

		_, err = store.GetRun(ctx, 8)
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("ClearRuns", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx := context.Background()

		assert.NoError(t, store.SaveRun(ctx, newReport(1, "wf-1")))
		assert.NoError(t, store.SaveRun(ctx, newReport(2, "wf-1")))
		assert.NoError(t, store.ClearRuns(ctx))

		_, err := store.GetRun(ctx, 1)
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.Error(t, store.SaveWorkflow(ctx, newWorkflow("wf-ctx")))
		_, err := store.GetWorkflow(ctx, "wf-ctx")
		assert.Error(t, err)
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("wf-%02d", i)
				_ = store.SaveWorkflow(ctx, newWorkflow(id))
				_, _ = store.GetWorkflow(ctx, id)
				_, _ = store.ListWorkflows(ctx)
			}(i)
		}
		wg.Wait()

		list, err := store.ListWorkflows(ctx)
		assert.NoError(t, err)
		assert.Len(t, list, 20)
	})
}
