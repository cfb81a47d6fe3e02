package storage

import (
	"context"

	"github.com/songzhibin97/task-scheduler/types"
)

// Storage defines the interface for persisting and retrieving workflows and
// run reports. The scheduling core must function fully against the in-memory
// implementation; durable backends are interchangeable.
//
// Persisted workflow representations carry identity, version, task IDs and
// dependency edges exactly; task handlers are process-local and are
// re-attached by the caller after loading.
type Storage interface {
	// SaveWorkflow saves a workflow definition.
	SaveWorkflow(ctx context.Context, wf *types.Workflow) error

	// GetWorkflow retrieves a workflow by ID.
	GetWorkflow(ctx context.Context, id string) (*types.Workflow, error)

	// ListWorkflows returns all stored workflows.
	ListWorkflows(ctx context.Context) ([]*types.Workflow, error)

	// DeleteWorkflow removes a workflow. Returns false if it did not exist.
	DeleteWorkflow(ctx context.Context, id string) (bool, error)

	// SaveRun saves a workflow run report.
	SaveRun(ctx context.Context, report *types.RunReport) error

	// GetRun retrieves a run report by run ID.
	GetRun(ctx context.Context, runID uint64) (*types.RunReport, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}
