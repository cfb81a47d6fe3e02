package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/task-scheduler/types"
)

// Errors
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrRunNotFound      = errors.New("run not found")
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// It keeps task handlers intact, which makes it the backend of choice for
// tests and for single-process deployments.
type MemoryStorage struct {
	workflows map[string]*types.Workflow
	runs      map[uint64]*types.RunReport
	mu        sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		workflows: make(map[string]*types.Workflow),
		runs:      make(map[uint64]*types.RunReport),
	}
}

// SaveWorkflow saves a workflow to memory.
func (s *MemoryStorage) SaveWorkflow(ctx context.Context, wf *types.Workflow) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		if wf == nil || wf.ID == "" {
			return struct{}{}, errors.New("workflow ID cannot be empty")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.workflows[wf.ID] = wf
		return struct{}{}, nil
	})
	return err
}

// GetWorkflow retrieves a workflow from memory.
func (s *MemoryStorage) GetWorkflow(ctx context.Context, id string) (*types.Workflow, error) {
	return withContext(ctx, func() (*types.Workflow, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		wf, ok := s.workflows[id]
		if !ok {
			return nil, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		return wf, nil
	})
}

// ListWorkflows returns all workflows sorted by ID for deterministic output.
func (s *MemoryStorage) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	return withContext(ctx, func() ([]*types.Workflow, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]*types.Workflow, 0, len(s.workflows))
		for _, wf := range s.workflows {
			out = append(out, wf)
		}
		sort.Slice(out, func(i, j int) bool {
			return out[i].ID < out[j].ID
		})
		return out, nil
	})
}

// DeleteWorkflow removes a workflow from memory.
func (s *MemoryStorage) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	return withContext(ctx, func() (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.workflows[id]; !ok {
			return false, nil
		}
		delete(s.workflows, id)
		return true, nil
	})
}

// SaveRun saves a run report to memory.
func (s *MemoryStorage) SaveRun(ctx context.Context, report *types.RunReport) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		if report == nil {
			return struct{}{}, errors.New("report cannot be nil")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.runs[report.RunID] = report
		return struct{}{}, nil
	})
	return err
}

// GetRun retrieves a run report from memory.
func (s *MemoryStorage) GetRun(ctx context.Context, runID uint64) (*types.RunReport, error) {
	return withContext(ctx, func() (*types.RunReport, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		report, ok := s.runs[runID]
		if !ok {
			return nil, fmt.Errorf("%w: id=%d", ErrRunNotFound, runID)
		}
		return report, nil
	})
}

// ClearRuns removes all stored run reports.
func (s *MemoryStorage) ClearRuns(ctx context.Context) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.runs = make(map[uint64]*types.RunReport)
		return struct{}{}, nil
	})
	return err
}
