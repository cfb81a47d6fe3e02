package types

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Task states
const (
	TaskPending  TaskState = "pending"
	TaskRunning  TaskState = "running"
	TaskSuccess  TaskState = "success"
	TaskFailure  TaskState = "failure"
	TaskRetrying TaskState = "retrying"
)

// Workflow statuses
const (
	WorkflowCreated WorkflowStatus = "created"
	WorkflowRunning WorkflowStatus = "running"
	WorkflowSuccess WorkflowStatus = "success"
	WorkflowFailed  WorkflowStatus = "failed"
)

// SLA tiers, ordered from highest to lowest service level.
const (
	TierPremium    = "premium"
	TierStandard   = "standard"
	TierBestEffort = "best_effort"
)

// TaskState describes where a task is in its lifecycle.
type TaskState string

// WorkflowStatus describes the aggregate state of a workflow.
type WorkflowStatus string

// TaskFunc is the unit of work a task executes. The context map carries the
// run context plus the results of the task's dependencies keyed by
// dependency ID.
type TaskFunc func(ctx context.Context, taskCtx map[string]interface{}) (interface{}, error)

// RetrySpec declares a per-task retry policy. A nil RetrySpec means the task
// runs exactly once.
type RetrySpec struct {
	MaxAttempts     int     `json:"max_attempts"`
	InitialDelaySec float64 `json:"initial_delay_sec,omitempty"`
	Multiplier      float64 `json:"multiplier,omitempty"`
	MaxDelaySec     float64 `json:"max_delay_sec,omitempty"`
}

// Task is a single unit of work inside a workflow. Tasks are owned by their
// containing workflow and are never shared across workflows.
type Task struct {
	ID           string            `json:"id"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Priority     int               `json:"priority"`
	State        TaskState         `json:"state"`
	Condition    string            `json:"condition,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Retry        *RetrySpec        `json:"retry,omitempty"`
	Handler      TaskFunc          `json:"-"`
}

// Workflow is an ordered collection of tasks with dependency edges.
// Task insertion order is significant: it is the tie-breaker for topological
// ordering among independent tasks.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     int            `json:"version"`
	Status      WorkflowStatus `json:"status"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
	LastRunAt   int64          `json:"last_run_at,omitempty"`
	Schedule    *Schedule      `json:"schedule,omitempty"`

	tasks []*Task
	index map[string]*Task
}

// NewWorkflow creates an empty workflow with status created.
func NewWorkflow(id, name string) *Workflow {
	now := time.Now().UnixMilli()
	return &Workflow{
		ID:        id,
		Name:      name,
		Version:   1,
		Status:    WorkflowCreated,
		CreatedAt: now,
		UpdatedAt: now,
		index:     make(map[string]*Task),
	}
}

// AddTask appends a task, preserving insertion order. Adding a duplicate task
// ID is an error.
func (w *Workflow) AddTask(t *Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if w.index == nil {
		w.index = make(map[string]*Task)
	}
	if _, ok := w.index[t.ID]; ok {
		return fmt.Errorf("duplicate task ID %q in workflow %q", t.ID, w.ID)
	}
	if t.State == "" {
		t.State = TaskPending
	}
	w.index[t.ID] = t
	w.tasks = append(w.tasks, t)
	return nil
}

// RemoveTask removes a task by ID. Returns false if the task does not exist.
func (w *Workflow) RemoveTask(id string) bool {
	if _, ok := w.index[id]; !ok {
		return false
	}
	delete(w.index, id)
	for i, t := range w.tasks {
		if t.ID == id {
			w.tasks = append(w.tasks[:i], w.tasks[i+1:]...)
			break
		}
	}
	return true
}

// Task returns a task by ID.
func (w *Workflow) Task(id string) (*Task, bool) {
	t, ok := w.index[id]
	return t, ok
}

// Tasks returns the workflow's tasks in insertion order. The returned slice
// must not be mutated.
func (w *Workflow) Tasks() []*Task {
	return w.tasks
}

// TaskIDs returns the task IDs in insertion order.
func (w *Workflow) TaskIDs() []string {
	ids := make([]string, len(w.tasks))
	for i, t := range w.tasks {
		ids[i] = t.ID
	}
	return ids
}

// Len returns the number of tasks.
func (w *Workflow) Len() int {
	return len(w.tasks)
}

// workflowJSON is the wire shape of a Workflow. Tasks serialize as an ordered
// list so that round-tripping preserves insertion order exactly.
type workflowJSON struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     int            `json:"version"`
	Status      WorkflowStatus `json:"status"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
	LastRunAt   int64          `json:"last_run_at,omitempty"`
	Schedule    *Schedule      `json:"schedule,omitempty"`
	Tasks       []*Task        `json:"tasks"`
}

// MarshalJSON implements json.Marshaler.
func (w *Workflow) MarshalJSON() ([]byte, error) {
	return json.Marshal(workflowJSON{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Version:     w.Version,
		Status:      w.Status,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		LastRunAt:   w.LastRunAt,
		Schedule:    w.Schedule,
		Tasks:       w.tasks,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var wire workflowJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	w.ID = wire.ID
	w.Name = wire.Name
	w.Description = wire.Description
	w.Version = wire.Version
	w.Status = wire.Status
	w.CreatedAt = wire.CreatedAt
	w.UpdatedAt = wire.UpdatedAt
	w.LastRunAt = wire.LastRunAt
	w.Schedule = wire.Schedule
	w.tasks = nil
	w.index = make(map[string]*Task, len(wire.Tasks))
	for _, t := range wire.Tasks {
		if _, ok := w.index[t.ID]; ok {
			return fmt.Errorf("duplicate task ID %q in workflow %q", t.ID, wire.ID)
		}
		w.index[t.ID] = t
		w.tasks = append(w.tasks, t)
	}
	return nil
}

// Client is a tenant competing for resources. GuaranteedResources and
// MaxResources are percentages of the total pool; the sum of guarantees
// across clients may exceed 100 (over-subscription).
type Client struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	SLATier             string  `json:"sla_tier"`
	GuaranteedResources float64 `json:"guaranteed_resources"`
	MaxResources        float64 `json:"max_resources"`
	CurrentAllocation   float64 `json:"current_allocation,omitempty"`
}

// ResourceAllocation is the per-client result of a partitioning pass.
// Allocations are immutable once computed; any change to the client or node
// set requires a wholesale re-allocation.
type ResourceAllocation struct {
	ClientID            string   `json:"client_id"`
	AllocatedNodes      []string `json:"allocated_nodes"`
	AllocatedPercentage float64  `json:"allocated_percentage"`
	BorrowedPercentage  float64  `json:"borrowed_percentage,omitempty"`
}

// TaskResult records the outcome of one task within a run.
type TaskResult struct {
	Success  bool        `json:"success"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	Status   TaskState   `json:"status"`
	Attempts int         `json:"attempts"`
}

// RunReport is the structured result of a workflow run. A run always yields a
// report; business-level task failures are captured here, never raised.
type RunReport struct {
	RunID       uint64                        `json:"run_id"`
	WorkflowID  string                        `json:"workflow_id"`
	Success     bool                          `json:"success"`
	TaskResults map[string]TaskResult         `json:"task_results"`
	Allocations map[string]ResourceAllocation `json:"allocations,omitempty"`
	StartedAt   int64                         `json:"started_at"`
	FinishedAt  int64                         `json:"finished_at"`
}
