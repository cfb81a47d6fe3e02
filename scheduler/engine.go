package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/songzhibin97/gkit/generator"
	"github.com/songzhibin97/task-scheduler/clock"
	"github.com/songzhibin97/task-scheduler/events"
	"github.com/songzhibin97/task-scheduler/hooks"
	"github.com/songzhibin97/task-scheduler/logging"
	"github.com/songzhibin97/task-scheduler/partition"
	"github.com/songzhibin97/task-scheduler/rules"
	"github.com/songzhibin97/task-scheduler/storage"
	"github.com/songzhibin97/task-scheduler/types"
)

// Standard error definitions
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrWorkflowRunning  = errors.New("workflow run already in progress")
	ErrNilHandler       = errors.New("task has no handler")
)

// ValidationError reports a malformed workflow or task definition. It is
// raised at registration or mutation time, never during a run.
type ValidationError struct {
	WorkflowID string
	TaskID     string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("invalid task %q in workflow %q: %s", e.TaskID, e.WorkflowID, e.Reason)
	}
	return fmt.Sprintf("invalid workflow %q: %s", e.WorkflowID, e.Reason)
}

// Engine owns all workflows and orchestrates their runs. Workflows are never
// shared: every mutation goes through the engine, which keeps the cache and
// the storage backend in step.
type Engine struct {
	storage     storage.Storage
	eventBus    *events.EventBus
	evaluator   rules.Evaluator
	clk         clock.Clock
	logger      logging.Logger
	hook        hooks.AuditHook
	generate    generator.Generator
	partitioner *partition.Partitioner
	clients     []types.Client
	nodes       []string
	maxParallel int64

	mu        sync.RWMutex
	workflows map[string]*types.Workflow
	tenants   map[string]string // workflow ID -> client ID

	runMu    sync.Mutex
	runLocks map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator sets the guard-condition evaluator.
func WithEvaluator(ev rules.Evaluator) Option {
	return func(e *Engine) {
		if ev != nil {
			e.evaluator = ev
		}
	}
}

// WithClock sets the time source used for scheduling and retry backoff.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clk = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAuditHook sets the audit hook observing every task attempt.
func WithAuditHook(h hooks.AuditHook) Option {
	return func(e *Engine) {
		if h != nil {
			e.hook = h
		}
	}
}

// WithMaxParallel sets how many independent tasks of one run may execute
// concurrently. The default of 1 reproduces strictly sequential topological
// execution.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = int64(n)
		}
	}
}

// WithPartitioning configures resource partitioning: before each run the
// node pool is divided among the clients and the allocations are recorded in
// the run report. Workflows bound to a client via BindTenant draw their
// parallelism budget from that client's allocated node count.
func WithPartitioning(p *partition.Partitioner, clients []types.Client, nodes []string) Option {
	return func(e *Engine) {
		e.partitioner = p
		e.clients = clients
		e.nodes = nodes
	}
}

// NewEngine creates a new Engine with the given ID generator and storage.
func NewEngine(generate generator.Generator, store storage.Storage, opts ...Option) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if store == nil {
		store = storage.NewMemoryStorage()
	}

	e := &Engine{
		storage:     store,
		eventBus:    events.NewEventBus(),
		evaluator:   rules.NewExprEvaluator(),
		clk:         clock.Real(),
		logger:      logging.Std(),
		hook:        hooks.BaseHook{},
		generate:    generate,
		maxParallel: 1,
		workflows:   make(map[string]*types.Workflow),
		tenants:     make(map[string]string),
		runLocks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SubscribeEvent subscribes an event handler to a specific event type.
func (e *Engine) SubscribeEvent(eventType string, handler events.EventHandler) {
	e.eventBus.Subscribe(eventType, handler)
}

// BindTenant associates a workflow with a resource-partitioning client.
func (e *Engine) BindTenant(workflowID, clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tenants[workflowID] = clientID
}

// RegisterWorkflow validates and persists a workflow definition. The task
// set must have unique IDs with no dangling dependency references.
func (e *Engine) RegisterWorkflow(ctx context.Context, wf *types.Workflow) error {
	if wf == nil || wf.ID == "" {
		return &ValidationError{Reason: "workflow ID cannot be empty"}
	}
	for _, t := range wf.Tasks() {
		for _, dep := range t.Dependencies {
			if _, ok := wf.Task(dep); !ok {
				return &ValidationError{
					WorkflowID: wf.ID,
					TaskID:     t.ID,
					Reason:     fmt.Sprintf("dependency %q does not exist", dep),
				}
			}
		}
	}
	if wf.Status == "" {
		wf.Status = types.WorkflowCreated
	}

	if err := e.storage.SaveWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.mu.Unlock()
	return nil
}

// getWorkflow retrieves a workflow by ID, checking cache first then storage.
func (e *Engine) getWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	e.mu.RLock()
	wf, ok := e.workflows[workflowID]
	e.mu.RUnlock()

	if ok {
		return wf, nil
	}

	wf, err := e.storage.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.mu.Unlock()

	return wf, nil
}

// GetWorkflow retrieves a workflow by ID.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return e.getWorkflow(ctx, workflowID)
	}
}

// ListWorkflows returns all registered workflows.
func (e *Engine) ListWorkflows(ctx context.Context) ([]*types.Workflow, error) {
	return e.storage.ListWorkflows(ctx)
}

// AddTask adds a task to a workflow. Dependencies must reference tasks that
// already exist in the workflow; duplicates are rejected. Adding a task
// bumps UpdatedAt but not Version.
func (e *Engine) AddTask(ctx context.Context, workflowID string, task *types.Task) error {
	wf, err := e.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if task == nil || task.ID == "" {
		return &ValidationError{WorkflowID: workflowID, Reason: "task ID cannot be empty"}
	}
	if _, ok := wf.Task(task.ID); ok {
		return &ValidationError{WorkflowID: workflowID, TaskID: task.ID, Reason: "duplicate task ID"}
	}
	for _, dep := range task.Dependencies {
		if _, ok := wf.Task(dep); !ok {
			return &ValidationError{
				WorkflowID: workflowID,
				TaskID:     task.ID,
				Reason:     fmt.Sprintf("dependency %q does not exist", dep),
			}
		}
	}
	if err := wf.AddTask(task); err != nil {
		return &ValidationError{WorkflowID: workflowID, TaskID: task.ID, Reason: err.Error()}
	}
	wf.UpdatedAt = e.clk.Now().UnixMilli()
	return e.storage.SaveWorkflow(ctx, wf)
}

// RemoveTask removes a task from a workflow. Removal is refused while other
// tasks still depend on it. Bumps UpdatedAt but not Version.
func (e *Engine) RemoveTask(ctx context.Context, workflowID, taskID string) error {
	wf, err := e.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if _, ok := wf.Task(taskID); !ok {
		return &ValidationError{WorkflowID: workflowID, TaskID: taskID, Reason: "task does not exist"}
	}
	for _, t := range wf.Tasks() {
		for _, dep := range t.Dependencies {
			if dep == taskID {
				return &ValidationError{
					WorkflowID: workflowID,
					TaskID:     taskID,
					Reason:     fmt.Sprintf("task %q still depends on it", t.ID),
				}
			}
		}
	}
	wf.RemoveTask(taskID)
	wf.UpdatedAt = e.clk.Now().UnixMilli()
	return e.storage.SaveWorkflow(ctx, wf)
}

// SetTaskPriority updates a task's declared priority. Effective priorities
// are recomputed from declared ones at the start of every run, so the change
// takes effect on the next run.
func (e *Engine) SetTaskPriority(ctx context.Context, workflowID, taskID string, priority int) error {
	wf, err := e.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	task, ok := wf.Task(taskID)
	if !ok {
		return &ValidationError{WorkflowID: workflowID, TaskID: taskID, Reason: "task does not exist"}
	}
	task.Priority = priority
	wf.UpdatedAt = e.clk.Now().UnixMilli()
	return e.storage.SaveWorkflow(ctx, wf)
}

// UpdateWorkflowMetadata updates a workflow's name and description. This is
// the only mutation that bumps Version.
func (e *Engine) UpdateWorkflowMetadata(ctx context.Context, workflowID, name, description string) error {
	wf, err := e.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if name != "" {
		wf.Name = name
	}
	wf.Description = description
	wf.Version++
	wf.UpdatedAt = e.clk.Now().UnixMilli()
	return e.storage.SaveWorkflow(ctx, wf)
}

// DeleteWorkflow removes a workflow from the engine and storage.
func (e *Engine) DeleteWorkflow(ctx context.Context, workflowID string) (bool, error) {
	ok, err := e.storage.DeleteWorkflow(ctx, workflowID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	delete(e.workflows, workflowID)
	delete(e.tenants, workflowID)
	e.mu.Unlock()
	return ok, nil
}

// GetRun retrieves a persisted run report.
func (e *Engine) GetRun(ctx context.Context, runID uint64) (*types.RunReport, error) {
	return e.storage.GetRun(ctx, runID)
}

// runLock returns the per-workflow mutex guarding against overlapping runs
// of the same workflow. Runs of different workflows are independent.
func (e *Engine) runLock(workflowID string) *sync.Mutex {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	l, ok := e.runLocks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		e.runLocks[workflowID] = l
	}
	return l
}

// publishEvent publishes an event best-effort; a full channel or missing
// handler never affects the run.
func (e *Engine) publishEvent(ctx context.Context, event events.Event) {
	if err := e.eventBus.Publish(ctx, event); err != nil &&
		!errors.Is(err, events.ErrNoHandler) && !errors.Is(err, events.ErrChannelFull) {
		e.logger.Errorf("failed to publish %s event: %v", event.Type, err)
	}
}

// Stop gracefully stops the engine's event processing.
func (e *Engine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		e.eventBus.Stop()
		return nil
	}
}
