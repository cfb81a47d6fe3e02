package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/songzhibin97/task-scheduler/graph"
	"github.com/songzhibin97/task-scheduler/retry"
	"github.com/songzhibin97/task-scheduler/types"
)

// Failure messages recorded in task results. Downstream consumers match on
// these strings, keep them stable.
const (
	msgDependencyFailed = "Dependency task failed"
	msgCircular         = "circular dependency detected"
	msgRunCanceled      = "run canceled"
)

// resultSet collects task results as parallel workers finish. Writes are
// serialized so that dependents observe a consistent view of their
// dependencies' outcomes.
type resultSet struct {
	mu sync.Mutex
	m  map[string]types.TaskResult
}

func newResultSet() *resultSet {
	return &resultSet{m: make(map[string]types.TaskResult)}
}

func (r *resultSet) set(taskID string, res types.TaskResult) {
	r.mu.Lock()
	r.m[taskID] = res
	r.mu.Unlock()
}

func (r *resultSet) get(taskID string) (types.TaskResult, bool) {
	r.mu.Lock()
	res, ok := r.m[taskID]
	r.mu.Unlock()
	return res, ok
}

// RunWorkflow executes a workflow once and returns its run report. Runs of
// the same workflow are serialized; use ScheduleWorkflow for skip-on-overlap
// semantics. Task failures never surface as the returned error: they are
// captured per-task in the report.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID string, runCtx map[string]interface{}) (*types.RunReport, error) {
	wf, err := e.getWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	lock := e.runLock(workflowID)
	lock.Lock()
	defer lock.Unlock()

	return e.runLocked(ctx, wf, runCtx)
}

// runLocked executes one run of wf. The caller must hold the workflow's run
// lock.
func (e *Engine) runLocked(ctx context.Context, wf *types.Workflow, runCtx map[string]interface{}) (*types.RunReport, error) {
	for _, t := range wf.Tasks() {
		if t.Handler == nil {
			return nil, fmt.Errorf("%w: task %q in workflow %q", ErrNilHandler, t.ID, wf.ID)
		}
	}

	runID, err := e.generate.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	report := &types.RunReport{
		RunID:      runID,
		WorkflowID: wf.ID,
		StartedAt:  e.clk.Now().UnixMilli(),
	}

	wf.Status = types.WorkflowRunning
	for _, t := range wf.Tasks() {
		t.State = types.TaskPending
	}
	e.publishEvent(ctx, workflowStartedEvent(wf.ID, runID))
	e.logger.Infof("workflow %s run %d started", wf.ID, runID)

	g := graph.FromWorkflow(wf)
	order, cycles := g.PartialOrder()
	results := newResultSet()

	// Tasks trapped in a cycle can never run. They fail up front and doom
	// their dependents through the ordinary dependency check.
	for _, cycle := range cycles {
		for _, id := range cycle {
			if t, ok := wf.Task(id); ok {
				t.State = types.TaskFailure
			}
			results.set(id, types.TaskResult{
				Success: false,
				Error:   msgCircular,
				Status:  types.TaskFailure,
			})
			e.publishEvent(ctx, taskStateEvent(wf.ID, runID, id, types.TaskFailure))
		}
		e.logger.Errorf("workflow %s run %d: circular dependency %v", wf.ID, runID, cycle)
	}

	priorities := g.EffectivePriorities()
	levels := groupLevels(wf, order, priorities)

	if e.partitioner != nil && len(e.clients) > 0 {
		report.Allocations = e.partitioner.AllocateResources(e.clients, e.nodes)
	}
	weight := e.parallelWeight(wf.ID, report.Allocations)
	sem := semaphore.NewWeighted(weight)

	canceled := false
	for _, level := range levels {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		var eg errgroup.Group
		for _, taskID := range level {
			task, ok := wf.Task(taskID)
			if !ok {
				continue
			}
			eg.Go(func() error {
				if err := sem.Acquire(ctx, 1); err != nil {
					task.State = types.TaskFailure
					results.set(task.ID, types.TaskResult{
						Success: false,
						Error:   msgRunCanceled,
						Status:  types.TaskFailure,
					})
					return nil
				}
				defer sem.Release(1)
				e.executeTask(ctx, wf, task, runID, runCtx, results)
				return nil
			})
		}
		// Workers never return errors; failures live in the result set.
		_ = eg.Wait()
	}
	if canceled {
		for _, t := range wf.Tasks() {
			if _, ok := results.get(t.ID); !ok {
				t.State = types.TaskFailure
				results.set(t.ID, types.TaskResult{
					Success: false,
					Error:   msgRunCanceled,
					Status:  types.TaskFailure,
				})
			}
		}
	}

	success := true
	for _, t := range wf.Tasks() {
		res, ok := results.get(t.ID)
		if !ok || !res.Success {
			success = false
			break
		}
	}

	now := e.clk.Now()
	if success {
		wf.Status = types.WorkflowSuccess
	} else {
		wf.Status = types.WorkflowFailed
	}
	wf.LastRunAt = now.UnixMilli()
	if wf.Schedule != nil {
		wf.Schedule.MarkRun(now)
	}

	report.Success = success
	report.TaskResults = results.m
	report.FinishedAt = now.UnixMilli()

	if err := e.storage.SaveRun(ctx, report); err != nil {
		e.logger.Errorf("workflow %s run %d: failed to save run: %v", wf.ID, runID, err)
	}
	if err := e.storage.SaveWorkflow(ctx, wf); err != nil {
		e.logger.Errorf("workflow %s run %d: failed to save workflow: %v", wf.ID, runID, err)
	}

	e.publishEvent(ctx, workflowFinishedEvent(wf.ID, runID, success))
	e.logger.Infof("workflow %s run %d finished, success=%t", wf.ID, runID, success)

	return report, nil
}

// executeTask runs a single task: dependency check, guard condition, then
// the handler under the task's retry policy. The outcome always lands in
// results, it is never surfaced as an error.
func (e *Engine) executeTask(ctx context.Context, wf *types.Workflow, task *types.Task, runID uint64, runCtx map[string]interface{}, results *resultSet) {
	for _, dep := range task.Dependencies {
		res, ok := results.get(dep)
		if ok && !res.Success {
			task.State = types.TaskFailure
			results.set(task.ID, types.TaskResult{
				Success: false,
				Error:   msgDependencyFailed,
				Status:  types.TaskFailure,
			})
			e.publishEvent(ctx, taskStateEvent(wf.ID, runID, task.ID, types.TaskFailure))
			return
		}
		// A dependency absent from both the workflow and the result set is
		// dangling; it counts as satisfied.
	}

	taskCtx := make(map[string]interface{}, len(runCtx)+len(task.Dependencies))
	for k, v := range runCtx {
		taskCtx[k] = v
	}
	for _, dep := range task.Dependencies {
		if res, ok := results.get(dep); ok {
			taskCtx[dep] = res.Result
		}
	}

	if task.Condition != "" {
		pass, err := e.evaluator.Evaluate(task.Condition, taskCtx)
		if err != nil {
			task.State = types.TaskFailure
			results.set(task.ID, types.TaskResult{
				Success: false,
				Error:   fmt.Sprintf("condition evaluation failed: %v", err),
				Status:  types.TaskFailure,
			})
			e.publishEvent(ctx, taskStateEvent(wf.ID, runID, task.ID, types.TaskFailure))
			return
		}
		if !pass {
			// Guard declined: the task is skipped, which counts as success.
			task.State = types.TaskSuccess
			results.set(task.ID, types.TaskResult{
				Success:  true,
				Status:   types.TaskSuccess,
				Attempts: 0,
			})
			e.publishEvent(ctx, taskStateEvent(wf.ID, runID, task.ID, types.TaskSuccess))
			return
		}
	}

	task.State = types.TaskRunning
	e.publishEvent(ctx, taskStateEvent(wf.ID, runID, task.ID, types.TaskRunning))

	attempts := 0
	op := func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts > 1 {
			task.State = types.TaskRetrying
			e.publishEvent(ctx, taskStateEvent(wf.ID, runID, task.ID, types.TaskRetrying))
		}
		return task.Handler(ctx, taskCtx)
	}

	value, err := e.taskExecutor(task).Call(ctx, op)
	if err != nil {
		task.State = types.TaskFailure
		results.set(task.ID, types.TaskResult{
			Success:  false,
			Error:    err.Error(),
			Status:   types.TaskFailure,
			Attempts: attempts,
		})
		e.publishEvent(ctx, taskStateEvent(wf.ID, runID, task.ID, types.TaskFailure))
		e.logger.Errorf("workflow %s run %d: task %s failed after %d attempt(s): %v", wf.ID, runID, task.ID, attempts, err)
		return
	}

	task.State = types.TaskSuccess
	results.set(task.ID, types.TaskResult{
		Success:  true,
		Result:   value,
		Status:   types.TaskSuccess,
		Attempts: attempts,
	})
	e.publishEvent(ctx, taskStateEvent(wf.ID, runID, task.ID, types.TaskSuccess))
}

// taskExecutor builds the retry executor for a task. A task without a retry
// spec runs exactly once but still goes through the executor so that audit
// hooks observe every task uniformly.
func (e *Engine) taskExecutor(task *types.Task) *retry.Executor {
	opts := []retry.Option{
		retry.WithClock(e.clk),
		retry.WithHook(e.hook),
		retry.WithLogger(e.logger),
	}
	spec := task.Retry
	if spec == nil {
		opts = append(opts, retry.WithStopCondition(retry.MaxAttempts(1)))
		return retry.New(opts...)
	}

	max := spec.MaxAttempts
	if max < 1 {
		max = 1
	}
	opts = append(opts, retry.WithStopCondition(retry.MaxAttempts(max)))

	backoff := retry.ExponentialBackoff{
		Initial:    time.Duration(spec.InitialDelaySec * float64(time.Second)),
		Multiplier: spec.Multiplier,
		Max:        time.Duration(spec.MaxDelaySec * float64(time.Second)),
	}
	opts = append(opts, retry.WithBackoff(backoff))
	return retry.New(opts...)
}

// parallelWeight returns the semaphore weight for a run: the workflow's
// tenant allocation when partitioning is configured, otherwise the engine's
// global parallelism limit. Never less than 1, so a run always progresses.
func (e *Engine) parallelWeight(workflowID string, allocs map[string]types.ResourceAllocation) int64 {
	if allocs != nil {
		e.mu.RLock()
		clientID, bound := e.tenants[workflowID]
		e.mu.RUnlock()
		if bound {
			if alloc, ok := allocs[clientID]; ok {
				if n := int64(len(alloc.AllocatedNodes)); n > 0 {
					return n
				}
				return 1
			}
		}
	}
	if e.maxParallel > 0 {
		return e.maxParallel
	}
	return 1
}

// groupLevels partitions the topological order into waves of tasks whose
// dependencies have all completed in earlier waves. Tasks excluded from the
// order (cycle members) count as completed: they already carry failure
// results. Within a wave, tasks sort by effective priority descending, then
// by topological position.
func groupLevels(wf *types.Workflow, order []string, priorities map[string]int) [][]string {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	done := make(map[string]bool, wf.Len())
	for _, t := range wf.Tasks() {
		if _, ok := pos[t.ID]; !ok {
			done[t.ID] = true
		}
	}

	var levels [][]string
	remaining := order
	for len(remaining) > 0 {
		var level, next []string
		for _, id := range remaining {
			task, ok := wf.Task(id)
			if !ok {
				continue
			}
			ready := true
			for _, dep := range task.Dependencies {
				if _, inWf := wf.Task(dep); inWf && !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, id)
			} else {
				next = append(next, id)
			}
		}
		if len(level) == 0 {
			// Cannot happen for a valid partial order; guard against loops.
			level = next[:1]
			next = next[1:]
		}
		sort.SliceStable(level, func(i, j int) bool {
			pi, pj := priorities[level[i]], priorities[level[j]]
			if pi != pj {
				return pi > pj
			}
			return pos[level[i]] < pos[level[j]]
		})
		for _, id := range level {
			done[id] = true
		}
		levels = append(levels, level)
		remaining = next
	}
	return levels
}
