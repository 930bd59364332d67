// Package mock provides in-memory implementations of the lifecycle
// collaborators. They are deterministic against an injected clock and are
// used by tests and by the server's local "mock" provider mode.
package mock

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/GoCodeAlone/gameserver/lifecycle"
)

// Operation names accepted by InjectError.
const (
	OpTrigger            = "Trigger"
	OpLatestExecution    = "LatestExecution"
	OpExecutionInput     = "ExecutionInput"
	OpExecutionStartTime = "ExecutionStartTime"
	OpStackStatus        = "StackStatus"
	OpStackOutput        = "StackOutput"
)

// Call records a single method invocation for assertion purposes.
type Call struct {
	Method string
	Args   []any
}

// Plan tells the engine how a freshly triggered execution behaves. A zero
// Plan keeps the execution RUNNING until SetStatus is called.
type Plan struct {
	// Duration after which the execution finishes. Ignored when Outcome
	// is empty.
	Duration time.Duration
	// Outcome is the final status once Duration has elapsed.
	Outcome lifecycle.ExecutionStatus
	// OnComplete runs once, under no engine lock, when the outcome is
	// applied.
	OnComplete func()
}

// Behavior decides the Plan of a new execution.
type Behavior func(now time.Time, payload map[string]any) Plan

type execution struct {
	workflowID string
	exec       lifecycle.WorkflowExecution
	plan       Plan
	settled    bool
}

// WorkflowEngine is an in-memory lifecycle.WorkflowEngine.
type WorkflowEngine struct {
	mu         sync.Mutex
	clock      clock.Clock
	byWorkflow map[string][]*execution
	byID       map[string]*execution
	behaviors  map[string]Behavior
	errs       map[string]error
	calls      []Call
}

var _ lifecycle.WorkflowEngine = (*WorkflowEngine)(nil)

// NewWorkflowEngine creates an empty engine. A nil clock uses the wall clock.
func NewWorkflowEngine(c clock.Clock) *WorkflowEngine {
	if c == nil {
		c = clock.WallClock
	}
	return &WorkflowEngine{
		clock:      c,
		byWorkflow: make(map[string][]*execution),
		byID:       make(map[string]*execution),
		behaviors:  make(map[string]Behavior),
		errs:       make(map[string]error),
	}
}

// SetBehavior installs the behavior for executions of workflowID triggered
// from now on.
func (e *WorkflowEngine) SetBehavior(workflowID string, b Behavior) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.behaviors[workflowID] = b
}

// InjectError makes every subsequent call of op fail with err. A nil err
// clears the failure.
func (e *WorkflowEngine) InjectError(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.errs, op)
		return
	}
	e.errs[op] = err
}

// Calls returns a copy of the recorded calls.
func (e *WorkflowEngine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Trigger starts a new execution at the current clock time.
func (e *WorkflowEngine) Trigger(_ context.Context, workflowID string, payload map[string]any) (string, error) {
	e.mu.Lock()
	e.record(OpTrigger, workflowID, payload)
	if err := e.errs[OpTrigger]; err != nil {
		e.mu.Unlock()
		return "", err
	}

	now := e.clock.Now()
	input := map[string]any{}
	maps.Copy(input, payload)
	x := &execution{
		workflowID: workflowID,
		exec: lifecycle.WorkflowExecution{
			ID:        fmt.Sprintf("arn:mock:execution:%s:%s", workflowID, uuid.New().String()),
			Status:    lifecycle.ExecutionRunning,
			StartTime: now,
			Input:     input,
		},
	}
	if b := e.behaviors[workflowID]; b != nil {
		x.plan = b(now, payload)
	}
	e.add(x)
	id := x.exec.ID
	e.mu.Unlock()

	// Plans with a zero duration complete immediately.
	e.Settle()
	return id, nil
}

// Seed adds an execution as-is, for example a historic failure. The
// execution is not subject to any behavior.
func (e *WorkflowEngine) Seed(workflowID string, exec lifecycle.WorkflowExecution) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec.ID == "" {
		exec.ID = fmt.Sprintf("arn:mock:execution:%s:%s", workflowID, uuid.New().String())
	}
	if exec.Input == nil {
		exec.Input = map[string]any{}
	}
	e.add(&execution{workflowID: workflowID, exec: exec, settled: true})
	return exec.ID
}

// SetStatus overrides the status of an execution.
func (e *WorkflowEngine) SetStatus(executionID string, status lifecycle.ExecutionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, ok := e.byID[executionID]
	if !ok {
		return fmt.Errorf("mock: execution %q does not exist", executionID)
	}
	x.exec.Status = status
	x.settled = true
	return nil
}

// LatestExecution returns the most recently started execution.
func (e *WorkflowEngine) LatestExecution(_ context.Context, workflowID string) (*lifecycle.WorkflowExecution, error) {
	e.Settle()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(OpLatestExecution, workflowID)
	if err := e.errs[OpLatestExecution]; err != nil {
		return nil, err
	}
	list := e.byWorkflow[workflowID]
	if len(list) == 0 {
		return nil, nil
	}
	// The list view, like the real service, omits the input.
	latest := list[len(list)-1].exec
	latest.Input = nil
	return &latest, nil
}

// ExecutionInput returns a copy of the execution input.
func (e *WorkflowEngine) ExecutionInput(_ context.Context, executionID string) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(OpExecutionInput, executionID)
	if err := e.errs[OpExecutionInput]; err != nil {
		return nil, err
	}
	x, ok := e.byID[executionID]
	if !ok {
		return nil, fmt.Errorf("mock: execution %q does not exist", executionID)
	}
	out := make(map[string]any, len(x.exec.Input))
	maps.Copy(out, x.exec.Input)
	return out, nil
}

// ExecutionStartTime returns the execution start time.
func (e *WorkflowEngine) ExecutionStartTime(_ context.Context, executionID string) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(OpExecutionStartTime, executionID)
	if err := e.errs[OpExecutionStartTime]; err != nil {
		return time.Time{}, err
	}
	x, ok := e.byID[executionID]
	if !ok {
		return time.Time{}, fmt.Errorf("mock: execution %q does not exist", executionID)
	}
	return x.exec.StartTime, nil
}

// Executions returns every execution of a workflow, oldest first.
func (e *WorkflowEngine) Executions(workflowID string) []lifecycle.WorkflowExecution {
	e.Settle()
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]lifecycle.WorkflowExecution, 0, len(e.byWorkflow[workflowID]))
	for _, x := range e.byWorkflow[workflowID] {
		out = append(out, x.exec)
	}
	return out
}

// Settle applies the outcome of every planned execution whose duration has
// elapsed, in start order.
func (e *WorkflowEngine) Settle() {
	e.mu.Lock()
	now := e.clock.Now()
	var due []*execution
	for _, x := range e.byID {
		if x.settled || x.plan.Outcome == "" || x.exec.Status != lifecycle.ExecutionRunning {
			continue
		}
		if x.exec.StartTime.Add(x.plan.Duration).After(now) {
			continue
		}
		x.exec.Status = x.plan.Outcome
		x.settled = true
		due = append(due, x)
	}
	e.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].exec.StartTime.Add(due[i].plan.Duration).Before(due[j].exec.StartTime.Add(due[j].plan.Duration))
	})
	for _, x := range due {
		if x.plan.OnComplete != nil {
			x.plan.OnComplete()
		}
	}
}

func (e *WorkflowEngine) add(x *execution) {
	list := append(e.byWorkflow[x.workflowID], x)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].exec.StartTime.Before(list[j].exec.StartTime)
	})
	e.byWorkflow[x.workflowID] = list
	e.byID[x.exec.ID] = x
}

func (e *WorkflowEngine) record(method string, args ...any) {
	e.calls = append(e.calls, Call{Method: method, Args: args})
}
