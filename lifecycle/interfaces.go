package lifecycle

import (
	"context"
	"time"
)

// WorkflowEngine is the subset of a workflow service the controller needs.
// Workflows are addressed by an opaque identifier (a state machine ARN for
// AWS Step Functions).
type WorkflowEngine interface {
	// Trigger starts a new execution with the given payload (nil for none)
	// and returns its identifier.
	Trigger(ctx context.Context, workflowID string, payload map[string]any) (string, error)

	// LatestExecution returns the most recently started execution, or nil
	// when the workflow has never run.
	LatestExecution(ctx context.Context, workflowID string) (*WorkflowExecution, error)

	// ExecutionInput returns the decoded input payload of an execution.
	ExecutionInput(ctx context.Context, executionID string) (map[string]any, error)

	// ExecutionStartTime returns when an execution started.
	ExecutionStartTime(ctx context.Context, executionID string) (time.Time, error)
}

// StackDescriptor describes the deployed server stack.
type StackDescriptor interface {
	// StackStatus returns StackAbsent when the stack does not exist.
	StackStatus(ctx context.Context, stackName string) (StackStatus, error)

	// StackOutput returns an error wrapping ErrOutputNotFound when the
	// stack or the output key does not exist.
	StackOutput(ctx context.Context, stackName, outputKey string) (string, error)
}

// Observer receives the outcome of controller operations. It is used for
// metrics and must not block.
type Observer interface {
	ObserveResolution(res Resolution, err error)
	ObserveTrigger(operation string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveResolution(Resolution, error) {}
func (nopObserver) ObserveTrigger(string, error)        {}
