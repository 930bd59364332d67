// Package lifecycle reconciles the provisioning workflow, the deprovisioning
// workflow and the deployed server stack into a single server status, and
// exposes the start/stop/status operations built on top of it.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ExecutionStatus is the status of a single workflow execution as reported
// by the workflow engine.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecutionAborted   ExecutionStatus = "ABORTED"
)

// WorkflowExecution is one observed run of a workflow. A nil
// *WorkflowExecution means the workflow has never run.
type WorkflowExecution struct {
	ID        string          `json:"execution_id"`
	Status    ExecutionStatus `json:"status"`
	StartTime time.Time       `json:"start_time"`
	Input     map[string]any  `json:"input,omitempty"`
}

// StackStatus is the status string of the deployed server stack, for
// example CREATE_COMPLETE. StackAbsent means the stack does not exist.
type StackStatus string

const (
	StackAbsent         StackStatus = ""
	StackCreateComplete StackStatus = "CREATE_COMPLETE"
	StackUpdateComplete StackStatus = "UPDATE_COMPLETE"
	StackDeleteComplete StackStatus = "DELETE_COMPLETE"
)

// DeploymentStatus is the lifecycle state exposed to API clients. It is
// derived on every query and never stored.
type DeploymentStatus string

const (
	ServerOffline              DeploymentStatus = "SERVER_OFFLINE"
	ServerProvisioning         DeploymentStatus = "SERVER_PROVISIONING"
	ServerProvisioningFailed   DeploymentStatus = "SERVER_PROVISIONING_FAILED"
	ServerOnline               DeploymentStatus = "SERVER_ONLINE"
	ServerDeprovisioning       DeploymentStatus = "SERVER_DEPROVISIONING"
	ServerDeprovisioningFailed DeploymentStatus = "SERVER_DEPROVISIONING_FAILED"
)

// AllDeploymentStatuses lists every status in a stable order.
var AllDeploymentStatuses = []DeploymentStatus{
	ServerOffline,
	ServerProvisioning,
	ServerProvisioningFailed,
	ServerOnline,
	ServerDeprovisioning,
	ServerDeprovisioningFailed,
}

// WaitSecondsBeforeDestroyKey is the deprovision workflow input key holding
// the delay before the destroy action runs.
const WaitSecondsBeforeDestroyKey = "wait_seconds_before_destroy"

// MinPlayTimeMinutes is the shortest play session accepted by Launch.
const MinPlayTimeMinutes = 30

// MaxWaitSeconds is the longest destroy delay that fits in a time.Duration.
// Larger waits read from execution input are clamped to it.
const MaxWaitSeconds = int64(math.MaxInt64 / int64(time.Second))

// MaxWaitMinutes is the longest delay StopServerAfter accepts.
const MaxWaitMinutes = MaxWaitSeconds / 60

// DelayedDestroyRequest is the optional payload of a deprovision execution
// asking the workflow to wait before destroying the server.
type DelayedDestroyRequest struct {
	WaitSeconds int64
}

// NewDelayedDestroyRequest converts a delay in minutes to a request,
// clamped to MaxWaitSeconds.
func NewDelayedDestroyRequest(minutes int) DelayedDestroyRequest {
	if int64(minutes) > MaxWaitMinutes {
		return DelayedDestroyRequest{WaitSeconds: MaxWaitSeconds}
	}
	return DelayedDestroyRequest{WaitSeconds: int64(minutes) * 60}
}

// Wait returns the delay as a duration, clamped to [0, MaxWaitSeconds].
func (d DelayedDestroyRequest) Wait() time.Duration {
	switch {
	case d.WaitSeconds <= 0:
		return 0
	case d.WaitSeconds >= MaxWaitSeconds:
		return time.Duration(MaxWaitSeconds) * time.Second
	}
	return time.Duration(d.WaitSeconds) * time.Second
}

// Payload returns the workflow input carrying this request.
func (d DelayedDestroyRequest) Payload() map[string]any {
	return map[string]any{WaitSecondsBeforeDestroyKey: d.WaitSeconds}
}

// ParseDelayedDestroyRequest extracts the delayed-destroy request from a
// deprovision execution input. ok is false when the input carries no wait
// value. A value that is present but not a non-negative whole number is an
// error wrapping ErrMalformedExecutionInput.
func ParseDelayedDestroyRequest(input map[string]any) (req DelayedDestroyRequest, ok bool, err error) {
	raw, present := input[WaitSecondsBeforeDestroyKey]
	if !present || raw == nil {
		return DelayedDestroyRequest{}, false, nil
	}

	var seconds float64
	switch v := raw.(type) {
	case float64:
		seconds = v
	case float32:
		seconds = float64(v)
	case int:
		seconds = float64(v)
	case int32:
		seconds = float64(v)
	case int64:
		seconds = float64(v)
	case json.Number:
		seconds, err = v.Float64()
	case string:
		seconds, err = strconv.ParseFloat(v, 64)
	default:
		err = fmt.Errorf("unsupported type %T", raw)
	}
	if err == nil && (seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds != math.Trunc(seconds)) {
		err = fmt.Errorf("value %v is not a non-negative whole number", raw)
	}
	if err != nil {
		return DelayedDestroyRequest{}, false, fmt.Errorf("%w: %s: %v", ErrMalformedExecutionInput, WaitSecondsBeforeDestroyKey, err)
	}
	if seconds >= float64(MaxWaitSeconds) {
		return DelayedDestroyRequest{WaitSeconds: MaxWaitSeconds}, true, nil
	}
	return DelayedDestroyRequest{WaitSeconds: int64(seconds)}, true, nil
}
