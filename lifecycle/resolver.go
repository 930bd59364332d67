package lifecycle

import (
	"fmt"
	"time"
)

// Observation is everything the resolver needs from the outside world,
// captured at one instant. Provision and Deprovision are the latest
// execution of each workflow, nil when the workflow never ran.
//
// The resolver assumes the two workflows are never triggered concurrently
// in a way that leaves the observation without a matching rule; when that
// happens Resolve returns ErrResolverContradiction instead of guessing.
type Observation struct {
	Provision   *WorkflowExecution
	Deprovision *WorkflowExecution
	Stack       StackStatus
}

// Rule identifies which resolver rule produced a status.
type Rule string

const (
	RuleProvisionRunning   Rule = "provision-running"
	RuleDeprovisionRunning Rule = "deprovision-running"
	RuleDeprovisionDue     Rule = "deprovision-due"
	RuleSingleFailure      Rule = "single-failure"
	RuleLatestFailure      Rule = "latest-failure"
	RuleStackOnline        Rule = "stack-online"
	RuleStackOffline       Rule = "stack-offline"
)

// Resolution is the detailed outcome of resolving an Observation.
type Resolution struct {
	Status DeploymentStatus `json:"status"`
	Rule   Rule             `json:"rule"`

	// ScheduledStop is set when a deprovision execution is waiting for its
	// delayed destroy to become due.
	ScheduledStop *time.Time `json:"scheduled_stop_time,omitempty"`
}

// Resolve maps an Observation to exactly one DeploymentStatus. It performs
// no I/O and is safe for concurrent use.
func Resolve(obs Observation, now time.Time) (DeploymentStatus, error) {
	res, err := ResolveDetailed(obs, now)
	if err != nil {
		return "", err
	}
	return res.Status, nil
}

// ResolveDetailed is Resolve but also reports the matching rule and any
// pending delayed destroy.
func ResolveDetailed(obs Observation, now time.Time) (Resolution, error) {
	prov, deprov := obs.Provision, obs.Deprovision

	if prov != nil && prov.Status == ExecutionRunning {
		return Resolution{Status: ServerProvisioning, Rule: RuleProvisionRunning}, nil
	}

	var scheduled *time.Time
	if deprov != nil && deprov.Status == ExecutionRunning {
		req, delayed, err := ParseDelayedDestroyRequest(deprov.Input)
		if err != nil {
			return Resolution{}, fmt.Errorf("deprovision execution %s: %w", deprov.ID, err)
		}
		if !delayed {
			return Resolution{Status: ServerDeprovisioning, Rule: RuleDeprovisionRunning}, nil
		}
		wait := req.Wait()
		if now.Sub(deprov.StartTime) >= wait {
			return Resolution{Status: ServerDeprovisioning, Rule: RuleDeprovisionDue}, nil
		}
		due := deprov.StartTime.Add(wait)
		// Still waiting: the server keeps whatever status the rest of the
		// rules give it.
		scheduled = &due
	}

	switch {
	case prov != nil && deprov == nil && prov.Status == ExecutionFailed:
		return Resolution{Status: ServerProvisioningFailed, Rule: RuleSingleFailure}, nil
	case prov == nil && deprov != nil && deprov.Status == ExecutionFailed:
		return Resolution{Status: ServerDeprovisioningFailed, Rule: RuleSingleFailure}, nil
	case prov != nil && deprov != nil && prov.Status == ExecutionFailed && deprov.Status == ExecutionFailed:
		// A later attempt supersedes an earlier one; ties favor provisioning.
		if !prov.StartTime.Before(deprov.StartTime) {
			return Resolution{Status: ServerProvisioningFailed, Rule: RuleLatestFailure}, nil
		}
		return Resolution{Status: ServerDeprovisioningFailed, Rule: RuleLatestFailure}, nil
	}

	switch obs.Stack {
	case StackCreateComplete, StackUpdateComplete:
		return Resolution{Status: ServerOnline, Rule: RuleStackOnline, ScheduledStop: scheduled}, nil
	case StackDeleteComplete, StackAbsent:
		return Resolution{Status: ServerOffline, Rule: RuleStackOffline, ScheduledStop: scheduled}, nil
	}

	return Resolution{}, fmt.Errorf("%w: %s", ErrResolverContradiction, obs)
}

// String renders the observation for logs and error messages.
func (o Observation) String() string {
	stack := string(o.Stack)
	if o.Stack == StackAbsent {
		stack = "<absent>"
	}
	return fmt.Sprintf("provision=%s deprovision=%s stack=%s",
		describeExecution(o.Provision), describeExecution(o.Deprovision), stack)
}

func describeExecution(e *WorkflowExecution) string {
	if e == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s(%s@%s)", e.Status, e.ID, e.StartTime.UTC().Format(time.RFC3339))
}
