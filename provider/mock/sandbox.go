package mock

import (
	"time"

	"github.com/juju/clock"

	"github.com/GoCodeAlone/gameserver/lifecycle"
)

// SandboxConfig describes how the simulated workflows behave.
type SandboxConfig struct {
	ProvisionWorkflowID   string
	DeprovisionWorkflowID string
	StackName             string
	ServerIPOutputKey     string

	// ServerIP is published as the stack output once provisioning succeeds.
	ServerIP string

	ProvisionDuration   time.Duration
	DeprovisionDuration time.Duration

	// MinWait and MaxWait bound the accepted delayed-destroy wait. A wait
	// outside the window fails the deprovision execution immediately.
	MinWait time.Duration
	MaxWait time.Duration
}

// DefaultSandboxConfig returns the configuration used by the local server
// mode.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		ProvisionWorkflowID:   "arn:mock:stateMachine:provision",
		DeprovisionWorkflowID: "arn:mock:stateMachine:deprovision",
		StackName:             "gameserver",
		ServerIPOutputKey:     "ServerIp",
		ServerIP:              "192.0.2.10",
		ProvisionDuration:     2 * time.Minute,
		DeprovisionDuration:   time.Minute,
		MinWait:               30 * time.Minute,
		MaxWait:               180 * time.Minute,
	}
}

// Settings returns the controller settings that address the sandbox.
func (c SandboxConfig) Settings() lifecycle.Settings {
	return lifecycle.Settings{
		ProvisionWorkflowID:   c.ProvisionWorkflowID,
		DeprovisionWorkflowID: c.DeprovisionWorkflowID,
		StackName:             c.StackName,
		ServerIPOutputKey:     c.ServerIPOutputKey,
	}
}

// Sandbox wires a WorkflowEngine and a StackDescriptor so that the
// provision workflow creates the stack and the deprovision workflow deletes
// it, the way the real state machines do.
type Sandbox struct {
	Workflows *WorkflowEngine
	Stacks    *StackDescriptor
	cfg       SandboxConfig
}

// NewSandbox creates a sandbox. A nil clock uses the wall clock.
func NewSandbox(c clock.Clock, cfg SandboxConfig) *Sandbox {
	s := &Sandbox{
		Workflows: NewWorkflowEngine(c),
		Stacks:    NewStackDescriptor(),
		cfg:       cfg,
	}
	s.Stacks.beforeRead = s.Workflows.Settle
	s.Workflows.SetBehavior(cfg.ProvisionWorkflowID, s.provision)
	s.Workflows.SetBehavior(cfg.DeprovisionWorkflowID, s.deprovision)
	return s
}

// Config returns the sandbox configuration.
func (s *Sandbox) Config() SandboxConfig { return s.cfg }

func (s *Sandbox) provision(time.Time, map[string]any) Plan {
	return Plan{
		Duration: s.cfg.ProvisionDuration,
		Outcome:  lifecycle.ExecutionSucceeded,
		OnComplete: func() {
			s.Stacks.SetStatus(s.cfg.StackName, lifecycle.StackCreateComplete)
			s.Stacks.SetOutput(s.cfg.StackName, s.cfg.ServerIPOutputKey, s.cfg.ServerIP)
		},
	}
}

func (s *Sandbox) deprovision(_ time.Time, payload map[string]any) Plan {
	req, delayed, err := lifecycle.ParseDelayedDestroyRequest(payload)
	if err != nil {
		return Plan{Outcome: lifecycle.ExecutionFailed}
	}
	var wait time.Duration
	if delayed {
		wait = req.Wait()
		if wait < s.cfg.MinWait || wait > s.cfg.MaxWait {
			return Plan{Outcome: lifecycle.ExecutionFailed}
		}
	}
	return Plan{
		Duration: wait + s.cfg.DeprovisionDuration,
		Outcome:  lifecycle.ExecutionSucceeded,
		OnComplete: func() {
			s.Stacks.Delete(s.cfg.StackName)
			s.Stacks.SetStatus(s.cfg.StackName, lifecycle.StackDeleteComplete)
		},
	}
}
