package mock

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/gameserver/lifecycle"
)

// Fixture is a YAML description of pre-existing executions and stacks,
// used to start the sandbox in a particular state.
//
//	stacks:
//	  - name: gameserver
//	    status: CREATE_COMPLETE
//	    outputs:
//	      ServerIp: 192.0.2.10
//	executions:
//	  - workflow: arn:mock:stateMachine:provision
//	    status: FAILED
//	    start_time: 2026-01-02T15:04:05Z
type Fixture struct {
	Stacks     []FixtureStack     `yaml:"stacks"`
	Executions []FixtureExecution `yaml:"executions"`
}

// FixtureStack seeds one stack.
type FixtureStack struct {
	Name    string            `yaml:"name"`
	Status  string            `yaml:"status"`
	Outputs map[string]string `yaml:"outputs"`
}

// FixtureExecution seeds one workflow execution.
type FixtureExecution struct {
	Workflow  string         `yaml:"workflow"`
	ID        string         `yaml:"id"`
	Status    string         `yaml:"status"`
	StartTime time.Time      `yaml:"start_time"`
	Input     map[string]any `yaml:"input"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes fixture YAML and checks that every entry is usable.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for i, s := range f.Stacks {
		if s.Name == "" {
			return nil, fmt.Errorf("fixture stack %d: name is required", i)
		}
	}
	for i, e := range f.Executions {
		if e.Workflow == "" {
			return nil, fmt.Errorf("fixture execution %d: workflow is required", i)
		}
		switch lifecycle.ExecutionStatus(e.Status) {
		case lifecycle.ExecutionRunning, lifecycle.ExecutionSucceeded, lifecycle.ExecutionFailed,
			lifecycle.ExecutionTimedOut, lifecycle.ExecutionAborted:
		default:
			return nil, fmt.Errorf("fixture execution %d: unknown status %q", i, e.Status)
		}
		if e.StartTime.IsZero() {
			return nil, fmt.Errorf("fixture execution %d: start_time is required", i)
		}
	}
	return &f, nil
}

// Apply seeds the fixture into a sandbox.
func (f *Fixture) Apply(s *Sandbox) {
	for _, st := range f.Stacks {
		s.Stacks.SetStatus(st.Name, lifecycle.StackStatus(st.Status))
		for k, v := range st.Outputs {
			s.Stacks.SetOutput(st.Name, k, v)
		}
	}
	for _, e := range f.Executions {
		s.Workflows.Seed(e.Workflow, lifecycle.WorkflowExecution{
			ID:        e.ID,
			Status:    lifecycle.ExecutionStatus(e.Status),
			StartTime: e.StartTime,
			Input:     e.Input,
		})
	}
}
