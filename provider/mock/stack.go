package mock

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/GoCodeAlone/gameserver/lifecycle"
)

type stack struct {
	status  lifecycle.StackStatus
	outputs map[string]string
}

// StackDescriptor is an in-memory lifecycle.StackDescriptor.
type StackDescriptor struct {
	mu     sync.Mutex
	stacks map[string]*stack
	errs   map[string]error
	calls  []Call

	// beforeRead runs before every read, outside the lock. The sandbox uses
	// it to let elapsed workflow executions update the stack first.
	beforeRead func()
}

var _ lifecycle.StackDescriptor = (*StackDescriptor)(nil)

// NewStackDescriptor creates a descriptor with no stacks.
func NewStackDescriptor() *StackDescriptor {
	return &StackDescriptor{
		stacks: make(map[string]*stack),
		errs:   make(map[string]error),
	}
}

// SetStatus creates or updates a stack.
func (s *StackDescriptor) SetStatus(name string, status lifecycle.StackStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stacks[name]
	if !ok {
		st = &stack{outputs: make(map[string]string)}
		s.stacks[name] = st
	}
	st.status = status
}

// SetOutput sets an output value, creating the stack if needed.
func (s *StackDescriptor) SetOutput(name, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stacks[name]
	if !ok {
		st = &stack{outputs: make(map[string]string)}
		s.stacks[name] = st
	}
	st.outputs[key] = value
}

// Delete removes a stack entirely.
func (s *StackDescriptor) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stacks, name)
}

// InjectError makes every subsequent call of op fail with err. A nil err
// clears the failure.
func (s *StackDescriptor) InjectError(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = err
}

// Calls returns a copy of the recorded calls.
func (s *StackDescriptor) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// StackStatus returns lifecycle.StackAbsent for unknown stacks.
func (s *StackDescriptor) StackStatus(_ context.Context, name string) (lifecycle.StackStatus, error) {
	if s.beforeRead != nil {
		s.beforeRead()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: OpStackStatus, Args: []any{name}})
	if err := s.errs[OpStackStatus]; err != nil {
		return lifecycle.StackAbsent, err
	}
	st, ok := s.stacks[name]
	if !ok {
		return lifecycle.StackAbsent, nil
	}
	return st.status, nil
}

// StackOutput returns an output value.
func (s *StackDescriptor) StackOutput(_ context.Context, name, key string) (string, error) {
	if s.beforeRead != nil {
		s.beforeRead()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: OpStackOutput, Args: []any{name, key}})
	if err := s.errs[OpStackOutput]; err != nil {
		return "", err
	}
	st, ok := s.stacks[name]
	if !ok {
		return "", fmt.Errorf("stack %q: %w", name, lifecycle.ErrOutputNotFound)
	}
	v, ok := st.outputs[key]
	if !ok {
		return "", fmt.Errorf("stack %q output %q: %w", name, key, lifecycle.ErrOutputNotFound)
	}
	return v, nil
}

// Outputs returns a copy of a stack's outputs.
func (s *StackDescriptor) Outputs(name string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	if st, ok := s.stacks[name]; ok {
		maps.Copy(out, st.outputs)
	}
	return out
}
