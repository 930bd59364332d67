package lifecycle

import (
	"errors"
	"fmt"
)

// Sentinel errors for lifecycle operations.
var (
	// ErrCollaboratorUnavailable wraps any failure of the workflow engine or
	// the stack descriptor. It is never retried here.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrResolverContradiction means no status rule matched the observed
	// inputs, which indicates the external workflows broke their own
	// invariants (for example a stack stuck in ROLLBACK_COMPLETE).
	ErrResolverContradiction = errors.New("no deployment status rule matched")

	// ErrOutputNotFound is returned when a stack output key is absent,
	// usually because the server stack is not online.
	ErrOutputNotFound = errors.New("stack output not found")

	// ErrMalformedExecutionInput is returned when a workflow execution input
	// cannot be interpreted.
	ErrMalformedExecutionInput = errors.New("malformed execution input")
)

// ValidationError reports caller-supplied parameters that violate a
// constraint. It is raised before any collaborator call is made.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// unavailable marks err as a collaborator failure. Unreadable execution
// input is a data error, not an outage, and keeps only its own sentinel.
func unavailable(op string, err error) error {
	if errors.Is(err, ErrMalformedExecutionInput) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrCollaboratorUnavailable, op, err)
}
