package scheduling

import (
	"errors"
	"fmt"
)

// Error kinds returned by the booking core. Callers match them with errors.Is;
// the concrete error usually wraps one of these with request-specific detail.
var (
	ErrValidation          = errors.New("validation failed")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrConflict            = errors.New("slot already booked")
	ErrPolicyViolation     = errors.New("operation not permitted by policy")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotFound            = errors.New("not found")
)

// InvalidTransitionError names the attempted and current states of a rejected
// status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: cannot move from %s to %s", e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(what string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, what, id)
}
