package attendance

import (
	"errors"
)

var (
	ErrSessionLocked    = errors.New("session locked, cannot self-check-in")
	ErrOverrideRequired = errors.New("override reason required")
	ErrAutoManaged      = errors.New("attendance is auto-managed for this participant")
	ErrPreviewHasErrors = errors.New("preview contains invalid rows")
	ErrInvalidSession   = errors.New("invalid session parameters")
	ErrStudentRequired  = errors.New("student id required")
)

// Result is the caller-facing outcome of a mutation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ResultOf converts an error returned by the service into a Result.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	return Result{Success: false, Message: err.Error()}
}

// outcome labels an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSessionLocked):
		return "locked"
	case errors.Is(err, ErrOverrideRequired):
		return "override_required"
	case errors.Is(err, ErrAutoManaged):
		return "conflict"
	default:
		return "error"
	}
}
