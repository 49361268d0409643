package pricing

import "fmt"

// ValidationError reports a malformed pricing input, such as a tier with a
// non-numeric bound. It is returned to the caller, never replaced by a default.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid pricing input: " + e.Reason
	}
	return fmt.Sprintf("invalid pricing input: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Message levels, mirroring calculation messages surfaced to the operator.
const (
	LevelWarning = "WARNING"
)

// Message codes.
const (
	CodeUnknownCommissionModel = "UNKNOWN_COMMISSION_MODEL"
	CodeTargetUnreachable      = "TARGET_UNREACHABLE"
	CodeSolverNotConverged     = "SOLVER_NOT_CONVERGED"
)

// Message is a non-fatal note attached to a calculation result.
type Message struct {
	Level string `json:"level"`
	Code  string `json:"code"`
	Text  string `json:"message"`
}
