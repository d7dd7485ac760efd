package schedule

import (
	"errors"
	"fmt"
)

// ErrInvalidSchedule is matched by every ValidationError.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ErrUnknownMeal is returned by MealTimes when a meal has no configured time.
var ErrUnknownMeal = errors.New("unknown meal")

// ValidationError reports a malformed schedule definition. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule: %s %s", e.Field, e.Reason)
}

// Unwrap lets callers match any validation failure with errors.Is(err, ErrInvalidSchedule).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidSchedule
}

func missing(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
