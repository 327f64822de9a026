package lifecycle

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable rejection code carried by Error.
type Reason string

const (
	ReasonNotFound           Reason = "not-found"
	ReasonForbidden          Reason = "forbidden-role"
	ReasonSeparationOfDuties Reason = "separation-of-duties"
	ReasonInvalidCoordinates Reason = "invalid-coordinates"
	ReasonInvalidInput       Reason = "invalid-input"
	ReasonConflict           Reason = "conflict"
)

// Error is the structured rejection returned when a batch of actions is
// refused. A rejection always aborts the whole batch; no partial snapshot is
// ever returned alongside one.
type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func reject(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from an error, or empty if the error
// did not originate in the lifecycle engine.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
