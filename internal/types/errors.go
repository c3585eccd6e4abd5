package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every learning component.
//
// Operations report "nothing found" with ErrNotFound, malformed input with an
// *InvalidError, and operation-specific rejections with the sentinels below.
// Callers discriminate with errors.Is / errors.As.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalid              = errors.New("invalid")
	ErrBehaviorInactive     = errors.New("behavior is not active")
	ErrApprovalRequired     = errors.New("behavior requires approval")
	ErrAccessDenied         = errors.New("access denied")
	ErrExperimentNotRunning = errors.New("experiment is not running")
	ErrLimitExceeded        = errors.New("limit exceeded")
)

// InvalidError carries the reason an input was rejected.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid: %s", e.Reason)
}

// Is lets errors.Is(err, ErrInvalid) match any InvalidError.
func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalid
}

// Invalidf builds an InvalidError with a formatted reason.
func Invalidf(format string, args ...interface{}) error {
	return &InvalidError{Reason: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the kind and id of the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
