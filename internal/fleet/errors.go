package fleet

import (
	"errors"
	"fmt"
)

// Enrollment sentinels, surfaced as 401 by the HTTP layer.
var (
	ErrTokenNotFound = errors.New("enrollment token not found")
	ErrTokenExpired  = errors.New("enrollment token expired")
)

// NotFoundError reports a missing profile, device, script, action, or
// other hard dependency. Callers should not retry.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ValidationError reports bad input shape or conflicting enum values.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError reports a duplicate unique name or a delete blocked by a
// live reference.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func notFound(resource string, id int64) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
