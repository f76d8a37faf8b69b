package domain

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a record does not exist, or when it exists
// but the acting user may not read it. Masking unreadable ids as not-found
// prevents probing for the existence of out-of-scope records.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// AccessDeniedError is returned when the permission table or ownership scope
// rejects a mutating operation.
type AccessDeniedError struct {
	Operation Operation
	Entity    EntityType
	Role      Role
}

func (e AccessDeniedError) Error() string {
	return fmt.Sprintf("role %s has no permission for %s on %s", e.Role, e.Operation, e.Entity)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsAccessDenied reports whether err is an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var ad AccessDeniedError
	return errors.As(err, &ad)
}
