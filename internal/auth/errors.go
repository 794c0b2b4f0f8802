package auth

import "errors"

var (
	// ErrUnauthenticated means no identity could be established.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrForbidden means the identity lacks the permission or role level required.
	ErrForbidden = errors.New("auth: insufficient permission")
	// ErrInvalidInput wraps validation failures; the message names the field.
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: conflict")
	// ErrSystemRole is returned when deleting or altering a built-in role.
	ErrSystemRole = errors.New("auth: system role cannot be modified")
)
