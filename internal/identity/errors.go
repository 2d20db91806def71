package identity

import "errors"

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrPhoneTaken is returned when another user already owns the phone number.
	ErrPhoneTaken = errors.New("phone number already registered")
	// ErrInvalidInput wraps registration validation failures.
	ErrInvalidInput = errors.New("invalid user input")
)
