package locker

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced locker or user does not exist.
	ErrNotFound = errors.New("locker not found")
	// ErrNotOwner is returned when a user acts on a locker not assigned to them.
	ErrNotOwner = errors.New("locker is not assigned to this user")
	// ErrNoCapacity is returned when every locker is already assigned.
	ErrNoCapacity = errors.New("no free lockers available")
)

// Locker is a physical storage locker. An empty UserID means the locker is free.
type Locker struct {
	ID        int64
	Locked    bool
	UserID    string
	UpdatedAt time.Time
}

// Free reports whether the locker can be allocated.
func (l Locker) Free() bool {
	return l.UserID == ""
}
