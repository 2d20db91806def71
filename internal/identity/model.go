package identity

import (
	"strings"
	"time"
)

// User is a locker holder identified by the phone number they text from.
type User struct {
	ID        string
	Phone     string
	Name      string
	PINHash   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPIN reports whether the user currently holds an active PIN.
func (u User) HasPIN() bool {
	return len(u.PINHash) > 0
}

// Phase is the registration state derived from a stored user record.
type Phase int

const (
	PhaseUnregistered Phase = iota
	PhaseAwaitingName
	PhaseRegistered
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingName:
		return "awaiting_name"
	case PhaseRegistered:
		return "registered"
	default:
		return "unregistered"
	}
}

// PhaseOf derives the registration phase for a user record. A nil user means
// no record exists for the phone number.
func PhaseOf(u *User) Phase {
	if u == nil {
		return PhaseUnregistered
	}
	if strings.TrimSpace(u.Name) == "" {
		return PhaseAwaitingName
	}
	return PhaseRegistered
}

// RegisterInput carries the fields accepted by direct registration.
type RegisterInput struct {
	Phone string
	Name  string
	PIN   string
}
