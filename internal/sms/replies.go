package sms

import (
	"errors"
	"fmt"

	"github.com/ragkasi/BreatheSafe/internal/locker"
)

const (
	replyAskName           = "Welcome to BreatheSafe lockers! Reply with your full name to register."
	replyNameTooLong       = "That name is too long. Reply with a name of at most 120 characters."
	replyAlreadyRegistered = "You are already registered."
	replyNotRegistered     = "You are not registered. Text START to register."
	replyNoCapacity        = "Sorry, no lockers are available right now. Text START to try again later."
	replyNoLocker          = "You do not have a locker assigned."
	replyInvalidPIN        = "Invalid PIN."
	replyLockerMismatch    = "Locker number mismatch. Text LOCKER to see your locker number."
	replyNotOwner          = "That locker is not assigned to you."
	replyUnrecognized      = "Unrecognized command. Text LOCK <pin>, UNLOCK <pin>, LOCKER or RELEASE <locker number>."
	replyTryAgain          = "Something went wrong. Please try again."
)

var (
	// ErrInvalidCredential is returned when a PIN does not match the stored one.
	ErrInvalidCredential = errors.New("invalid credential")

	errNotRegistered  = errors.New("phone not registered")
	errNameRequired   = errors.New("name required")
	errNameTooLong    = errors.New("name too long")
	errLockerMismatch = errors.New("locker number mismatch")
	errUnknownCommand = errors.New("unrecognized command")

	errNonNumericLocker = &formatError{usage: usageRelease, reason: "locker number must be numeric"}
)

// formatError reports a malformed command and the shape it should have.
type formatError struct {
	usage  string
	reason string
}

func (e *formatError) Error() string {
	if e.reason != "" {
		return e.reason + ", use: " + e.usage
	}
	return "invalid format, use: " + e.usage
}

func (e *formatError) reply() string {
	if e.reason != "" {
		return fmt.Sprintf("Invalid format: %s. Use: %s", e.reason, e.usage)
	}
	return "Invalid format. Use: " + e.usage
}

func replyAlreadyRegisteredWith(lockerID int64) string {
	return fmt.Sprintf("You are already registered. Your locker is %d.", lockerID)
}

func replyRegistered(name string, lockerID int64) string {
	return fmt.Sprintf("Thanks %s! You have been assigned locker %d. Text LOCK <pin> to lock it.", name, lockerID)
}

func replyLocked(lockerID int64) string {
	return fmt.Sprintf("Locker %d is locked. Text UNLOCK <pin> to unlock it.", lockerID)
}

func replyUnlocked(lockerID int64) string {
	return fmt.Sprintf("Locker %d is unlocked. Text RELEASE %d when you no longer need it.", lockerID, lockerID)
}

func replyReleased(lockerID int64) string {
	return fmt.Sprintf("Locker %d has been released and your registration removed. Text START to register again.", lockerID)
}

func replyYourLocker(lockerID int64) string {
	return fmt.Sprintf("Your locker is %d.", lockerID)
}

// replyForError picks the user-facing reply and metric outcome for a command error.
func replyForError(err error) (reply, outcome string) {
	var ferr *formatError
	switch {
	case errors.As(err, &ferr):
		return ferr.reply(), "format_error"
	case errors.Is(err, ErrInvalidCredential):
		return replyInvalidPIN, "invalid_credential"
	case errors.Is(err, errNotRegistered):
		return replyNotRegistered, "not_registered"
	case errors.Is(err, errNameRequired):
		return replyAskName, "name_required"
	case errors.Is(err, errNameTooLong):
		return replyNameTooLong, "name_too_long"
	case errors.Is(err, locker.ErrNoCapacity):
		return replyNoCapacity, "no_capacity"
	case errors.Is(err, locker.ErrNotFound):
		return replyNoLocker, "no_locker"
	case errors.Is(err, errLockerMismatch):
		return replyLockerMismatch, "locker_mismatch"
	case errors.Is(err, locker.ErrNotOwner):
		return replyNotOwner, "not_owner"
	case errors.Is(err, errUnknownCommand):
		return replyUnrecognized, "unrecognized"
	default:
		return replyTryAgain, "error"
	}
}
