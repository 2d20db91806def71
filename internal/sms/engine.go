package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ragkasi/BreatheSafe/internal/credential"
	"github.com/ragkasi/BreatheSafe/internal/identity"
	"github.com/ragkasi/BreatheSafe/internal/locker"
	"github.com/ragkasi/BreatheSafe/internal/notification"
)

// maxNameLength matches the limit the direct registration API enforces.
const maxNameLength = 120

// Users is the slice of the user store the engine needs.
type Users interface {
	FindByPhone(ctx context.Context, phone string) (identity.User, error)
	Create(ctx context.Context, user identity.User) error
	UpdateName(ctx context.Context, id, name string) error
	UpdatePIN(ctx context.Context, id string, pinHash []byte) error
	Delete(ctx context.Context, id string) error
}

// Lockers is the slice of the locker assignment logic the engine needs.
type Lockers interface {
	FindByUser(ctx context.Context, userID string) (locker.Locker, error)
	AllocateFirstFree(ctx context.Context, userID string) (locker.Locker, error)
	Lock(ctx context.Context, lockerID int64, userID string) (locker.Locker, error)
	Unlock(ctx context.Context, lockerID int64, userID string) (locker.Locker, error)
	Unassign(ctx context.Context, userID string) error
}

// Recorder receives per-command outcomes and outbound send failures.
type Recorder interface {
	RecordCommand(command, outcome string)
	RecordSendFailure(err error)
}

// Inbound is one message received from a phone.
type Inbound struct {
	From string
	Body string
}

// Engine runs the SMS registration and locker conversation. It keeps no
// session state; every message re-reads the user and locker records.
type Engine struct {
	users    Users
	lockers  Lockers
	hasher   credential.Hasher
	sender   notification.Sender
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewEngine wires the conversation engine. recorder may be nil.
func NewEngine(users Users, lockers Lockers, hasher credential.Hasher, sender notification.Sender, logger *slog.Logger, recorder Recorder) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Engine{
		users:    users,
		lockers:  lockers,
		hasher:   hasher,
		sender:   sender,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Handle processes one inbound message and returns the reply. The same text is
// delivered through the outbound sender; delivery failures are logged only and
// never undo committed store changes.
func (e *Engine) Handle(ctx context.Context, in Inbound) string {
	cmd := parseCommand(in.Body)
	label, reply, err := e.dispatch(ctx, in.From, cmd)

	outcome := "ok"
	if err != nil {
		reply, outcome = replyForError(err)
		if outcome == "error" {
			e.logger.Error("sms command failed", "command", label, "from", in.From, "error", err)
		}
	}
	e.recorder.RecordCommand(label, outcome)

	e.deliver(ctx, in.From, reply)
	return reply
}

func (e *Engine) dispatch(ctx context.Context, phone string, cmd command) (string, string, error) {
	var current *identity.User
	user, err := e.users.FindByPhone(ctx, phone)
	switch {
	case err == nil:
		current = &user
	case errors.Is(err, identity.ErrNotFound):
	default:
		return cmd.label(), "", fmt.Errorf("load user: %w", err)
	}

	phase := identity.PhaseOf(current)
	if cmd.name == cmdStart {
		reply, err := e.start(ctx, phone, current, phase)
		return cmdStart, reply, err
	}

	switch phase {
	case identity.PhaseUnregistered:
		return cmd.label(), "", errNotRegistered
	case identity.PhaseAwaitingName:
		reply, err := e.completeRegistration(ctx, current, cmd.text)
		return labelName, reply, err
	}

	var reply string
	switch cmd.name {
	case cmdLock:
		reply, err = e.lock(ctx, current, cmd.args)
	case cmdUnlock:
		reply, err = e.unlock(ctx, current, cmd.args)
	case cmdRelease:
		reply, err = e.release(ctx, current, cmd.args)
	case cmdLocker:
		reply, err = e.showLocker(ctx, current)
	default:
		err = errUnknownCommand
	}
	return cmd.label(), reply, err
}

func (e *Engine) start(ctx context.Context, phone string, current *identity.User, phase identity.Phase) (string, error) {
	if phase == identity.PhaseRegistered {
		l, err := e.lockers.FindByUser(ctx, current.ID)
		switch {
		case err == nil:
			return replyAlreadyRegisteredWith(l.ID), nil
		case errors.Is(err, locker.ErrNotFound):
			return replyAlreadyRegistered, nil
		default:
			return "", fmt.Errorf("find locker: %w", err)
		}
	}

	if current == nil {
		now := e.now().UTC()
		placeholder := identity.User{
			ID:        uuid.NewString(),
			Phone:     phone,
			CreatedAt: now,
			UpdatedAt: now,
		}
		// A concurrent START may have created the placeholder first.
		if err := e.users.Create(ctx, placeholder); err != nil && !errors.Is(err, identity.ErrPhoneTaken) {
			return "", fmt.Errorf("create placeholder: %w", err)
		}
	}
	return replyAskName, nil
}

func (e *Engine) completeRegistration(ctx context.Context, user *identity.User, name string) (string, error) {
	if name == "" {
		return "", errNameRequired
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", errNameTooLong
	}
	if err := e.users.UpdateName(ctx, user.ID, name); err != nil {
		return "", fmt.Errorf("set name: %w", err)
	}

	l, err := e.lockers.AllocateFirstFree(ctx, user.ID)
	if err == nil {
		return replyRegistered(name, l.ID), nil
	}

	if errors.Is(err, locker.ErrNoCapacity) {
		if derr := e.users.Delete(ctx, user.ID); derr != nil {
			e.logger.Error("roll back registration", "user_id", user.ID, "error", derr)
		}
		return "", err
	}
	if rerr := e.users.UpdateName(ctx, user.ID, ""); rerr != nil {
		e.logger.Error("reset pending name", "user_id", user.ID, "error", rerr)
	}
	return "", fmt.Errorf("allocate locker: %w", err)
}

func (e *Engine) lock(ctx context.Context, user *identity.User, args []string) (string, error) {
	if len(args) != 1 {
		return "", &formatError{usage: usageLock}
	}
	hash, err := e.hasher.Hash(args[0])
	if err != nil {
		return "", &formatError{usage: usageLock, reason: "PIN is too long"}
	}
	if err := e.users.UpdatePIN(ctx, user.ID, hash); err != nil {
		return "", fmt.Errorf("store pin: %w", err)
	}

	l, err := e.lockers.FindByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	l, err = e.lockers.Lock(ctx, l.ID, user.ID)
	if err != nil {
		return "", err
	}
	return replyLocked(l.ID), nil
}

func (e *Engine) unlock(ctx context.Context, user *identity.User, args []string) (string, error) {
	if len(args) != 1 {
		return "", &formatError{usage: usageUnlock}
	}
	if !e.hasher.Verify(args[0], user.PINHash) {
		return "", ErrInvalidCredential
	}

	l, err := e.lockers.FindByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	l, err = e.lockers.Unlock(ctx, l.ID, user.ID)
	if err != nil {
		return "", err
	}
	// The PIN is single-use. The locker is already open, so a failed clear is
	// logged rather than reported.
	if err := e.users.UpdatePIN(ctx, user.ID, nil); err != nil {
		e.logger.Error("clear pin after unlock", "user_id", user.ID, "error", err)
	}
	return replyUnlocked(l.ID), nil
}

func (e *Engine) release(ctx context.Context, user *identity.User, args []string) (string, error) {
	if len(args) != 1 {
		return "", &formatError{usage: usageRelease}
	}
	lockerID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "", errNonNumericLocker
	}

	l, err := e.lockers.FindByUser(ctx, user.ID)
	switch {
	case errors.Is(err, locker.ErrNotFound):
		return "", errLockerMismatch
	case err != nil:
		return "", err
	case l.ID != lockerID:
		return "", errLockerMismatch
	}

	if err := e.lockers.Unassign(ctx, user.ID); err != nil {
		return "", fmt.Errorf("unassign: %w", err)
	}
	if err := e.users.Delete(ctx, user.ID); err != nil {
		return "", fmt.Errorf("delete user: %w", err)
	}
	return replyReleased(l.ID), nil
}

func (e *Engine) showLocker(ctx context.Context, user *identity.User) (string, error) {
	l, err := e.lockers.FindByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	return replyYourLocker(l.ID), nil
}

func (e *Engine) deliver(ctx context.Context, to, body string) {
	err := e.sender.Send(ctx, notification.Message{
		Kind:        notification.KindSMSReply,
		Destination: to,
		Body:        body,
	})
	if err == nil {
		return
	}
	e.recorder.RecordSendFailure(err)
	if errors.Is(err, notification.ErrRecipientUnreachable) {
		e.logger.Warn("sms recipient unreachable", "to", to, "error", err)
		return
	}
	e.logger.Error("send sms reply", "to", to, "error", err)
}

type noopRecorder struct{}

func (noopRecorder) RecordCommand(string, string) {}
func (noopRecorder) RecordSendFailure(error)      {}
