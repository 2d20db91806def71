package sms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ragkasi/BreatheSafe/internal/credential"
	"github.com/ragkasi/BreatheSafe/internal/identity"
	"github.com/ragkasi/BreatheSafe/internal/locker"
	"github.com/ragkasi/BreatheSafe/internal/logging"
	"github.com/ragkasi/BreatheSafe/internal/notification"
)

const phone = "+15551230000"

type recordingSender struct {
	mu   sync.Mutex
	sent []notification.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, m notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return s.err
}

func (s *recordingSender) last() notification.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return notification.Message{}
	}
	return s.sent[len(s.sent)-1]
}

type countingRecorder struct {
	mu           sync.Mutex
	outcomes     map[string]int
	sendFailures int
}

func (r *countingRecorder) RecordCommand(command, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[command+"/"+outcome]++
}

func (r *countingRecorder) RecordSendFailure(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendFailures++
}

type fixture struct {
	engine   *Engine
	users    identity.Repository
	lockers  locker.Repository
	sender   *recordingSender
	recorder *countingRecorder
}

func newFixture(t *testing.T, lockers int) *fixture {
	t.Helper()
	users := identity.NewMemoryRepository()
	repo := locker.NewMemoryRepository()
	for i := 0; i < lockers; i++ {
		if _, err := repo.Create(context.Background()); err != nil {
			t.Fatalf("create locker: %v", err)
		}
	}
	f := &fixture{
		users:    users,
		lockers:  repo,
		sender:   &recordingSender{},
		recorder: &countingRecorder{},
	}
	svc := locker.NewService(repo, users, logging.Discard())
	f.engine = NewEngine(users, svc, credential.NewBcrypt(bcrypt.MinCost), f.sender, logging.Discard(), f.recorder)
	return f
}

func (f *fixture) send(t *testing.T, body string) string {
	t.Helper()
	return f.engine.Handle(context.Background(), Inbound{From: phone, Body: body})
}

func (f *fixture) user(t *testing.T) (identity.User, bool) {
	t.Helper()
	u, err := f.users.FindByPhone(context.Background(), phone)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.User{}, false
	}
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	return u, true
}

func (f *fixture) locker(t *testing.T, id int64) locker.Locker {
	t.Helper()
	l, err := f.lockers.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get locker %d: %v", id, err)
	}
	return l
}

func (f *fixture) register(t *testing.T, name string) identity.User {
	t.Helper()
	f.send(t, "START")
	f.send(t, name)
	u, ok := f.user(t)
	if !ok || identity.PhaseOf(&u) != identity.PhaseRegistered {
		t.Fatalf("expected registered user after name %q", name)
	}
	return u
}

func TestUnregisteredPhoneGetsNotRegistered(t *testing.T) {
	f := newFixture(t, 1)

	for _, body := range []string{"LOCK 1234", "hello", "", "LOCKER", "RELEASE 1"} {
		if got := f.send(t, body); got != replyNotRegistered {
			t.Fatalf("body %q: expected not registered reply, got %q", body, got)
		}
	}
	if _, ok := f.user(t); ok {
		t.Fatalf("expected no user record to be created")
	}
}

func TestStartCreatesSinglePlaceholder(t *testing.T) {
	f := newFixture(t, 1)

	if got := f.send(t, "START"); got != replyAskName {
		t.Fatalf("unexpected reply %q", got)
	}
	first, ok := f.user(t)
	if !ok {
		t.Fatalf("expected placeholder user")
	}
	if first.Name != "" || first.HasPIN() {
		t.Fatalf("placeholder must have empty name and pin, got %+v", first)
	}
	if phase := identity.PhaseOf(&first); phase != identity.PhaseAwaitingName {
		t.Fatalf("expected awaiting_name, got %s", phase)
	}

	if got := f.send(t, "  start "); got != replyAskName {
		t.Fatalf("unexpected reply on repeated start %q", got)
	}
	second, _ := f.user(t)
	if second.ID != first.ID {
		t.Fatalf("expected repeated START to keep placeholder %s, got %s", first.ID, second.ID)
	}
}

func TestNameCompletesRegistration(t *testing.T) {
	f := newFixture(t, 2)

	f.send(t, "START")
	reply := f.send(t, "  Ada   Lovelace ")
	if !strings.Contains(reply, "Ada   Lovelace") || !strings.Contains(reply, "locker 1") {
		t.Fatalf("unexpected reply %q", reply)
	}

	u, ok := f.user(t)
	if !ok {
		t.Fatalf("expected user")
	}
	if u.Name != "Ada   Lovelace" {
		t.Fatalf("expected whole trimmed message as name, got %q", u.Name)
	}
	if phase := identity.PhaseOf(&u); phase != identity.PhaseRegistered {
		t.Fatalf("expected registered, got %s", phase)
	}

	assigned := f.locker(t, 1)
	if assigned.UserID != u.ID || assigned.Locked {
		t.Fatalf("expected locker 1 owned and unlocked, got %+v", assigned)
	}
	if other := f.locker(t, 2); !other.Free() {
		t.Fatalf("expected locker 2 untouched, got %+v", other)
	}
}

func TestRegistrationWithoutCapacityRollsBack(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	owner := uuid.NewString()
	if err := f.users.Create(ctx, identity.User{ID: owner, Phone: "+15559990000", Name: "Other"}); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := f.lockers.ClaimFirstFree(ctx, owner); err != nil {
		t.Fatalf("claim: %v", err)
	}
	before := f.locker(t, 1)

	f.send(t, "START")
	if got := f.send(t, "Grace Hopper"); got != replyNoCapacity {
		t.Fatalf("expected no capacity reply, got %q", got)
	}
	if _, ok := f.user(t); ok {
		t.Fatalf("expected registration to be rolled back")
	}
	if after := f.locker(t, 1); after != before {
		t.Fatalf("expected locker unchanged, before %+v after %+v", before, after)
	}

	// The phone can start over.
	if got := f.send(t, "START"); got != replyAskName {
		t.Fatalf("expected restart to prompt for name, got %q", got)
	}
}

func TestEmptyNameReprompts(t *testing.T) {
	f := newFixture(t, 1)

	f.send(t, "START")
	if got := f.send(t, "   "); got != replyAskName {
		t.Fatalf("expected name prompt, got %q", got)
	}
	u, _ := f.user(t)
	if identity.PhaseOf(&u) != identity.PhaseAwaitingName {
		t.Fatalf("expected awaiting_name")
	}
	if l := f.locker(t, 1); !l.Free() {
		t.Fatalf("expected locker still free")
	}
}

func TestOverlongNameReprompts(t *testing.T) {
	f := newFixture(t, 1)

	f.send(t, "START")
	if got := f.send(t, strings.Repeat("a", maxNameLength+1)); got != replyNameTooLong {
		t.Fatalf("expected name length prompt, got %q", got)
	}
	u, _ := f.user(t)
	if identity.PhaseOf(&u) != identity.PhaseAwaitingName {
		t.Fatalf("expected awaiting_name, got %s", identity.PhaseOf(&u))
	}
	if l := f.locker(t, 1); !l.Free() {
		t.Fatalf("expected locker still free")
	}

	// A name of exactly the limit, counted in characters, is accepted.
	name := strings.Repeat("é", maxNameLength)
	if got := f.send(t, name); got != replyRegistered(name, 1) {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestStartWhenRegistered(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, "Alan")

	if got := f.send(t, "START"); got != replyAlreadyRegisteredWith(1) {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestLockUnlockRoundTrip(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, "Alan")

	if got := f.send(t, "LOCK 4321"); got != replyLocked(1) {
		t.Fatalf("unexpected lock reply %q", got)
	}
	if l := f.locker(t, 1); !l.Locked {
		t.Fatalf("expected locker locked")
	}
	u, _ := f.user(t)
	if !u.HasPIN() || string(u.PINHash) == "4321" {
		t.Fatalf("expected stored pin hash")
	}

	if got := f.send(t, "unlock 4321"); got != replyUnlocked(1) {
		t.Fatalf("unexpected unlock reply %q", got)
	}
	if l := f.locker(t, 1); l.Locked {
		t.Fatalf("expected locker unlocked")
	}
	u, _ = f.user(t)
	if u.HasPIN() {
		t.Fatalf("expected pin cleared after unlock")
	}

	if got := f.send(t, "UNLOCK 4321"); got != replyInvalidPIN {
		t.Fatalf("expected consumed pin to be rejected, got %q", got)
	}
}

func TestLockOverwritesPIN(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, "Alan")

	f.send(t, "LOCK 1111")
	f.send(t, "LOCK 2222")
	if got := f.send(t, "UNLOCK 1111"); got != replyInvalidPIN {
		t.Fatalf("expected old pin rejected, got %q", got)
	}
	if got := f.send(t, "UNLOCK 2222"); got != replyUnlocked(1) {
		t.Fatalf("expected new pin accepted, got %q", got)
	}
}

func TestUnlockWithWrongPINChangesNothing(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, "Alan")
	f.send(t, "LOCK 4321")
	before, _ := f.user(t)

	if got := f.send(t, "UNLOCK 0000"); got != replyInvalidPIN {
		t.Fatalf("unexpected reply %q", got)
	}
	if l := f.locker(t, 1); !l.Locked {
		t.Fatalf("expected locker to stay locked")
	}
	after, _ := f.user(t)
	if string(after.PINHash) != string(before.PINHash) {
		t.Fatalf("expected pin untouched")
	}
}

func TestReleaseRequiresOwnLockerNumber(t *testing.T) {
	f := newFixture(t, 2)
	u := f.register(t, "Alan")

	if got := f.send(t, "RELEASE 2"); got != replyLockerMismatch {
		t.Fatalf("expected mismatch, got %q", got)
	}
	if l := f.locker(t, 1); l.UserID != u.ID {
		t.Fatalf("expected locker still assigned after mismatch")
	}
	if _, ok := f.user(t); !ok {
		t.Fatalf("expected user kept after mismatch")
	}

	f.send(t, "LOCK 1234")
	if got := f.send(t, "release 1"); got != replyReleased(1) {
		t.Fatalf("unexpected release reply %q", got)
	}
	if l := f.locker(t, 1); !l.Free() || l.Locked {
		t.Fatalf("expected locker freed and unlocked, got %+v", l)
	}
	if _, ok := f.user(t); ok {
		t.Fatalf("expected user deleted on release")
	}
	if got := f.send(t, "LOCKER"); got != replyNotRegistered {
		t.Fatalf("expected phone to be unregistered, got %q", got)
	}
}

func TestReleaseAfterOperatorReassignment(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	u := f.register(t, "Alan")

	admin := locker.NewService(f.lockers, f.users, logging.Discard())
	if _, err := admin.Assign(ctx, 2, u.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if l := f.locker(t, 1); !l.Free() {
		t.Fatalf("expected locker 1 freed by reassignment, got %+v", l)
	}

	if got := f.send(t, "RELEASE 1"); got != replyLockerMismatch {
		t.Fatalf("expected mismatch for old locker, got %q", got)
	}
	if got := f.send(t, "RELEASE 2"); got != replyReleased(2) {
		t.Fatalf("unexpected release reply %q", got)
	}
	for _, id := range []int64{1, 2} {
		if l := f.locker(t, id); !l.Free() || l.Locked {
			t.Fatalf("expected locker %d free and unlocked, got %+v", id, l)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := admin.AllocateFirstFree(ctx, uuid.NewString()); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
}

func TestFormatErrors(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, "Alan")

	cases := map[string]string{
		"LOCK":          "Invalid format. Use: " + usageLock,
		"LOCK 1 2":      "Invalid format. Use: " + usageLock,
		"UNLOCK":        "Invalid format. Use: " + usageUnlock,
		"RELEASE":       "Invalid format. Use: " + usageRelease,
		"RELEASE one":   errNonNumericLocker.reply(),
		"RELEASE 1 now": "Invalid format. Use: " + usageRelease,
	}
	for body, want := range cases {
		if got := f.send(t, body); got != want {
			t.Fatalf("body %q: expected %q, got %q", body, want, got)
		}
	}
	if _, ok := f.user(t); !ok {
		t.Fatalf("format errors must not remove the user")
	}
}

func TestLockerCommand(t *testing.T) {
	f := newFixture(t, 3)
	u := f.register(t, "Alan")

	if got := f.send(t, "locker"); got != replyYourLocker(1) {
		t.Fatalf("unexpected reply %q", got)
	}

	if err := f.engine.lockers.Unassign(context.Background(), u.ID); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if got := f.send(t, "LOCKER"); got != replyNoLocker {
		t.Fatalf("expected no locker reply, got %q", got)
	}
	if got := f.send(t, "LOCK 1234"); got != replyNoLocker {
		t.Fatalf("expected no locker reply for lock, got %q", got)
	}
}

func TestUnrecognizedCommand(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, "Alan")

	if got := f.send(t, "OPEN SESAME"); got != replyUnrecognized {
		t.Fatalf("unexpected reply %q", got)
	}
	if f.recorder.outcomes["UNKNOWN/unrecognized"] != 1 {
		t.Fatalf("expected unknown command to be recorded, got %v", f.recorder.outcomes)
	}
}

func TestReplyIsAlsoSent(t *testing.T) {
	f := newFixture(t, 1)

	reply := f.send(t, "START")
	msg := f.sender.last()
	if msg.Body != reply || msg.Destination != phone || msg.Kind != notification.KindSMSReply {
		t.Fatalf("sent message %+v does not match reply %q", msg, reply)
	}
}

func TestSendFailureKeepsCommittedState(t *testing.T) {
	for _, sendErr := range []error{notification.ErrRecipientUnreachable, errors.New("provider down")} {
		f := newFixture(t, 1)
		f.sender.err = sendErr

		f.send(t, "START")
		reply := f.send(t, "Alan")
		if reply != replyRegistered("Alan", 1) {
			t.Fatalf("unexpected reply %q", reply)
		}
		u, ok := f.user(t)
		if !ok || identity.PhaseOf(&u) != identity.PhaseRegistered {
			t.Fatalf("expected registration to survive send error %v", sendErr)
		}
		if l := f.locker(t, 1); l.UserID != u.ID {
			t.Fatalf("expected locker assignment to survive send error %v", sendErr)
		}
		if f.recorder.sendFailures != 2 {
			t.Fatalf("expected 2 recorded send failures, got %d", f.recorder.sendFailures)
		}
	}
}

type failingUsers struct {
	Users
	findErr error
}

func (u failingUsers) FindByPhone(ctx context.Context, phone string) (identity.User, error) {
	if u.findErr != nil {
		return identity.User{}, u.findErr
	}
	return u.Users.FindByPhone(ctx, phone)
}

func TestStoreFailureRepliesTryAgain(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.users = failingUsers{Users: f.users, findErr: errors.New("connection reset")}

	if got := f.send(t, "START"); got != replyTryAgain {
		t.Fatalf("expected generic reply, got %q", got)
	}
	if f.recorder.outcomes["START/error"] != 1 {
		t.Fatalf("expected error outcome, got %v", f.recorder.outcomes)
	}
}

type failingAllocator struct {
	Lockers
}

func (failingAllocator) AllocateFirstFree(context.Context, string) (locker.Locker, error) {
	return locker.Locker{}, errors.New("deadlock detected")
}

func TestAllocationFailureReturnsToAwaitingName(t *testing.T) {
	f := newFixture(t, 1)
	f.engine.lockers = failingAllocator{Lockers: f.engine.lockers}

	f.send(t, "START")
	if got := f.send(t, "Alan"); got != replyTryAgain {
		t.Fatalf("expected generic reply, got %q", got)
	}
	u, ok := f.user(t)
	if !ok {
		t.Fatalf("expected placeholder to remain")
	}
	if phase := identity.PhaseOf(&u); phase != identity.PhaseAwaitingName {
		t.Fatalf("expected awaiting_name after failed allocation, got %s", phase)
	}
}

func TestParseCommand(t *testing.T) {
	cmd := parseCommand("  lock \t 1234  ")
	if cmd.name != cmdLock || len(cmd.args) != 1 || cmd.args[0] != "1234" {
		t.Fatalf("unexpected parse %+v", cmd)
	}
	if cmd.text != "lock \t 1234" {
		t.Fatalf("unexpected text %q", cmd.text)
	}
	if empty := parseCommand(" \n "); empty.name != "" || empty.text != "" {
		t.Fatalf("unexpected empty parse %+v", empty)
	}
	if got := parseCommand("dance").label(); got != labelUnknown {
		t.Fatalf("expected unknown label, got %q", got)
	}
}
