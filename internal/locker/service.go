package locker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ragkasi/BreatheSafe/internal/identity"
)

// UserFinder resolves user records for assignment checks.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
}

// errNoLongerAssigned aborts a release that lost a race with another writer.
var errNoLongerAssigned = errors.New("locker no longer assigned to user")

// Service applies locker assignment and lock state rules.
type Service struct {
	repo   Repository
	users  UserFinder
	logger *slog.Logger
}

// NewService builds a locker service instance.
func NewService(repo Repository, users UserFinder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, users: users, logger: logger}
}

// Create provisions a new free locker.
func (s *Service) Create(ctx context.Context) (Locker, error) {
	return s.repo.Create(ctx)
}

// Get returns a locker by id.
func (s *Service) Get(ctx context.Context, id int64) (Locker, error) {
	return s.repo.Get(ctx, id)
}

// List returns all lockers ordered by id.
func (s *Service) List(ctx context.Context) ([]Locker, error) {
	return s.repo.List(ctx)
}

// FindByUser returns the locker assigned to userID or ErrNotFound.
func (s *Service) FindByUser(ctx context.Context, userID string) (Locker, error) {
	return s.repo.FindByUser(ctx, userID)
}

// Assign gives lockerID to userID and locks it. It is an administrative
// override: a locker owned by someone else is reassigned, and any other
// locker userID held is freed so the user keeps a single locker.
func (s *Service) Assign(ctx context.Context, lockerID int64, userID string) (Locker, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Locker{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return Locker{}, err
	}
	var previous string
	l, err := s.repo.Update(ctx, lockerID, func(l *Locker) error {
		previous = l.UserID
		l.UserID = userID
		l.Locked = true
		return nil
	})
	if err != nil {
		return Locker{}, err
	}
	if previous != "" && previous != userID {
		s.logger.Warn("locker reassigned by override",
			slog.Int64("locker_id", lockerID),
			slog.String("previous_user_id", previous),
			slog.String("user_id", userID))
	}
	if err := s.releaseAllExcept(ctx, userID, lockerID); err != nil {
		return Locker{}, fmt.Errorf("free previous locker of %s: %w", userID, err)
	}
	return l, nil
}

// AllocateFirstFree assigns the lowest-numbered free locker to userID, unlocked.
func (s *Service) AllocateFirstFree(ctx context.Context, userID string) (Locker, error) {
	return s.repo.ClaimFirstFree(ctx, userID)
}

// Lock locks a locker owned by userID.
func (s *Service) Lock(ctx context.Context, lockerID int64, userID string) (Locker, error) {
	return s.setLocked(ctx, lockerID, userID, true)
}

// Unlock unlocks a locker owned by userID.
func (s *Service) Unlock(ctx context.Context, lockerID int64, userID string) (Locker, error) {
	return s.setLocked(ctx, lockerID, userID, false)
}

func (s *Service) setLocked(ctx context.Context, lockerID int64, userID string, locked bool) (Locker, error) {
	return s.repo.Update(ctx, lockerID, func(l *Locker) error {
		if l.Free() || l.UserID != userID {
			return ErrNotOwner
		}
		l.Locked = locked
		return nil
	})
}

// Unassign frees every locker userID holds. It is a no-op when none.
func (s *Service) Unassign(ctx context.Context, userID string) error {
	return s.releaseAllExcept(ctx, userID, 0)
}

// releaseAllExcept frees each locker owned by userID other than keep.
func (s *Service) releaseAllExcept(ctx context.Context, userID string, keep int64) error {
	if userID == "" {
		return nil
	}
	lockers, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, l := range lockers {
		if l.UserID != userID || l.ID == keep {
			continue
		}
		_, err := s.repo.Update(ctx, l.ID, func(l *Locker) error {
			if l.UserID != userID {
				return errNoLongerAssigned
			}
			l.UserID = ""
			l.Locked = false
			return nil
		})
		switch {
		case err == nil:
			s.logger.Info("locker freed", slog.Int64("locker_id", l.ID), slog.String("user_id", userID))
		case errors.Is(err, errNoLongerAssigned), errors.Is(err, ErrNotFound):
		default:
			return err
		}
	}
	return nil
}
