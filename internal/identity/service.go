package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragkasi/BreatheSafe/internal/credential"
)

const (
	minPINLength = 4
	maxPINLength = 12
)

// Service manages the user lifecycle for the direct API.
type Service struct {
	repo   Repository
	hasher credential.Hasher
}

// NewService creates a new identity service.
func NewService(repo Repository, hasher credential.Hasher) *Service {
	return &Service{repo: repo, hasher: hasher}
}

// Register creates a fully registered user and stores a hashed PIN.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	in.Phone = strings.TrimSpace(in.Phone)
	in.Name = strings.TrimSpace(in.Name)
	if in.Phone == "" {
		return User{}, fmt.Errorf("%w: phone number is required", ErrInvalidInput)
	}
	if in.Name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !validPIN(in.PIN) {
		return User{}, fmt.Errorf("%w: PIN must be %d to %d digits", ErrInvalidInput, minPINLength, maxPINLength)
	}

	hash, err := s.hasher.Hash(in.PIN)
	if err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	user := User{
		ID:        uuid.New().String(),
		Phone:     in.Phone,
		Name:      in.Name,
		PINHash:   hash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Get returns the user with the given identifier.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

func validPIN(pin string) bool {
	if len(pin) < minPINLength || len(pin) > maxPINLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
