package credential

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher turns raw PINs into one-way hashes and checks candidates against them.
type Hasher interface {
	Hash(raw string) ([]byte, error)
	Verify(raw string, hashed []byte) bool
}

// Bcrypt hashes PINs with a per-hash random salt.
type Bcrypt struct {
	cost int
}

// NewBcrypt builds a bcrypt hasher. Costs outside bcrypt's accepted range fall
// back to bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Hash returns the salted bcrypt hash of raw.
func (b *Bcrypt) Hash(raw string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), b.cost)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}
	return hash, nil
}

// Verify reports whether raw matches hashed. A missing hash never matches.
func (b *Bcrypt) Verify(raw string, hashed []byte) bool {
	if len(hashed) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hashed, []byte(raw)) == nil
}
