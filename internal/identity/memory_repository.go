package identity

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
	phone map[string]string
}

// NewMemoryRepository builds an in-memory user store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User), phone: make(map[string]string)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.phone[user.Phone]; exists {
		return ErrPhoneTaken
	}
	user.PINHash = cloneHash(user.PINHash)
	r.users[user.ID] = user
	r.phone[user.Phone] = user.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	user.PINHash = cloneHash(user.PINHash)
	return user, nil
}

func (r *memoryRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	r.mu.RLock()
	id, ok := r.phone[phone]
	r.mu.RUnlock()
	if !ok {
		return User{}, ErrNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *memoryRepository) UpdateName(_ context.Context, id, name string) error {
	return r.update(id, func(u *User) { u.Name = name })
}

func (r *memoryRepository) UpdatePIN(_ context.Context, id string, pinHash []byte) error {
	return r.update(id, func(u *User) { u.PINHash = cloneHash(pinHash) })
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	delete(r.phone, user.Phone)
	return nil
}

func (r *memoryRepository) update(id string, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(&user)
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return nil
}

func cloneHash(hash []byte) []byte {
	if len(hash) == 0 {
		return nil
	}
	return append([]byte(nil), hash...)
}
