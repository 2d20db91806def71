package locker

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	storage map[int64]Locker
}

// NewMemoryRepository constructs an in-memory repository for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[int64]Locker)}
}

func (r *memoryRepository) Create(_ context.Context) (Locker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	l := Locker{ID: r.nextID, UpdatedAt: time.Now().UTC()}
	r.storage[l.ID] = l
	return l, nil
}

func (r *memoryRepository) Get(_ context.Context, id int64) (Locker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.storage[id]
	if !ok {
		return Locker{}, ErrNotFound
	}
	return l, nil
}

func (r *memoryRepository) List(_ context.Context) ([]Locker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Locker, 0, len(r.storage))
	for _, id := range r.sortedIDs() {
		out = append(out, r.storage[id])
	}
	return out, nil
}

func (r *memoryRepository) FindByUser(_ context.Context, userID string) (Locker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if userID == "" {
		return Locker{}, ErrNotFound
	}
	for _, id := range r.sortedIDs() {
		if l := r.storage[id]; l.UserID == userID {
			return l, nil
		}
	}
	return Locker{}, ErrNotFound
}

func (r *memoryRepository) Update(_ context.Context, id int64, fn func(*Locker) error) (Locker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.storage[id]
	if !ok {
		return Locker{}, ErrNotFound
	}
	if err := fn(&l); err != nil {
		return Locker{}, err
	}
	l.ID = id
	l.UpdatedAt = time.Now().UTC()
	r.storage[id] = l
	return l, nil
}

func (r *memoryRepository) ClaimFirstFree(_ context.Context, userID string) (Locker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.sortedIDs() {
		l := r.storage[id]
		if !l.Free() {
			continue
		}
		l.UserID = userID
		l.Locked = false
		l.UpdatedAt = time.Now().UTC()
		r.storage[id] = l
		return l, nil
	}
	return Locker{}, ErrNoCapacity
}

// sortedIDs must be called with r.mu held.
func (r *memoryRepository) sortedIDs() []int64 {
	ids := make([]int64, 0, len(r.storage))
	for id := range r.storage {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
