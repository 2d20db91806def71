package locker

import "context"

// Observer times store operations.
type Observer interface {
	ObserveDB(op string, fn func() error) error
}

type instrumentedRepository struct {
	inner Repository
	obs   Observer
}

// Instrument wraps repo so that every call is reported to obs.
func Instrument(repo Repository, obs Observer) Repository {
	if obs == nil {
		return repo
	}
	return &instrumentedRepository{inner: repo, obs: obs}
}

func (r *instrumentedRepository) Create(ctx context.Context) (Locker, error) {
	var l Locker
	err := r.obs.ObserveDB("lockers.create", func() (err error) {
		l, err = r.inner.Create(ctx)
		return err
	})
	return l, err
}

func (r *instrumentedRepository) Get(ctx context.Context, id int64) (Locker, error) {
	var l Locker
	err := r.obs.ObserveDB("lockers.get", func() (err error) {
		l, err = r.inner.Get(ctx, id)
		return err
	})
	return l, err
}

func (r *instrumentedRepository) List(ctx context.Context) ([]Locker, error) {
	var out []Locker
	err := r.obs.ObserveDB("lockers.list", func() (err error) {
		out, err = r.inner.List(ctx)
		return err
	})
	return out, err
}

func (r *instrumentedRepository) FindByUser(ctx context.Context, userID string) (Locker, error) {
	var l Locker
	err := r.obs.ObserveDB("lockers.find_by_user", func() (err error) {
		l, err = r.inner.FindByUser(ctx, userID)
		return err
	})
	return l, err
}

func (r *instrumentedRepository) Update(ctx context.Context, id int64, fn func(*Locker) error) (Locker, error) {
	var l Locker
	err := r.obs.ObserveDB("lockers.update", func() (err error) {
		l, err = r.inner.Update(ctx, id, fn)
		return err
	})
	return l, err
}

func (r *instrumentedRepository) ClaimFirstFree(ctx context.Context, userID string) (Locker, error) {
	var l Locker
	err := r.obs.ObserveDB("lockers.claim_first_free", func() (err error) {
		l, err = r.inner.ClaimFirstFree(ctx, userID)
		return err
	})
	return l, err
}
