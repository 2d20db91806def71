package identity

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

func (r *instrumentedRepository) Create(ctx context.Context, user User) error {
	return r.obs.ObserveDB("users.create", func() error { return r.inner.Create(ctx, user) })
}

func (r *instrumentedRepository) FindByID(ctx context.Context, id string) (User, error) {
	var u User
	err := r.obs.ObserveDB("users.find_by_id", func() (err error) {
		u, err = r.inner.FindByID(ctx, id)
		return err
	})
	return u, err
}

func (r *instrumentedRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	var u User
	err := r.obs.ObserveDB("users.find_by_phone", func() (err error) {
		u, err = r.inner.FindByPhone(ctx, phone)
		return err
	})
	return u, err
}

func (r *instrumentedRepository) UpdateName(ctx context.Context, id, name string) error {
	return r.obs.ObserveDB("users.update_name", func() error { return r.inner.UpdateName(ctx, id, name) })
}

func (r *instrumentedRepository) UpdatePIN(ctx context.Context, id string, pinHash []byte) error {
	return r.obs.ObserveDB("users.update_pin", func() error { return r.inner.UpdatePIN(ctx, id, pinHash) })
}

func (r *instrumentedRepository) Delete(ctx context.Context, id string) error {
	return r.obs.ObserveDB("users.delete", func() error { return r.inner.Delete(ctx, id) })
}
