package locker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists lockers.
type Repository interface {
	Create(ctx context.Context) (Locker, error)
	Get(ctx context.Context, id int64) (Locker, error)
	List(ctx context.Context) ([]Locker, error)
	FindByUser(ctx context.Context, userID string) (Locker, error)
	// Update applies fn to the locker while holding its record lock. The change
	// is persisted only when fn returns nil.
	Update(ctx context.Context, id int64, fn func(*Locker) error) (Locker, error)
	// ClaimFirstFree assigns the lowest-numbered free locker to userID and
	// leaves it unlocked.
	ClaimFirstFree(ctx context.Context, userID string) (Locker, error)
}

const lockerColumns = `id, locked, COALESCE(user_id::text, ''), updated_at`

// PostgresRepository stores lockers in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create provisions a new free, unlocked locker.
func (r *PostgresRepository) Create(ctx context.Context) (Locker, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO lockers (locked, user_id, updated_at)
        VALUES (false, NULL, $1) RETURNING `+lockerColumns, time.Now().UTC())
	return scanLocker(row)
}

// Get fetches a locker by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id int64) (Locker, error) {
	row := r.db.QueryRow(ctx, `SELECT `+lockerColumns+` FROM lockers WHERE id = $1`, id)
	return scanLocker(row)
}

// List returns every locker ordered by id.
func (r *PostgresRepository) List(ctx context.Context) ([]Locker, error) {
	rows, err := r.db.Query(ctx, `SELECT `+lockerColumns+` FROM lockers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Locker
	for rows.Next() {
		l, err := scanLocker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// FindByUser returns the locker assigned to userID.
func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) (Locker, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Locker{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+lockerColumns+` FROM lockers WHERE user_id = $1 ORDER BY id LIMIT 1`, uid)
	return scanLocker(row)
}

// Update performs a read-modify-write of one locker inside a transaction.
func (r *PostgresRepository) Update(ctx context.Context, id int64, fn func(*Locker) error) (Locker, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Locker{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	l, err := scanLocker(tx.QueryRow(ctx, `SELECT `+lockerColumns+` FROM lockers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Locker{}, err
	}
	if err := fn(&l); err != nil {
		return Locker{}, err
	}

	owner, err := nullableUUID(l.UserID)
	if err != nil {
		return Locker{}, err
	}
	l.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE lockers SET locked = $1, user_id = $2, updated_at = $3 WHERE id = $4`,
		l.Locked, owner, l.UpdatedAt, l.ID); err != nil {
		return Locker{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Locker{}, err
	}
	return l, nil
}

// ClaimFirstFree atomically assigns the lowest free locker to userID.
func (r *PostgresRepository) ClaimFirstFree(ctx context.Context, userID string) (Locker, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Locker{}, ErrNotFound
	}
	const query = `
        UPDATE lockers SET user_id = $1, locked = false, updated_at = $2
        WHERE id = (
            SELECT id FROM lockers WHERE user_id IS NULL
            ORDER BY id LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + lockerColumns
	l, err := scanLocker(r.db.QueryRow(ctx, query, uid, time.Now().UTC()))
	if errors.Is(err, ErrNotFound) {
		return Locker{}, ErrNoCapacity
	}
	return l, err
}

func scanLocker(row pgx.Row) (Locker, error) {
	var (
		l         Locker
		updatedAt time.Time
	)
	if err := row.Scan(&l.ID, &l.Locked, &l.UserID, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Locker{}, ErrNotFound
		}
		return Locker{}, err
	}
	l.UpdatedAt = updatedAt.UTC()
	return l, nil
}

func nullableUUID(id string) (any, error) {
	if id == "" {
		return nil, nil
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return uid, nil
}
