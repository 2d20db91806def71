package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	UpdateName(ctx context.Context, id, name string) error
	// UpdatePIN stores pinHash as the active PIN; a nil hash clears it.
	UpdatePIN(ctx context.Context, id string, pinHash []byte) error
	Delete(ctx context.Context, id string) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed user repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return fmt.Errorf("parse user id: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, phone_number, name, pin_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, user.Phone, user.Name, nullableHash(user.PINHash), user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	return insertError(err)
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, phone_number, name, pin_hash, created_at, updated_at
        FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// FindByPhone fetches a user by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	row := r.db.QueryRow(ctx, `SELECT id, phone_number, name, pin_hash, created_at, updated_at
        FROM users WHERE phone_number = $1`, phone)
	return scanUser(row)
}

// UpdateName sets the display name, completing a pending registration.
func (r *PostgresRepository) UpdateName(ctx context.Context, id, name string) error {
	return r.exec(ctx, `UPDATE users SET name = $1, updated_at = $2 WHERE id = $3`, id, name, time.Now().UTC())
}

// UpdatePIN replaces or clears the stored PIN hash.
func (r *PostgresRepository) UpdatePIN(ctx context.Context, id string, pinHash []byte) error {
	return r.exec(ctx, `UPDATE users SET pin_hash = $1, updated_at = $2 WHERE id = $3`, id, nullableHash(pinHash), time.Now().UTC())
}

// Delete removes the user record.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// exec runs a single-row update whose last placeholder is the user id.
func (r *PostgresRepository) exec(ctx context.Context, query, id string, args ...any) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, query, append(args, userID)...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		updatedAt time.Time
		user      User
	)
	if err := row.Scan(&id, &user.Phone, &user.Name, &user.PINHash, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt.UTC()
	return user, nil
}

// insertError maps a unique violation on users to ErrPhoneTaken.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrPhoneTaken
	}
	return err
}

func nullableHash(hash []byte) any {
	if len(hash) == 0 {
		return nil
	}
	return hash
}
