package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinbay/kinbay/internal/platform/db"
	"github.com/kinbay/kinbay/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id int64) (*Account, error)
	Create(ctx context.Context, account Account) (int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the statements that must share a database transaction.
type TxRepository interface {
	UpdateAccount(ctx context.Context, account Account) error
	InsertRefreshToken(ctx context.Context, token RefreshToken) error
	GetRefreshTokenForUpdate(ctx context.Context, id string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id, replacedBy string, at time.Time) error
	RevokeAllRefreshTokens(ctx context.Context, userID int64, at time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectAccount = `SELECT id, email, firstname, lastname, address, phone, password_hash, created_at FROM live_users`

// FindByEmail fetches a live user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, selectAccount+` WHERE lower(email) = lower($1)`, email))
}

// FindByID fetches a live user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, selectAccount+` WHERE id = $1`, id))
}

// Create inserts a user and returns its id.
func (r *PGRepository) Create(ctx context.Context, a Account) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO users (email, firstname, lastname, address, phone, password_hash)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		a.Email, a.Firstname, a.Lastname, a.Address, a.Phone, a.PasswordHash).Scan(&id)
	if db.IsCode(err, db.CodeUniqueViolation) {
		return 0, fmt.Errorf("email %q already registered: %w", a.Email, shared.ErrConflict)
	}
	return id, err
}

// WithTx runs fn in a READ COMMITTED transaction. A second presenter of the
// same refresh token blocks on the row lock and then observes the revocation.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsCode(err, db.CodeUniqueViolation) {
		return fmt.Errorf("email already registered: %w", shared.ErrConflict)
	}
	return err
}

// DeleteExpiredRefreshTokens removes refresh tokens that expired before the
// cutoff, revoked or not.
func (r *PGRepository) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) UpdateAccount(ctx context.Context, a Account) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users
SET email = $2, firstname = $3, lastname = $4, address = $5, phone = $6, password_hash = $7, updated_at = NOW()
WHERE id = $1 AND NOT deleted`,
		a.ID, a.Email, a.Firstname, a.Lastname, a.Address, a.Phone, a.PasswordHash)
	if db.IsCode(err, db.CodeUniqueViolation) {
		return fmt.Errorf("email %q already registered: %w", a.Email, shared.ErrConflict)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", a.ID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) InsertRefreshToken(ctx context.Context, rt RefreshToken) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5)`, rt.ID, rt.UserID, rt.TokenHash, rt.ExpiresAt, rt.CreatedAt)
	return err
}

func (t *txRepo) GetRefreshTokenForUpdate(ctx context.Context, id string) (*RefreshToken, error) {
	var (
		rt         RefreshToken
		replacedBy *string
	)
	err := t.tx.QueryRow(ctx, `SELECT id::text, user_id, token_hash, expires_at, revoked_at, replaced_by::text, created_at
FROM refresh_tokens WHERE id = $1 FOR UPDATE`, id).
		Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.RevokedAt, &replacedBy, &rt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("refresh token: %w", shared.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if replacedBy != nil {
		rt.ReplacedBy = *replacedBy
	}
	return &rt, nil
}

func (t *txRepo) RevokeRefreshToken(ctx context.Context, id, replacedBy string, at time.Time) error {
	var replacement *string
	if replacedBy != "" {
		replacement = &replacedBy
	}
	_, err := t.tx.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = $2, replaced_by = $3::uuid
WHERE id = $1 AND revoked_at IS NULL`, id, at, replacement)
	return err
}

func (t *txRepo) RevokeAllRefreshTokens(ctx context.Context, userID int64, at time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`, userID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.Firstname, &a.Lastname, &a.Address, &a.Phone, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

var _ Repository = (*PGRepository)(nil)
