package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type AccountRepo struct {
	DB DBTX
}

const accountColumns = `id, email, password_hash, email_verified, verified_at, created_at`

const createAccount = `-- name: CreateAccount
INSERT INTO accounts (id, email, password_hash)
VALUES ($1, $2, $3)
RETURNING ` + accountColumns

func (r *AccountRepo) Create(ctx context.Context, email string, passwordHash string) (models.Account, error) {
	var account models.Account
	rows, err := r.DB.Query(ctx, createAccount, uuid.New(), email, passwordHash)
	if err == nil {
		account, err = pgx.CollectOneRow(rows, rowToAccount)
	}

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return account, apperrors.ErrAlreadyRegistered
		}

		return account, dbError("create account", err)
	}

	return account, nil
}

const getAccountByID = `-- name: GetAccountByID
SELECT ` + accountColumns + `
FROM accounts
WHERE id = $1
`

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	rows, err := r.DB.Query(ctx, getAccountByID, id)
	return collectAccount(rows, err, "get account by id")
}

const getAccountByEmail = `-- name: GetAccountByEmail
SELECT ` + accountColumns + `
FROM accounts
WHERE email = $1
`

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (models.Account, error) {
	rows, err := r.DB.Query(ctx, getAccountByEmail, email)
	return collectAccount(rows, err, "get account by email")
}

const markAccountVerified = `-- name: MarkAccountVerified
UPDATE accounts
SET email_verified = true, verified_at = COALESCE(verified_at, $2)
WHERE id = $1
RETURNING ` + accountColumns

func (r *AccountRepo) MarkVerified(ctx context.Context, id uuid.UUID, verifiedAt time.Time) (models.Account, error) {
	rows, err := r.DB.Query(ctx, markAccountVerified, id, verifiedAt)
	return collectAccount(rows, err, "mark account verified")
}

const updatePasswordHash = `-- name: UpdatePasswordHash
UPDATE accounts
SET password_hash = $2
WHERE id = $1
`

func (r *AccountRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := r.DB.Exec(ctx, updatePasswordHash, id, passwordHash)
	if err != nil {
		return dbError("update password hash", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrAccountNotFound
	}

	return nil
}

// Query error is passed through so callers may skip checking it
func collectAccount(rows pgx.Rows, err error, op string) (models.Account, error) {
	var account models.Account
	if err == nil {
		account, err = pgx.CollectOneRow(rows, rowToAccount)
	}

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, dbError(op, err)
	}
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.EmailVerified, &a.VerifiedAt, &a.CreatedAt)
	return a, err
}
