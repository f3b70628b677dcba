package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const codeHashIndex = "one_time_codes_unused_hash_key"

type OneTimeCodeRepo struct {
	DB DBTX
}

// Unused code of the account is replaced in place, so concurrent reissues leave exactly one
const replaceCode = `-- name: ReplaceCode
INSERT INTO one_time_codes (id, account_id, email, purpose, code_hash, created_at, expires_at, used, used_at, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $7, false, NULL, 0)
ON CONFLICT (account_id, purpose) WHERE NOT used
DO UPDATE SET
    id = EXCLUDED.id,
    email = EXCLUDED.email,
    code_hash = EXCLUDED.code_hash,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at,
    attempts = 0
`

func (r *OneTimeCodeRepo) Replace(ctx context.Context, code models.OneTimeCode) error {
	_, err := r.DB.Exec(ctx, replaceCode,
		code.ID, code.AccountID, code.Email, code.Purpose, code.CodeHash, code.CreatedAt, code.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == codeHashIndex {
			return apperrors.ErrCodeCollision
		}

		return dbError("replace code", err)
	}

	return nil
}

const getCodeByHash = `-- name: GetCodeByHash
SELECT id, account_id, email, purpose, code_hash, created_at, expires_at, used, used_at, attempts
FROM one_time_codes
WHERE code_hash = $1 AND purpose = $2
ORDER BY used ASC, created_at DESC
LIMIT 1
`

func (r *OneTimeCodeRepo) GetByHash(ctx context.Context, codeHash string, purpose string) (models.OneTimeCode, error) {
	var code models.OneTimeCode
	rows, err := r.DB.Query(ctx, getCodeByHash, codeHash, purpose)
	if err == nil {
		code, err = pgx.CollectOneRow(rows, rowToCode)
	}

	switch {
	case err == nil:
		return code, nil
	case errors.Is(err, pgx.ErrNoRows):
		return code, apperrors.ErrCodeNotFound
	default:
		return code, dbError("get code by hash", err)
	}
}

// Concurrent update waits for the row lock and then sees 'used' already set
const markCodeUsed = `-- name: MarkCodeUsed
WITH marked AS (
    UPDATE one_time_codes
    SET used = true, used_at = $2
    WHERE id = $1 AND NOT used
    RETURNING id
)
SELECT
    EXISTS (SELECT 1 FROM marked) AS marked,
    EXISTS (SELECT 1 FROM one_time_codes WHERE id = $1) AS found
`

func (r *OneTimeCodeRepo) MarkUsed(ctx context.Context, code models.OneTimeCode, usedAt time.Time) error {
	var marked, found bool
	err := r.DB.QueryRow(ctx, markCodeUsed, code.ID, usedAt).Scan(&marked, &found)

	switch {
	case err != nil:
		return dbError("mark code used", err)
	case marked:
		return nil
	case found:
		return apperrors.ErrCodeAlreadyUsed
	default:
		return apperrors.ErrCodeNotFound
	}
}

func rowToCode(row pgx.CollectableRow) (models.OneTimeCode, error) {
	var c models.OneTimeCode
	err := row.Scan(&c.ID, &c.AccountID, &c.Email, &c.Purpose, &c.CodeHash,
		&c.CreatedAt, &c.ExpiresAt, &c.Used, &c.UsedAt, &c.Attempts)
	return c, err
}
