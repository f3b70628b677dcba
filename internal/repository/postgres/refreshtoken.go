package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshColumns = `id, account_id, token_hash, created_at, expires_at, last_used_at`

const createRefreshToken = `-- name: CreateRefreshToken
INSERT INTO refresh_tokens (id, account_id, token_hash, created_at, expires_at, last_used_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + refreshColumns

func (r *RefreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, err := r.DB.Query(ctx, createRefreshToken,
		token.ID, token.AccountID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.LastUsedAt,
	)
	if err == nil {
		token, err = pgx.CollectOneRow(rows, rowToRefreshToken)
	}
	if err != nil {
		return token, dbError("create refresh token", err)
	}

	return token, nil
}

const getRefreshToken = `-- name: GetRefreshToken
SELECT ` + refreshColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token
// It should return result even it expired
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, err := r.DB.Query(ctx, getRefreshToken, tokenHash)
	return collectRefreshToken(rows, err, "get refresh token")
}

const consumeRefreshToken = `-- name: ConsumeRefreshToken
DELETE FROM refresh_tokens
WHERE token_hash = $1
RETURNING ` + refreshColumns

func (r *RefreshTokenRepo) Consume(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, err := r.DB.Query(ctx, consumeRefreshToken, tokenHash)
	return collectRefreshToken(rows, err, "consume refresh token")
}

const deleteExpiredRefreshTokens = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at <= $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredRefreshTokens, before)
	if err != nil {
		return 0, dbError("delete expired refresh tokens", err)
	}

	return tag.RowsAffected(), nil
}

func collectRefreshToken(rows pgx.Rows, err error, op string) (models.RefreshToken, error) {
	var token models.RefreshToken
	if err == nil {
		token, err = pgx.CollectOneRow(rows, rowToRefreshToken)
	}

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	default:
		return token, dbError(op, err)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt)
	return t, err
}
