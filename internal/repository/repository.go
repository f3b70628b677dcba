package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/models"
)

// Account repository
type AccountRepo interface {
	// Create account with lowercase email and hashed password, not verified
	// If email is taken already has to return apperrors.ErrAlreadyRegistered
	Create(ctx context.Context, email string, passwordHash string) (models.Account, error)

	// Get account by id or email
	// If account not found must return apperrors.ErrAccountNotFound
	GetByID(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetByEmail(ctx context.Context, email string) (models.Account, error)

	// Set email verified. Verification time is not overwritten if account verified already
	// If account not found must return apperrors.ErrAccountNotFound
	MarkVerified(ctx context.Context, id uuid.UUID, verifiedAt time.Time) (models.Account, error)

	// If account not found must return apperrors.ErrAccountNotFound
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// One-time code repository
// Store must keep at most one unused code per (account, purpose)
type OneTimeCodeRepo interface {
	// Atomically drop unused code for (code.AccountID, code.Purpose) and store the new one
	// If another account has unused code with the same hash and purpose must return apperrors.ErrCodeCollision
	Replace(ctx context.Context, code models.OneTimeCode) error

	// Find code by its hash. Unused record wins over used ones
	// If nothing found must return apperrors.ErrCodeNotFound
	GetByHash(ctx context.Context, codeHash string, purpose string) (models.OneTimeCode, error)

	// Mark code used only if it is still unused. Exactly one concurrent caller may succeed
	// If code used already must return apperrors.ErrCodeAlreadyUsed and keep existing used_at
	// If code not found must return apperrors.ErrCodeNotFound
	MarkUsed(ctx context.Context, code models.OneTimeCode, usedAt time.Time) error
}

// Refresh token repository
type RefreshTokenRepo interface {
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return token even if it expired
	// If not found must return apperrors.ErrRefreshTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Delete token and return deleted row. Exactly one concurrent caller gets the row
	// If not found must return apperrors.ErrRefreshTokenNotFound
	Consume(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Delete tokens expired before the time, return count of deleted
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	Account() AccountRepo
	Code() OneTimeCodeRepo
	Refresh() RefreshTokenRepo

	// Run fn in transaction. Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
