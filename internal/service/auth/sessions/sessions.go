// Package sessions persists refresh tokens by their hash and rotates them
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/service/tokenhash"
)

const defaultTimeout = 5 * time.Second

type Store struct {
	repo    repository.RefreshTokenRepo
	timeout time.Duration
	now     func() time.Time
}

// Zero timeout means default one
func New(repo repository.RefreshTokenRepo, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Store{repo: repo, timeout: timeout, now: time.Now}
}

// WithRepo returns store with the same settings bound to another repo, e.g. a transaction
func (s *Store) WithRepo(repo repository.RefreshTokenRepo) *Store {
	c := *s
	c.repo = repo
	return &c
}

// Issue stores hash of issued refresh token. Every login gets its own row
func (s *Store) Issue(ctx context.Context, accountID uuid.UUID, token models.IssuedToken) (models.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	stored, err := s.repo.Create(ctx, models.RefreshToken{
		ID:         uuid.New(),
		AccountID:  accountID,
		TokenHash:  tokenhash.Sum(token.Value),
		CreatedAt:  now,
		ExpiresAt:  token.ExpiresAt,
		LastUsedAt: now,
	})
	if err != nil {
		return stored, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return stored, nil
}

// Rotate removes stored token so it can't be used again and returns it
// Of concurrent callers with the same token only one gets the row
func (s *Store) Rotate(ctx context.Context, raw string) (models.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	token, err := s.repo.Consume(ctx, tokenhash.Sum(raw))
	if err != nil {
		return token, err
	}

	if !token.ExpiresAt.After(s.now()) {
		return token, apperrors.ErrRefreshTokenExpired
	}

	return token, nil
}

// Revoke deletes stored token. Unknown token is fine: it can't be used anyway
func (s *Store) Revoke(ctx context.Context, raw string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.repo.Consume(ctx, tokenhash.Sum(raw))
	if err != nil && !errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
		return err
	}

	return nil
}

// Purge deletes tokens expired by now
func (s *Store) Purge(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.DeleteExpired(ctx, now)
}
