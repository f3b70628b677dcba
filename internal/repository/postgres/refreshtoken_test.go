package postgres

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return dt
}

func newRefreshToken(hash string, expiresAt time.Time) models.RefreshToken {
	issued := mustParseTime("2024-01-01T19:00:01Z")
	return models.RefreshToken{
		ID:         uuid.New(),
		AccountID:  uuid.New(),
		TokenHash:  hash,
		CreatedAt:  issued,
		ExpiresAt:  expiresAt,
		LastUsedAt: issued,
	}
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	farFuture := mustParseTime("2200-01-01T03:00:02Z")

	// Subtests run sequentially, each one in its own rolled back tx
	repoInTx := func(t *testing.T) *RefreshTokenRepo {
		return &RefreshTokenRepo{DB: testutil.Tx(t, pg.Pool)}
	}

	t.Run("create returns stored row", func(t *testing.T) {
		repo := repoInTx(t)
		token := newRefreshToken("hash-create", farFuture)

		got, err := repo.Create(t.Context(), token)

		require.NoError(t, err)
		assert.Equal(t, token.ID, got.ID)
		assert.Equal(t, token.AccountID, got.AccountID)
		assert.Equal(t, token.TokenHash, got.TokenHash)
		assert.WithinDuration(t, token.CreatedAt, got.CreatedAt, 0)
		assert.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, 0)
		assert.WithinDuration(t, token.LastUsedAt, got.LastUsedAt, 0)
	})

	t.Run("same hash twice fails", func(t *testing.T) {
		repo := repoInTx(t)
		_, err := repo.Create(t.Context(), newRefreshToken("hash-dup", farFuture))
		require.NoError(t, err)

		_, err = repo.Create(t.Context(), newRefreshToken("hash-dup", farFuture))

		require.Error(t, err)
	})

	t.Run("get returns expired token too", func(t *testing.T) {
		repo := repoInTx(t)
		token := newRefreshToken("hash-old", mustParseTime("2024-01-02T00:00:00Z"))
		_, err := repo.Create(t.Context(), token)
		require.NoError(t, err)

		got, err := repo.GetByHash(t.Context(), token.TokenHash)

		require.NoError(t, err)
		assert.Equal(t, token.ID, got.ID)
		assert.True(t, got.ExpiresAt.Before(time.Now()))
	})

	t.Run("get unknown hash", func(t *testing.T) {
		repo := repoInTx(t)

		_, err := repo.GetByHash(t.Context(), "never-issued")

		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	t.Run("consume deletes row", func(t *testing.T) {
		repo := repoInTx(t)
		token := newRefreshToken("hash-consume", farFuture)
		_, err := repo.Create(t.Context(), token)
		require.NoError(t, err)

		got, err := repo.Consume(t.Context(), token.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, token.ID, got.ID)

		_, err = repo.Consume(t.Context(), token.TokenHash)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "second consume must fail")
		_, err = repo.GetByHash(t.Context(), token.TokenHash)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "consumed token must be deleted")
	})

	t.Run("delete expired keeps live tokens", func(t *testing.T) {
		repo := repoInTx(t)
		live := newRefreshToken("hash-live", farFuture)
		expired := newRefreshToken("hash-expired", mustParseTime("2024-01-02T00:00:00Z"))
		for _, tok := range []models.RefreshToken{live, expired} {
			_, err := repo.Create(t.Context(), tok)
			require.NoError(t, err)
		}

		count, err := repo.DeleteExpired(t.Context(), mustParseTime("2025-01-01T00:00:00Z"))

		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		_, err = repo.GetByHash(t.Context(), live.TokenHash)
		assert.NoError(t, err, "live token must stay")
		_, err = repo.GetByHash(t.Context(), expired.TokenHash)
		assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	// Needs committed row, so goes through the pool
	t.Run("concurrent consume wins once", func(t *testing.T) {
		repo := &RefreshTokenRepo{DB: pg.Pool}
		token := newRefreshToken("hash-race-"+uuid.NewString(), farFuture)
		_, err := repo.Create(t.Context(), token)
		require.NoError(t, err)

		const consumers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			winners  int
			notFound int
		)
		for range consumers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Consume(t.Context(), token.TokenHash)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case apperrors.Kind(err) == "refresh_token_not_found":
					notFound++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
		assert.Equal(t, consumers-1, notFound)
	})
}
