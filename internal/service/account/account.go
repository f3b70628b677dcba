package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
)

const (
	MinPasswordLength = 8

	defaultTimeout = 5 * time.Second
)

// Interface to create or verify password hashes
type PasswordHasher interface {
	// Generate hash from password. Salted, so every call differs
	Hash(password string) (string, error)

	// Compare password with known hash
	// Mismatch is (false, nil), must be protected against timing attacks
	Verify(password string, encoded string) (bool, error)

	// Whether hash was made by legacy scheme or with outdated params
	NeedsRehash(encoded string) bool
}

type Config struct {
	// Replace legacy hashes on successful login
	RehashLegacy bool

	// Bound for every store call. Default is used if zero
	Timeout time.Duration
}

type Service struct {
	hasher  PasswordHasher
	repo    repository.AccountRepo
	logger  logger.Logger
	rehash  bool
	timeout time.Duration

	// Hash the password is checked against when account is missing
	dummyOnce sync.Once
	dummyHash string
}

func NewService(cfg Config, hasher PasswordHasher, repo repository.AccountRepo, l logger.Logger) (*Service, error) {
	if hasher == nil || repo == nil {
		return nil, errors.New("hasher and account repo must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Service{
		hasher:  hasher,
		repo:    repo,
		logger:  l.With("component", "account"),
		rehash:  cfg.RehashLegacy,
		timeout: cfg.Timeout,
	}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return fmt.Errorf("%w: email is not valid", apperrors.ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", apperrors.ErrInvalidInput, MinPasswordLength)
	}
	return nil
}

// Register creates not verified account
// Has to return apperrors.ErrAlreadyRegistered if email taken
func (s *Service) Register(ctx context.Context, email string, password string) (models.Account, error) {
	var acc models.Account

	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return acc, err
	}
	if err := validatePassword(password); err != nil {
		return acc, err
	}

	_, err := s.getByEmail(ctx, email)
	switch {
	case err == nil:
		return acc, apperrors.ErrAlreadyRegistered
	case !errors.Is(err, apperrors.ErrAccountNotFound):
		return acc, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return acc, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	acc, err = s.repo.Create(ctx, email, hash)
	if err != nil {
		return acc, fmt.Errorf("can't create account. Err: %w", err)
	}

	return acc, nil
}

// Authenticate returns account if password matches
// Missing account and wrong password are the same apperrors.ErrInvalidCredentials
func (s *Service) Authenticate(ctx context.Context, email string, password string) (models.Account, error) {
	email = NormalizeEmail(email)

	acc, err := s.getByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrAccountNotFound):
		_, _ = s.hasher.Verify(password, s.dummy())
		return models.Account{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return acc, err
	}

	ok, err := s.hasher.Verify(password, acc.PasswordHash)
	if err != nil {
		return models.Account{}, fmt.Errorf("can't verify password of account %s. Err: %w", acc.ID, err)
	}
	if !ok {
		return models.Account{}, apperrors.ErrInvalidCredentials
	}

	if s.rehash && s.hasher.NeedsRehash(acc.PasswordHash) {
		s.upgradeHash(ctx, &acc, password)
	}

	return acc, nil
}

// Failed upgrade doesn't fail login: old hash still works
func (s *Service) upgradeHash(ctx context.Context, acc *models.Account, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.updateHash(ctx, acc.ID, hash)
	}
	if err != nil {
		s.logger.Warn("password hash upgrade failed", "account_id", acc.ID, "error", err.Error())
		return
	}

	acc.PasswordHash = hash
	s.logger.Info("password hash upgraded", "account_id", acc.ID)
}

// FindByEmail normalizes email before lookup
func (s *Service) FindByEmail(ctx context.Context, email string) (models.Account, error) {
	return s.getByEmail(ctx, NormalizeEmail(email))
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.GetByID(ctx, id)
}

// MarkVerified is one way: verifying verified account keeps the first verification time
func (s *Service) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) (models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.MarkVerified(ctx, id, at)
}

// ChangePassword requires the current password
// Wrong current password is apperrors.ErrInvalidCredentials
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, current string, next string) (models.Account, error) {
	acc, err := s.Get(ctx, id)
	if err != nil {
		return acc, err
	}

	ok, err := s.hasher.Verify(current, acc.PasswordHash)
	if err != nil {
		return acc, fmt.Errorf("can't verify password of account %s. Err: %w", acc.ID, err)
	}
	if !ok {
		return acc, apperrors.ErrInvalidCredentials
	}

	if err := validatePassword(next); err != nil {
		return acc, err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return acc, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	if err := s.updateHash(ctx, acc.ID, hash); err != nil {
		return acc, err
	}

	acc.PasswordHash = hash
	return acc, nil
}

func (s *Service) getByEmail(ctx context.Context, email string) (models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.GetByEmail(ctx, email)
}

func (s *Service) updateHash(ctx context.Context, id uuid.UUID, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.UpdatePasswordHash(ctx, id, hash)
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("dummy password to spend time on")
		if err != nil {
			s.logger.Error("can't compute dummy password hash", "error", err.Error())
			return
		}
		s.dummyHash = hash
	})

	return s.dummyHash
}
