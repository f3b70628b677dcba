// Package otp issues numeric one-time codes and consumes them exactly once
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
	"github.com/nkiryanov/gopherauth/internal/repository"
	"github.com/nkiryanov/gopherauth/internal/service/tokenhash"
)

const (
	defaultLength  = 6
	defaultTTL     = 5 * time.Minute
	defaultTimeout = 5 * time.Second

	// How many times code is regenerated if it collides with live code of another account
	maxIssueAttempts = 3
)

var ten = big.NewInt(10)

// GenerateCode returns string of exactly length random digits
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}

	var b strings.Builder
	b.Grow(length)

	for range length {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("error while generating code digit. Err: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}

	return b.String(), nil
}

type Config struct {
	// Digits in code. Default is used if zero
	Length int

	// Default code lifetime. Default is used if zero
	TTL time.Duration

	// Bound for every store call. Default is used if zero
	Timeout time.Duration
}

type Manager struct {
	codes repository.OneTimeCodeRepo

	length  int
	ttl     time.Duration
	timeout time.Duration

	now func() time.Time
}

func NewManager(cfg Config, codes repository.OneTimeCodeRepo) (*Manager, error) {
	if codes == nil {
		return nil, errors.New("code repo must not be nil")
	}
	if cfg.Length < 0 || cfg.TTL < 0 || cfg.Timeout < 0 {
		return nil, errors.New("code length, ttl and timeout must not be negative")
	}

	if cfg.Length == 0 {
		cfg.Length = defaultLength
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Manager{
		codes:   codes,
		length:  cfg.Length,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		now:     time.Now,
	}, nil
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue stores hash of fresh code and returns the raw code for delivery
// Previous unused code of the account with the same purpose stops working
// Zero ttl means default one
func (m *Manager) Issue(ctx context.Context, accountID uuid.UUID, email string, purpose string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}

	for attempt := 1; ; attempt++ {
		raw, err := GenerateCode(m.length)
		if err != nil {
			return "", err
		}

		now := m.now()
		code := models.OneTimeCode{
			ID:        uuid.New(),
			AccountID: accountID,
			Email:     email,
			Purpose:   purpose,
			CodeHash:  tokenhash.Sum(raw),
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		err = m.replace(ctx, code)
		switch {
		case err == nil:
			return raw, nil
		case errors.Is(err, apperrors.ErrCodeCollision) && attempt < maxIssueAttempts:
			continue
		default:
			return "", fmt.Errorf("error while storing code. Err: %w", err)
		}
	}
}

func (m *Manager) replace(ctx context.Context, code models.OneTimeCode) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	return m.codes.Replace(ctx, code)
}

// Consume marks code used and returns its record
// Expired code is marked used too, so it never reports expired twice
func (m *Manager) Consume(ctx context.Context, raw string, purpose string) (models.OneTimeCode, error) {
	raw = strings.TrimSpace(raw)
	if !m.validFormat(raw) {
		return models.OneTimeCode{}, apperrors.ErrInvalidCodeFormat
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	code, err := m.codes.GetByHash(ctx, tokenhash.Sum(raw), purpose)
	if err != nil {
		return code, err
	}

	if code.Used {
		return code, apperrors.ErrCodeAlreadyUsed
	}

	now := m.now()
	if code.IsExpired(now) {
		err := m.codes.MarkUsed(ctx, code, now)
		if err != nil && !errors.Is(err, apperrors.ErrCodeAlreadyUsed) {
			return code, err
		}
		return code, apperrors.ErrCodeExpired
	}

	if err := m.codes.MarkUsed(ctx, code, now); err != nil {
		return code, err
	}

	code.Used = true
	code.UsedAt = &now

	return code, nil
}

func (m *Manager) validFormat(raw string) bool {
	if len(raw) != m.length {
		return false
	}

	for _, r := range raw {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
