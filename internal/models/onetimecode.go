package models

import (
	"time"

	"github.com/google/uuid"
)

const PurposeEmailVerification = "email_verification"

// One-time code record. Raw code is never stored, only its SHA-256
type OneTimeCode struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Email     string
	Purpose   string
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	Attempts  int
}

// Code considered expired when its expiry is not after now
func (c OneTimeCode) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
