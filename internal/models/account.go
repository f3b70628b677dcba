package models

import (
	"time"

	"github.com/google/uuid"
)

type Account struct {
	ID            uuid.UUID
	Email         string // always lowercase
	PasswordHash  string // scheme tagged, look at password.Hasher
	EmailVerified bool
	VerifiedAt    *time.Time // nil until email verified
	CreatedAt     time.Time
}
