package models

import (
	"time"

	"github.com/google/uuid"
)

const TokenTypeBearer = "bearer"

// Persisted refresh token. Only hash of the token is stored
type RefreshToken struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Session is returned on successful login or refresh
type Session struct {
	Account   Account
	Tokens    TokenPair
	TokenType string
}
