package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/models"
)

type userResponse struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func newUserResponse(acc models.Account) userResponse {
	return userResponse{
		ID:            acc.ID,
		Email:         acc.Email,
		EmailVerified: acc.EmailVerified,
		CreatedAt:     acc.CreatedAt,
	}
}

type sessionResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
}

func newSessionResponse(s models.Session) sessionResponse {
	return sessionResponse{
		User:         newUserResponse(s.Account),
		AccessToken:  s.Tokens.Access.Value,
		RefreshToken: s.Tokens.Refresh.Value,
		TokenType:    s.TokenType,
	}
}
