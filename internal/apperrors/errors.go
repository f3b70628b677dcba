package apperrors

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Validation errors. Always local, never retried.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidCodeFormat = fmt.Errorf("%w: malformed one-time code", ErrInvalidInput)
)

// Business outcomes. Surfaced to the caller as is.
var (
	ErrAlreadyRegistered  = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrAccountNotFound    = errors.New("account not found")

	ErrCodeNotFound    = errors.New("one-time code not found")
	ErrCodeAlreadyUsed = errors.New("one-time code already used")
	ErrCodeExpired     = errors.New("one-time code expired")

	// Another live code with the same hash exists. Issuers regenerate on it
	ErrCodeCollision = errors.New("one-time code collision")

	ErrTokenInvalidSignature = errors.New("token signature is invalid")
	ErrTokenExpired          = errors.New("token is expired")
	ErrTokenWrongType        = errors.New("token has wrong type")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")

	ErrNotificationFailed = errors.New("notification failed")
)

// Infrastructure failure: store or notifier unreachable, timeout
// Caller may retry later
var ErrUnavailable = errors.New("temporarily unavailable")

const CodeUnavailable = "UNAVAILABLE"

// Unavailable wraps infrastructure error and tags it with operation name
// Result matches both ErrUnavailable and err with errors.Is
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}

	return oops.
		Code(CodeUnavailable).
		With("operation", op).
		Wrapf(fmt.Errorf("%w: %w", ErrUnavailable, err), "%s", op)
}

// IsUnavailable reports whether err is infrastructure failure
// Context deadline is treated as one even if nobody wrapped it
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidInput, "validation"},
	{ErrAlreadyRegistered, "already_registered"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrEmailNotVerified, "email_not_verified"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrCodeNotFound, "code_not_found"},
	{ErrCodeAlreadyUsed, "code_already_used"},
	{ErrCodeExpired, "code_expired"},
	{ErrCodeCollision, "code_collision"},
	{ErrTokenInvalidSignature, "token_invalid_signature"},
	{ErrTokenExpired, "token_expired"},
	{ErrTokenWrongType, "token_wrong_type"},
	{ErrRefreshTokenNotFound, "refresh_token_not_found"},
	{ErrRefreshTokenExpired, "refresh_token_expired"},
	{ErrNotificationFailed, "notification_failed"},
}

// Kind returns stable label of the error. Used as metric label
func Kind(err error) string {
	if err == nil {
		return "ok"
	}

	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	if IsUnavailable(err) {
		return "unavailable"
	}

	return "internal"
}
