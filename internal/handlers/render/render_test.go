package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
)

const contentType = "application/json; charset=utf-8"

func record(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body)))
	require.Equal(t, contentType, w.Header().Get("Content-Type"))

	return w
}

func TestRender_JSON(t *testing.T) {
	t.Run("ok status", func(t *testing.T) {
		w := record(t, func(w http.ResponseWriter, _ *http.Request) {
			JSON(w, map[string]any{"status": "ok", "checks": 2})
		}, "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status": "ok", "checks": 2}`, w.Body.String())
	})

	t.Run("custom status", func(t *testing.T) {
		w := record(t, func(w http.ResponseWriter, _ *http.Request) {
			JSONWithStatus(w, map[string]string{"message": "sent"}, http.StatusAccepted)
		}, "")

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"message": "sent"}`, w.Body.String())
	})

	t.Run("unencodable value", func(t *testing.T) {
		w := httptest.NewRecorder()

		JSON(w, map[string]any{"ch": make(chan int)})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRender_ServiceError(t *testing.T) {
	w := record(t, func(w http.ResponseWriter, _ *http.Request) {
		ServiceError(w, "Unauthorized", http.StatusUnauthorized)
	}, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error": "service_error", "message": "Unauthorized"}`, w.Body.String())
}

func TestRender_DecodeError(t *testing.T) {
	type payload struct {
		Email     string `json:"email"`
		OTPLength int    `json:"otp_length"`
	}

	decode := func(w http.ResponseWriter, r *http.Request) {
		var value payload
		err := json.NewDecoder(r.Body).Decode(&value)
		require.Error(t, err, "request body should not decode")
		DecodeError(w, err)
	}

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"syntax", `invalid-json`, "Failed to parse JSON: invalid character 'i' looking for beginning of value"},
		{"wrong type", `{"email": "a@x.com", "otp_length": "six"}`, "Invalid data type for field 'otp_length'"},
		{"empty body", ``, "Request body is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := record(t, decode, tt.body)

			require.Equal(t, http.StatusBadRequest, w.Code)
			var got ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, DecodingErrorType, got.Error)
			assert.Equal(t, tt.message, got.Message)
			assert.Empty(t, got.Fields)
		})
	}
}

func TestRender_ValidationErrors(t *testing.T) {
	type verify struct {
		Code     string `validate:"required"`
		Password string `validate:"min=8"`
		Email    string `validate:"email"`
		Digits   string `validate:"len=6,numeric"`
	}

	err := validator.New().Struct(verify{Password: "123", Email: "not-valid-email", Digits: "12a456"})
	var errs validator.ValidationErrors
	require.ErrorAs(t, err, &errs)

	w := httptest.NewRecorder()
	ValidationErrors(w, errs)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{
		"error": "validation_failed",
		"message": "Request validation failed",
		"fields": {
			"Code": "This field is required",
			"Password": "Value is too short (minimum 8)",
			"Email": "Invalid email address",
			"Digits": "Value must contain digits only"
		}
	}`, w.Body.String())
}

func TestRender_BindAndValidate(t *testing.T) {
	type signup struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8,max=72"`
	}

	var bound signup
	handler := func(w http.ResponseWriter, r *http.Request) {
		v, err := BindAndValidate[signup](w, r)
		if err != nil {
			return
		}
		bound = v
		JSONWithStatus(w, map[string]bool{"created": true}, http.StatusCreated)
	}

	t.Run("valid request", func(t *testing.T) {
		w := record(t, handler, `{"email": "john@example.com", "password": "long-enough"}`)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, signup{Email: "john@example.com", Password: "long-enough"}, bound)
	})

	tests := []struct {
		name   string
		body   string
		errTyp string
		fields map[string]string
	}{
		{
			name:   "invalid json",
			body:   `{"email":`,
			errTyp: DecodingErrorType,
		},
		{
			name:   "missing fields",
			body:   `{}`,
			errTyp: ValidationErrorType,
			fields: map[string]string{"email": "This field is required", "password": "This field is required"},
		},
		{
			name:   "short password",
			body:   `{"email": "john@example.com", "password": "short"}`,
			errTyp: ValidationErrorType,
			fields: map[string]string{"password": "Value is too short (minimum 8)"},
		},
		{
			name:   "long password",
			body:   fmt.Sprintf(`{"email": "john@example.com", "password": %q}`, strings.Repeat("p", 73)),
			errTyp: ValidationErrorType,
			fields: map[string]string{"password": "Value is too long (maximum 72)"},
		},
		{
			name:   "bad email",
			body:   `{"email": "john", "password": "long-enough"}`,
			errTyp: ValidationErrorType,
			fields: map[string]string{"email": "Invalid email address"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := record(t, handler, tt.body)

			require.Equal(t, http.StatusBadRequest, w.Code)
			var got ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.errTyp, got.Error)
			if tt.fields != nil {
				assert.Equal(t, tt.fields, got.Fields)
			}
		})
	}

	t.Run("body over limit", func(t *testing.T) {
		body := `{"email": "` + strings.Repeat("a", MaxBodyBytes) + `@x.com"}`

		w := record(t, handler, body)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Request body too large")
	})
}

func TestRender_AppError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		kind    string
		message string
	}{
		{"already registered", fmt.Errorf("signup: %w", apperrors.ErrAlreadyRegistered), http.StatusBadRequest, "already_registered", "Email already registered"},
		{"malformed code", apperrors.ErrInvalidCodeFormat, http.StatusBadRequest, "validation", "Verification code is malformed"},
		{"code used", apperrors.ErrCodeAlreadyUsed, http.StatusBadRequest, "code_already_used", "Verification code already used"},
		{"code not found", apperrors.ErrCodeNotFound, http.StatusNotFound, "code_not_found", "Verification code not found"},
		{"invalid credentials", apperrors.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password"},
		{"refresh expired", apperrors.ErrRefreshTokenExpired, http.StatusUnauthorized, "refresh_token_expired", "Refresh token expired"},
		{"not verified", apperrors.ErrEmailNotVerified, http.StatusForbidden, "email_not_verified", "Email not verified"},
		{"notification failed", fmt.Errorf("%w: brevo down", apperrors.ErrNotificationFailed), http.StatusBadGateway, "notification_failed", "Failed to send email"},
		{"unavailable", apperrors.Unavailable("select account", errors.New("connection refused")), http.StatusServiceUnavailable, "unavailable", "Service temporarily unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal", "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message := StatusFor(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.message, message)

			w := httptest.NewRecorder()
			AppError(w, tt.err)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, contentType, w.Header().Get("Content-Type"))
			assert.JSONEq(t, fmt.Sprintf(`{"error": %q, "message": %q}`, tt.kind, tt.message), w.Body.String())
		})
	}
}
