package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/handlers/middleware"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type authService interface {
	// Has to return apperrors.ErrAlreadyRegistered if email taken
	// Account is returned with apperrors.ErrNotificationFailed if code was not delivered
	Signup(ctx context.Context, email string, password string) (models.Account, error)

	VerifyEmail(ctx context.Context, code string) (models.Account, error)

	// Must not reveal whether the email is registered
	ResendVerification(ctx context.Context, email string) error

	// Has to return apperrors.ErrInvalidCredentials or apperrors.ErrEmailNotVerified
	Login(ctx context.Context, email string, password string) (models.Session, error)

	// If token expired: has to return apperrors.ErrRefreshTokenExpired
	// If token not found: has to return apperrors.ErrRefreshTokenNotFound
	Refresh(ctx context.Context, refreshToken string) (models.Session, error)

	Logout(ctx context.Context, refreshToken string) error

	// Return account the access token issued for
	Authenticate(ctx context.Context, accessToken string) (models.Account, error)

	ChangePassword(ctx context.Context, accountID uuid.UUID, current string, next string) error
}

type requestMetrics interface {
	ObserveRequest(method string, route string, status int, d time.Duration)
	Handler() http.Handler
}

func NewRouter(
	authService authService,
	checks []HealthCheck,
	m requestMetrics,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.AuthMiddleware(authService)

	mux := http.NewServeMux()

	mux.Handle("POST /auth/signup", handleSignup(authService, logger))
	mux.Handle("GET /auth/verify", handleVerifyEmail(authService, logger))
	mux.Handle("POST /auth/verify", handleVerifyEmail(authService, logger))
	mux.Handle("POST /auth/verify/resend", handleResendVerification(authService, logger))
	mux.Handle("POST /auth/login", handleLogin(authService, logger))
	mux.Handle("POST /auth/refresh", handleRefresh(authService, logger))
	mux.Handle("POST /auth/logout", handleLogout(authService, logger))

	mux.Handle("GET /auth/me", withAuth(handleMe()))
	mux.Handle("POST /auth/password", withAuth(handleChangePassword(authService, logger)))

	mux.Handle("GET /healthz", handleHealth(checks, logger))
	mux.Handle("GET /metrics", m.Handler())

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
		middleware.MetricsMiddleware(m),
	)

	return handler
}
