package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/userctx"
	"github.com/nkiryanov/gopherauth/internal/models"
)

type authenticator interface {
	// Return account the access token was issued for
	Authenticate(ctx context.Context, accessToken string) (models.Account, error)
}

// BearerToken extracts token from 'Authorization: Bearer <token>' header
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

func AuthMiddleware(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			acc, err := a.Authenticate(r.Context(), token)
			if err != nil {
				if code, _ := render.StatusFor(err); code == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", "Bearer")
				}
				render.AppError(w, err)
				return
			}

			ctx := userctx.New(r.Context(), acc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
