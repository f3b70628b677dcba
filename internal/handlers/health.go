package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/logger"
)

const healthTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is reachable
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func handleHealth(checks []HealthCheck, l logger.Logger) http.Handler {
	type response struct {
		Status string            `json:"status"`
		Failed map[string]string `json:"failed,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		failed := make(map[string]string)
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				l.Warn("health check failed", "check", c.Name, "error", err.Error())
				failed[c.Name] = "unavailable"
			}
		}

		if len(failed) > 0 {
			render.JSONWithStatus(w, response{Status: "unavailable", Failed: failed}, http.StatusServiceUnavailable)
			return
		}

		render.JSON(w, response{Status: "ok"})
	})
}
