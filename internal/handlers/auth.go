package handlers

import (
	"net/http"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/render"
	"github.com/nkiryanov/gopherauth/internal/handlers/userctx"
	"github.com/nkiryanov/gopherauth/internal/logger"
)

// Log errors the client can't do anything about
func renderError(w http.ResponseWriter, l logger.Logger, op string, err error) {
	switch code, _ := render.StatusFor(err); {
	case code >= http.StatusInternalServerError:
		l.Error("request failed", "operation", op, "kind", apperrors.Kind(err), "error", err.Error())
	default:
		l.Debug("request rejected", "operation", op, "kind", apperrors.Kind(err))
	}

	render.AppError(w, err)
}

func handleSignup(as authService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=1024"`
	}
	type response struct {
		User userResponse `json:"user"`
		// Code is delivered by email only
		VerificationToken *string `json:"verification_token"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		acc, err := as.Signup(r.Context(), data.Email, data.Password)
		if err != nil {
			renderError(w, l, "signup", err)
			return
		}

		render.JSONWithStatus(w, response{User: newUserResponse(acc)}, http.StatusCreated)
	})
}

// Verify email by code from query (link in the mail) or from json body
func handleVerifyEmail(as authService, l logger.Logger) http.Handler {
	type request struct {
		Code string `json:"code" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var code string

		switch r.Method {
		case http.MethodGet:
			code = r.URL.Query().Get("token")
			if code == "" {
				render.ServiceError(w, "Query parameter 'token' is required", http.StatusBadRequest)
				return
			}
		default:
			data, err := render.BindAndValidate[request](w, r)
			if err != nil {
				return
			}
			code = data.Code
		}

		acc, err := as.VerifyEmail(r.Context(), code)
		if err != nil {
			renderError(w, l, "verify_email", err)
			return
		}

		render.JSON(w, newUserResponse(acc))
	})
}

func handleResendVerification(as authService, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := as.ResendVerification(r.Context(), data.Email); err != nil {
			renderError(w, l, "resend_verification", err)
			return
		}

		render.JSONWithStatus(w, response{Message: "If the account exists and is not verified, a new code was sent"}, http.StatusAccepted)
	})
}

func handleLogin(as authService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := as.Login(r.Context(), data.Email, data.Password)
		if err != nil {
			renderError(w, l, "login", err)
			return
		}

		render.JSON(w, newSessionResponse(session))
	})
}

func handleRefresh(as authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := as.Refresh(r.Context(), data.RefreshToken)
		if err != nil {
			renderError(w, l, "refresh", err)
			return
		}

		render.JSON(w, newSessionResponse(session))
	})
}

func handleLogout(as authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := as.Logout(r.Context(), data.RefreshToken); err != nil {
			renderError(w, l, "logout", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// Auth middleware must be applied before
func handleMe() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, _ := userctx.FromContext(r.Context())
		render.JSON(w, newUserResponse(acc))
	})
}

func handleChangePassword(as authService, l logger.Logger) http.Handler {
	type request struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8,max=1024"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, _ := userctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := as.ChangePassword(r.Context(), acc.ID, data.CurrentPassword, data.NewPassword); err != nil {
			renderError(w, l, "change_password", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
