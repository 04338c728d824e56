// Package router assembles the HTTP API of the auth service.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"warranty_auth/internal/auth"
	"warranty_auth/internal/http_server/handlers/forgot_password"
	"warranty_auth/internal/http_server/handlers/login"
	"warranty_auth/internal/http_server/handlers/logout"
	"warranty_auth/internal/http_server/handlers/oauth2"
	"warranty_auth/internal/http_server/handlers/profile"
	"warranty_auth/internal/http_server/handlers/refresh"
	"warranty_auth/internal/http_server/handlers/register"
	"warranty_auth/internal/http_server/handlers/reset_password"
	"warranty_auth/internal/http_server/middleware/authn"
	resp "warranty_auth/internal/lib/api/response"
	"warranty_auth/internal/middleware/ratelimit"
	"warranty_auth/internal/models"
	"warranty_auth/internal/oauth"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// AuthService is everything the handlers need from auth.Auth.
type AuthService interface {
	RegisterNewUser(ctx context.Context, email, password, name string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Logout(ctx context.Context, email string) error
	Refresh(ctx context.Context, refreshToken string) (string, string, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	UpdateProfile(ctx context.Context, email string, upd auth.ProfileUpdate) (models.User, error)
	oauth2.SessionOpener
}

type Deps struct {
	Auth   AuthService
	Tokens authn.TokenValidator

	OAuth        oauth2.Flow
	States       oauth.StateStore
	StateTTL     time.Duration
	FrontendBase string

	AllowedOrigins []string
	// DisableRateLimit выключает лимиты (тесты)
	DisableRateLimit bool
}

func New(log *slog.Logger, d Deps) *chi.Mux {
	validate := validator.New()

	limit := func(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
		if d.DisableRateLimit {
			return func(next http.Handler) http.Handler { return next }
		}
		return mw
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	r.Get("/health", health)

	r.Route("/api/auth", func(r chi.Router) {
		r.With(limit(ratelimit.Register())).Post("/register", register.New(log, validate, d.Auth))
		r.With(limit(ratelimit.Login())).Post("/login", login.New(log, validate, d.Auth))
		r.With(limit(ratelimit.Refresh())).Post("/refresh-token", refresh.New(log, validate, d.Auth))
		r.With(limit(ratelimit.ForgotPassword())).Post("/forgot-password", forgot_password.New(log, validate, d.Auth))
		r.With(limit(ratelimit.ResetPassword())).Post("/reset-password", reset_password.New(log, validate, d.Auth))

		r.Group(func(r chi.Router) {
			r.Use(authn.New(log, d.Tokens))

			r.With(limit(ratelimit.Logout())).Post("/logout", logout.New(log, d.Auth))
			r.Get("/profile", profile.Get(log, d.Auth))
		})
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Use(authn.New(log, d.Tokens))

		r.Get("/profile", profile.Get(log, d.Auth))
		r.Put("/profile", profile.Update(log, validate, d.Auth))
	})

	r.Route("/oauth2", func(r chi.Router) {
		r.Use(limit(ratelimit.OAuth()))

		r.Get("/authorize/{provider}", oauth2.Authorize(log, d.OAuth, d.States, d.StateTTL))
		r.Get("/callback/{provider}", oauth2.Callback(log, d.OAuth, d.States, d.Auth, d.FrontendBase))
	})

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, resp.OKMessage("OK"))
}
