package oauth2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"warranty_auth/internal/auth"
	resp "warranty_auth/internal/lib/api/response"
	"warranty_auth/internal/lib/jwt"
	sl "warranty_auth/internal/lib/logger/sl"
	"warranty_auth/internal/models"
	"warranty_auth/internal/oauth"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	xoauth2 "golang.org/x/oauth2"
)

var errStateMismatch = errors.New("oauth2 state belongs to another provider")

type Flow interface {
	AuthCodeURL(p models.Provider, state string) (string, error)
	Exchange(ctx context.Context, p models.Provider, code string) (*xoauth2.Token, error)
	FetchIdentity(ctx context.Context, p models.Provider, tok *xoauth2.Token) (oauth.Assertion, error)
}

type SessionOpener interface {
	OAuthLogin(ctx context.Context, p jwt.Principal, ext auth.ExternalIdentity) (auth.Session, error)
}

// Authorize godoc
// @Summary      Начало входа через провайдера
// @Description  Сохраняет state и перенаправляет браузер на страницу согласия провайдера.
// @Tags         oauth2
// @Param        provider  path  string  true  "google или github"
// @Success      302
// @Failure      404  {object}  resp.Response  "Провайдер не поддерживается"
// @Router       /oauth2/authorize/{provider} [get]
func Authorize(
	log *slog.Logger,
	flow Flow,
	states oauth.StateStore,
	stateTTL time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.oauth2.Authorize"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		provider, err := oauth.ParseProvider(chi.URLParam(r, "provider"))
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, resp.Error("Unknown provider"))

			return
		}

		state, err := oauth.NewState()
		if err != nil {
			log.Error("failed to generate state", sl.Err(err))
			resp.RenderError(w, r, err)

			return
		}

		target, err := flow.AuthCodeURL(provider, state)
		if err != nil {
			log.Info("provider is not available", sl.Err(err))

			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, resp.Error("Unknown provider"))

			return
		}

		if err := states.Save(r.Context(), state, provider, stateTTL); err != nil {
			log.Error("failed to save state", sl.Err(err))
			resp.RenderError(w, r, err)

			return
		}

		http.Redirect(w, r, target, http.StatusFound)
	}
}

// Callback godoc
// @Summary      Возврат от провайдера
// @Description  При успехе перенаправляет на {frontend}/oauth2/callback с токенами, иначе на {frontend}/login с ошибкой.
// @Tags         oauth2
// @Param        provider  path   string  true  "google или github"
// @Param        code      query  string  true  "Код авторизации"
// @Param        state     query  string  true  "State из Authorize"
// @Success      302
// @Router       /oauth2/callback/{provider} [get]
func Callback(
	log *slog.Logger,
	flow Flow,
	states oauth.StateStore,
	opener SessionOpener,
	frontendBase string,
) http.HandlerFunc {
	frontendBase = strings.TrimRight(frontendBase, "/")

	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.oauth2.Callback"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		session, err := complete(ctx, r, flow, states, opener)
		if err != nil {
			log.Warn("oauth2 authentication failed", sl.Err(err))

			http.Redirect(w, r, failureURL(frontendBase), http.StatusFound)

			return
		}

		log.Info("oauth2 login succeeded", slog.Int64("uid", session.User.ID))

		http.Redirect(w, r, successURL(frontendBase, session), http.StatusFound)
	}
}

func complete(
	ctx context.Context,
	r *http.Request,
	flow Flow,
	states oauth.StateStore,
	opener SessionOpener,
) (auth.Session, error) {
	const op = "handlers.oauth2.complete"

	provider, err := oauth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		return auth.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	q := r.URL.Query()

	if upstream := q.Get("error"); upstream != "" {
		return auth.Session{}, fmt.Errorf("%s: provider returned %q", op, upstream)
	}

	saved, err := states.Consume(ctx, q.Get("state"))
	if err != nil {
		return auth.Session{}, fmt.Errorf("%s: %w", op, err)
	}
	if saved != provider {
		return auth.Session{}, fmt.Errorf("%s: %w", op, errStateMismatch)
	}

	tok, err := flow.Exchange(ctx, provider, q.Get("code"))
	if err != nil {
		return auth.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	assertion, err := flow.FetchIdentity(ctx, provider, tok)
	if err != nil {
		return auth.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	session, err := opener.OAuthLogin(ctx, assertion.Principal, assertion.Identity)
	if err != nil {
		return auth.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}

func successURL(base string, s auth.Session) string {
	v := url.Values{}
	v.Set("token", s.AccessToken)
	v.Set("refreshToken", s.RefreshToken)
	v.Set("success", "true")

	return base + "/oauth2/callback?" + v.Encode()
}

// * failureURL не раскрывает причину отказа
func failureURL(base string) string {
	v := url.Values{}
	v.Set("error", "oauth2_authentication_failed")
	v.Set("message", "Authentication failed. Please try again.")

	return base + "/login?" + v.Encode()
}
