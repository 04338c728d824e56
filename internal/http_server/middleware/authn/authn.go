package authn

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	resp "warranty_auth/internal/lib/api/response"
	"warranty_auth/internal/lib/jwt"

	"github.com/go-chi/chi/middleware"
)

type ctxKey struct{}

type TokenValidator interface {
	ValidateAccessToken(token string) (jwt.Identity, error)
}

// * New проверяет Authorization: Bearer и кладет jwt.Identity в контекст запроса
func New(log *slog.Logger, validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authn"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			token, ok := bearerToken(r)
			if !ok {
				log.Debug("missing bearer token")

				resp.RenderError(w, r, resp.ErrUnauthorized)

				return
			}

			id, err := validator.ValidateAccessToken(token)
			if err != nil {
				log.Info("rejected access token", slog.String("reason", err.Error()))

				resp.RenderError(w, r, fmt.Errorf("%s: %w", op, err))

				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func WithIdentity(ctx context.Context, id jwt.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFromContext(ctx context.Context) (jwt.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(jwt.Identity)
	return id, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}
