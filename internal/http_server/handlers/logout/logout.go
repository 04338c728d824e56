package logout

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"warranty_auth/internal/http_server/middleware/authn"
	resp "warranty_auth/internal/lib/api/response"
	sl "warranty_auth/internal/lib/logger/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type SessionCloser interface {
	Logout(ctx context.Context, email string) error
}

// New godoc
// @Summary      Выход из системы
// @Description  Удаляет refresh токен пользователя из access токена. Повторный вызов безопасен.
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  resp.Response
// @Failure      401  {object}  resp.Response  "Нет или неверный access токен"
// @Router       /api/auth/logout [post]
func New(
	log *slog.Logger,
	closer SessionCloser,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, ok := authn.IdentityFromContext(r.Context())
		if !ok {
			resp.RenderError(w, r, resp.ErrUnauthorized)

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := closer.Logout(ctx, id.Email); err != nil {
			status, body := resp.FromError(err)
			if status == http.StatusInternalServerError {
				log.Error("failed to logout", sl.Err(err))
			}

			render.Status(r, status)
			render.JSON(w, r, body)

			return
		}

		log.Info("user logged out", sl.Email(id.Email))

		render.JSON(w, r, resp.OKMessage("Log out successful!"))
	}
}
