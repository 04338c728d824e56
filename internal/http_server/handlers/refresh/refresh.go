package refresh

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	resp "warranty_auth/internal/lib/api/response"
	sl "warranty_auth/internal/lib/logger/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type Response struct {
	resp.Response
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (accessToken string, newRefresh string, err error)
}

// New godoc
// @Summary      Обновление пары токенов
// @Description  Старый refresh токен после обмена становится недействительным.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Success      200  {object}  Response
// @Failure      401  {object}  resp.Response  "Refresh токен истек"
// @Failure      404  {object}  resp.Response  "Refresh токен не найден"
// @Router       /api/auth/refresh-token [post]
func New(
	log *slog.Logger,
	validate *validator.Validate,
	refresher Refresher,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			var validateErr validator.ValidationErrors
			errors.As(err, &validateErr)

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		accessToken, refreshToken, err := refresher.Refresh(ctx, req.RefreshToken)
		if err != nil {
			status, body := resp.FromError(err)
			if status == http.StatusInternalServerError {
				log.Error("failed to refresh tokens", sl.Err(err))
			} else {
				log.Info("refresh rejected", sl.Err(err))
			}

			render.Status(r, status)
			render.JSON(w, r, body)

			return
		}

		render.JSON(w, r, Response{
			Response:     resp.OK(),
			Token:        accessToken,
			RefreshToken: refreshToken,
		})
	}
}
