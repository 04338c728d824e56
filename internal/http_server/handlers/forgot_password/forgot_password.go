package forgot_password

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
	Email string `json:"email" validate:"required,email,max=254"`
}

type ResetRequester interface {
	RequestPasswordReset(ctx context.Context, email string) error
}

// New godoc
// @Summary      Запрос ссылки для сброса пароля
// @Tags         auth
// @Accept       json
// @Produce      json
// @Success      200  {object}  resp.Response
// @Failure      404  {object}  resp.Response  "Пользователь не найден"
// @Router       /api/auth/forgot-password [post]
func New(
	log *slog.Logger,
	validate *validator.Validate,
	requester ResetRequester,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forgot_password.New"

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

		if err := requester.RequestPasswordReset(ctx, req.Email); err != nil {
			status, body := resp.FromError(err)
			if status == http.StatusInternalServerError {
				log.Error("failed to request password reset", sl.Err(err))
			}

			render.Status(r, status)
			render.JSON(w, r, body)

			return
		}

		render.JSON(w, r, resp.OKMessage("Password reset link sent to email"))
	}
}
