package login

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"warranty_auth/internal/auth"
	resp "warranty_auth/internal/lib/api/response"
	sl "warranty_auth/internal/lib/logger/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type Response struct {
	resp.Response
	User         resp.User `json:"user"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (auth.Session, error)
}

// New godoc
// @Summary      Вход по email и паролю
// @Tags         auth
// @Accept       json
// @Produce      json
// @Success      200  {object}  Response
// @Failure      401  {object}  resp.Response  "Invalid email or password"
// @Failure      403  {object}  resp.Response  "Учетная запись отключена"
// @Router       /api/auth/login [post]
func New(
	log *slog.Logger,
	validate *validator.Validate,
	authenticator Authenticator,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

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

			log.Info("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		session, err := authenticator.Login(ctx, req.Email, req.Password)
		if err != nil {
			status, body := resp.FromError(err)
			if status == http.StatusInternalServerError {
				log.Error("failed to login user", sl.Err(err))
			}

			render.Status(r, status)
			render.JSON(w, r, body)

			return
		}

		log.Info("User logged in successfully", slog.Int64("uid", session.User.ID))

		render.JSON(w, r, Response{
			Response:     resp.OK(),
			User:         resp.UserFrom(session.User),
			Token:        session.AccessToken,
			RefreshToken: session.RefreshToken,
		})
	}
}
