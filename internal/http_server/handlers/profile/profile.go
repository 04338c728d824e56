package profile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"warranty_auth/internal/auth"
	"warranty_auth/internal/http_server/middleware/authn"
	resp "warranty_auth/internal/lib/api/response"
	sl "warranty_auth/internal/lib/logger/sl"
	"warranty_auth/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type UpdateRequest struct {
	Name                        string `json:"name" validate:"max=100"`
	EmailNotifications          *bool  `json:"emailNotifications"`
	WarrantyExpirationReminders *int   `json:"warrantyExpirationReminders" validate:"omitempty,min=0,max=365"`
}

type Reader interface {
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

type Updater interface {
	UpdateProfile(ctx context.Context, email string, upd auth.ProfileUpdate) (models.User, error)
}

// Get godoc
// @Summary      Профиль текущего пользователя
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  resp.Profile
// @Failure      401  {object}  resp.Response
// @Failure      404  {object}  resp.Response  "User not found"
// @Router       /api/users/profile [get]
func Get(log *slog.Logger, reader Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.profile.Get"

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

		user, err := reader.FindByEmail(ctx, id.Email)
		if err != nil {
			status, body := resp.FromError(err)
			if status == http.StatusInternalServerError {
				log.Error("failed to load profile", sl.Err(err))
			}

			render.Status(r, status)
			render.JSON(w, r, body)

			return
		}

		render.JSON(w, r, resp.ProfileFrom(user))
	}
}

// Update godoc
// @Summary      Изменение имени и настроек уведомлений
// @Description  Пустое имя не меняет текущее. Отсутствующие поля настроек не трогаются.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  resp.Profile
// @Failure      400  {object}  resp.Response
// @Failure      401  {object}  resp.Response
// @Router       /api/users/profile [put]
func Update(log *slog.Logger, validate *validator.Validate, updater Updater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.profile.Update"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, ok := authn.IdentityFromContext(r.Context())
		if !ok {
			resp.RenderError(w, r, resp.ErrUnauthorized)

			return
		}

		var req UpdateRequest

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

		user, err := updater.UpdateProfile(ctx, id.Email, auth.ProfileUpdate{
			Name:                 req.Name,
			EmailNotifications:   req.EmailNotifications,
			WarrantyReminderDays: req.WarrantyExpirationReminders,
		})
		if err != nil {
			status, body := resp.FromError(err)
			if status == http.StatusInternalServerError {
				log.Error("failed to update profile", sl.Err(err))
			}

			render.Status(r, status)
			render.JSON(w, r, body)

			return
		}

		render.JSON(w, r, resp.ProfileFrom(user))
	}
}
