package response

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"warranty_auth/internal/auth"
	"warranty_auth/internal/lib/jwt"
	"warranty_auth/internal/models"
	"warranty_auth/internal/storage"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

var ErrUnauthorized = errors.New("full authentication is required")

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func OK() Response {
	return Response{Success: true}
}

func OKMessage(msg string) Response {
	return Response{
		Success: true,
		Message: msg,
	}
}

func Error(msg string) Response {
	return Response{
		Success: false,
		Message: msg,
	}
}

func ValidationError(errs validator.ValidationErrors) Response {
	var errMsgs []string

	for _, err := range errs {
		field := lowerFirst(err.Field())

		switch err.ActualTag() {
		case "required":
			errMsgs = append(errMsgs, fmt.Sprintf("%s is required", field))
		case "email":
			errMsgs = append(errMsgs, fmt.Sprintf("%s should be a valid email", field))
		case "min":
			errMsgs = append(errMsgs, fmt.Sprintf("%s must be at least %s characters long", field, err.Param()))
		case "max":
			errMsgs = append(errMsgs, fmt.Sprintf("%s must be at most %s characters long", field, err.Param()))
		default:
			errMsgs = append(errMsgs, fmt.Sprintf("%s is not valid", field))
		}
	}

	return Response{
		Success: false,
		Message: strings.Join(errMsgs, ", "),
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}

	return strings.ToLower(s[:1]) + s[1:]
}

// * FromError сопоставляет доменную ошибку со статусом и безопасным сообщением
func FromError(err error) (int, Response) {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusBadRequest, Error("Email is already taken")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, Error("Invalid email or password")
	case errors.Is(err, auth.ErrUserDisabled):
		return http.StatusForbidden, Error("User account is disabled")
	case errors.Is(err, auth.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, Error("Refresh token was expired. Please make a new signin request")
	case errors.Is(err, auth.ErrRefreshTokenNotFound):
		return http.StatusNotFound, Error("Refresh token not found")
	case errors.Is(err, auth.ErrInvalidResetToken):
		return http.StatusBadRequest, Error("Invalid or expired password reset token")
	case errors.Is(err, auth.ErrResetTokenExpired):
		return http.StatusBadRequest, Error("Invalid or expired password reset token")
	case errors.Is(err, auth.ErrPasswordTooLong):
		return http.StatusBadRequest, Error("password must be at most 72 bytes long")
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, storage.ErrUserNotFound):
		return http.StatusNotFound, Error("User not found")
	case errors.Is(err, jwt.ErrExpired),
		errors.Is(err, jwt.ErrMalformedToken),
		errors.Is(err, jwt.ErrUnsupportedToken),
		errors.Is(err, jwt.ErrInvalidClaims),
		errors.Is(err, jwt.ErrEmptyIdentity),
		errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, Error("Unauthorized")
	default:
		return http.StatusInternalServerError, Error("Internal error")
	}
}

func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := FromError(err)

	render.Status(r, status)
	render.JSON(w, r, body)
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Profile struct {
	ID                          string `json:"id"`
	Name                        string `json:"name"`
	Email                       string `json:"email"`
	EmailNotifications          bool   `json:"emailNotifications"`
	WarrantyExpirationReminders int    `json:"warrantyExpirationReminders"`
}

func UserFrom(u models.User) User {
	return User{
		ID:    strconv.FormatInt(u.ID, 10),
		Name:  u.Name,
		Email: u.Email,
	}
}

func ProfileFrom(u models.User) Profile {
	return Profile{
		ID:                          strconv.FormatInt(u.ID, 10),
		Name:                        u.Name,
		Email:                       u.Email,
		EmailNotifications:          u.Preferences.EmailNotifications,
		WarrantyExpirationReminders: u.Preferences.WarrantyReminderDays,
	}
}
