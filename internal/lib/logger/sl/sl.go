package sl

import (
	"log/slog"
	"strings"
)

func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// * MaskEmail скрывает локальную часть адреса для логов: alice@x.com -> a***e@x.com
func MaskEmail(email string) string {
	if len(email) < 3 {
		return "***"
	}

	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email[:1] + "***"
	}

	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return local[:1] + "***" + domain
	}

	return local[:1] + "***" + local[len(local)-1:] + domain
}

// * Email возвращает атрибут с замаскированным адресом
func Email(email string) slog.Attr {
	return slog.String("email", MaskEmail(email))
}
