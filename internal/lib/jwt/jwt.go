package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultLeeway = 30 * time.Second

var (
	ErrExpired          = errors.New("token expired")
	ErrMalformedToken   = errors.New("malformed token")
	ErrUnsupportedToken = errors.New("unsupported token")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the canonical user identity carried by a valid access token.
type Identity struct {
	Email     string
	Name      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

type Option func(*Issuer)

// * WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func WithLeeway(d time.Duration) Option {
	return func(i *Issuer) {
		i.leeway = d
	}
}

func New(secret string, ttl time.Duration, opts ...Option) *Issuer {
	i := &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		leeway: DefaultLeeway,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// * GenerateAccessToken создает подписанный HS512 access token для любого варианта Principal
func (i *Issuer) GenerateAccessToken(p Principal) (string, error) {
	const op = "jwt.GenerateAccessToken"

	email, name, err := Normalize(p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	now := i.now()

	claims := Claims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

func (i *Issuer) GenerateFromUsername(email string) (string, error) {
	return i.GenerateAccessToken(Username(email))
}

// * ValidateAccessToken проверяет подпись, алгоритм и сроки токена
func (i *Issuer) ValidateAccessToken(tokenString string) (Identity, error) {
	const op = "jwt.ValidateAccessToken"

	if strings.TrimSpace(tokenString) == "" {
		return Identity{}, fmt.Errorf("%s: %w", op, ErrMalformedToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(i.leeway),
		jwt.WithTimeFunc(i.now),
	)

	var claims Claims

	_, err := parser.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	email := strings.TrimSpace(claims.Email)
	if email == "" {
		email = strings.TrimSpace(claims.Subject)
	}
	if email == "" {
		return Identity{}, fmt.Errorf("%s: no email or subject: %w", op, ErrInvalidClaims)
	}

	id := Identity{
		Email: email,
		Name:  claims.Name,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}

	return id, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrUnsupportedToken
	default:
		return ErrInvalidClaims
	}
}
