package jwt

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-hs512-signing"

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }

func newTestIssuer(t *testing.T) (*Issuer, *fixedClock) {
	t.Helper()

	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(testSecret, 15*time.Minute, WithClock(clock.Now)), clock
}

func TestNormalize_AllShapesYieldSameEmail(t *testing.T) {
	const email = "alice@example.com"

	tests := []struct {
		name     string
		p        Principal
		wantName string
	}{
		{name: "local", p: LocalUser{Email: email, Name: "Alice"}, wantName: "Alice"},
		{name: "local pointer", p: &LocalUser{Email: email, Name: "Alice"}, wantName: "Alice"},
		{name: "oidc full name", p: OIDCUser{Subject: "123", Email: email, FullName: "Alice A"}, wantName: "Alice A"},
		{name: "oidc given family", p: OIDCUser{Subject: "123", Email: email, GivenName: "Alice", FamilyName: "A"}, wantName: "Alice A"},
		{name: "oauth2 attributes", p: OAuth2User{Attributes: map[string]any{"email": email, "name": "Alice", "id": 42}}, wantName: "Alice"},
		{name: "username", p: Username(email), wantName: ""},
		{name: "mixed case", p: OIDCUser{Subject: "123", Email: " Alice@Example.COM ", FullName: "Alice"}, wantName: "Alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotEmail, gotName, err := Normalize(tt.p)
			require.NoError(t, err)
			assert.Equal(t, email, gotEmail)
			assert.Equal(t, tt.wantName, gotName)
		})
	}
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		p       Principal
		wantErr error
	}{
		{name: "nil", p: nil, wantErr: ErrUnsupportedPrincipal},
		{name: "nil local pointer", p: (*LocalUser)(nil), wantErr: ErrUnsupportedPrincipal},
		{name: "oauth2 without email", p: OAuth2User{Attributes: map[string]any{"login": "alice"}}, wantErr: ErrUnsupportedPrincipal},
		{name: "oauth2 non string email", p: OAuth2User{Attributes: map[string]any{"email": 7}}, wantErr: ErrUnsupportedPrincipal},
		{name: "blank username", p: Username("  "), wantErr: ErrEmptyIdentity},
		{name: "blank oidc email", p: OIDCUser{Subject: "123"}, wantErr: ErrEmptyIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Normalize(tt.p)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGenerateAndValidate_RoundTrip(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	token, err := issuer.GenerateAccessToken(LocalUser{Email: "alice@example.com", Name: "Alice"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, err := issuer.ValidateAccessToken(token)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, "Alice", id.Name)
	assert.True(t, id.IssuedAt.Equal(clock.t))
	assert.True(t, id.ExpiresAt.Equal(clock.t.Add(15*time.Minute)))
}

func TestGenerateFromUsername_EmbedsEmail(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	token, err := issuer.GenerateFromUsername("bob@example.com")
	require.NoError(t, err)

	var claims Claims
	_, _, err = jwt.NewParser().ParseUnverified(token, &claims)
	require.NoError(t, err)

	assert.Equal(t, "bob@example.com", claims.Email)
	assert.Equal(t, "bob@example.com", claims.Subject)
}

func TestValidate_Expired(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	token, err := issuer.GenerateFromUsername("alice@example.com")
	require.NoError(t, err)

	clock.t = clock.t.Add(15*time.Minute + 10*time.Second)
	_, err = issuer.ValidateAccessToken(token)
	require.NoError(t, err, "expiry within leeway is tolerated")

	clock.t = clock.t.Add(time.Minute)
	_, err = issuer.ValidateAccessToken(token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidate_Malformed(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	for _, raw := range []string{"", "   ", "not-a-token", "a.b", "a.b.c"} {
		_, err := issuer.ValidateAccessToken(raw)
		assert.ErrorIs(t, err, ErrMalformedToken, "input %q", raw)
	}
}

func TestValidate_Unsupported(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	claims := Claims{
		Email: "alice@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@example.com",
			IssuedAt:  jwt.NewNumericDate(clock.t),
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	}

	t.Run("other hmac algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = issuer.ValidateAccessToken(token)
		require.ErrorIs(t, err, ErrUnsupportedToken)
	})

	t.Run("alg none", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = issuer.ValidateAccessToken(token)
		require.ErrorIs(t, err, ErrUnsupportedToken)
	})

	t.Run("foreign secret", func(t *testing.T) {
		other := New("another-secret-that-is-long-enough-for-hs512", time.Hour, WithClock(clock.Now))

		token, err := other.GenerateFromUsername("alice@example.com")
		require.NoError(t, err)

		_, err = issuer.ValidateAccessToken(token)
		require.ErrorIs(t, err, ErrUnsupportedToken)
	})

	t.Run("tampered signature", func(t *testing.T) {
		token, err := issuer.GenerateFromUsername("alice@example.com")
		require.NoError(t, err)

		parts := strings.Split(token, ".")
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		parts[2] = string(sig)

		_, err = issuer.ValidateAccessToken(strings.Join(parts, "."))
		require.ErrorIs(t, err, ErrUnsupportedToken)
	})
}

func TestValidate_InvalidClaims(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	sign := func(c Claims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, c).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return token
	}

	t.Run("no email and no subject", func(t *testing.T) {
		token := sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(clock.t),
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		}})

		_, err := issuer.ValidateAccessToken(token)
		require.ErrorIs(t, err, ErrInvalidClaims)
	})

	t.Run("missing expiry", func(t *testing.T) {
		token := sign(Claims{Email: "alice@example.com", RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(clock.t),
		}})

		_, err := issuer.ValidateAccessToken(token)
		require.ErrorIs(t, err, ErrInvalidClaims)
	})

	t.Run("not valid yet", func(t *testing.T) {
		token := sign(Claims{Email: "alice@example.com", RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(clock.t),
			NotBefore: jwt.NewNumericDate(clock.t.Add(10 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		}})

		_, err := issuer.ValidateAccessToken(token)
		require.ErrorIs(t, err, ErrInvalidClaims)
	})
}

func TestValidate_PrefersEmailOverSubject(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Email: "alice@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "legacy-subject",
			IssuedAt:  jwt.NewNumericDate(clock.t),
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	id, err := issuer.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", id.Email)
}
