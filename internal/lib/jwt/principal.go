package jwt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedPrincipal = errors.New("unsupported principal")
	ErrEmptyIdentity        = errors.New("principal email is empty")
)

// Principal is an authenticated entity in one of the shapes the service accepts.
// The set is closed: only the variants declared in this file implement it.
type Principal interface {
	principal()
}

// LocalUser is a user authenticated by email and password.
type LocalUser struct {
	Email string
	Name  string
}

// OIDCUser is an identity built from OpenID Connect userinfo/ID-token claims.
type OIDCUser struct {
	Subject    string
	Email      string
	FullName   string
	GivenName  string
	FamilyName string
}

// OAuth2User is a plain OAuth2 provider profile kept as its raw attribute map.
type OAuth2User struct {
	Attributes map[string]any
}

// Username is a bare email known without any further profile data.
type Username string

func (LocalUser) principal()  {}
func (OIDCUser) principal()   {}
func (OAuth2User) principal() {}
func (Username) principal()   {}

// Normalize reduces every principal variant to the canonical (email, name) pair.
func Normalize(p Principal) (email string, name string, err error) {
	const op = "jwt.Normalize"

	switch v := p.(type) {
	case LocalUser:
		email, name = v.Email, v.Name
	case *LocalUser:
		if v == nil {
			return "", "", fmt.Errorf("%s: %w", op, ErrUnsupportedPrincipal)
		}
		email, name = v.Email, v.Name
	case OIDCUser:
		email, name = v.Email, v.fullName()
	case *OIDCUser:
		if v == nil {
			return "", "", fmt.Errorf("%s: %w", op, ErrUnsupportedPrincipal)
		}
		email, name = v.Email, v.fullName()
	case OAuth2User:
		var ok bool
		if email, ok = v.stringAttr("email"); !ok {
			return "", "", fmt.Errorf("%s: no email attribute: %w", op, ErrUnsupportedPrincipal)
		}
		name, _ = v.stringAttr("name")
	case Username:
		email = string(v)
	default:
		return "", "", fmt.Errorf("%s: %T: %w", op, p, ErrUnsupportedPrincipal)
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", "", fmt.Errorf("%s: %w", op, ErrEmptyIdentity)
	}

	return email, strings.TrimSpace(name), nil
}

func (u OIDCUser) fullName() string {
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}

	return strings.TrimSpace(strings.TrimSpace(u.GivenName) + " " + strings.TrimSpace(u.FamilyName))
}

func (u OAuth2User) stringAttr(key string) (string, bool) {
	raw, ok := u.Attributes[key]
	if !ok || raw == nil {
		return "", false
	}

	s, ok := raw.(string)
	return s, ok
}
