// Package oauth runs the authorization code flow against Google and GitHub and
// turns the upstream profile into a principal plus an identity assertion.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"warranty_auth/internal/auth"
	"warranty_auth/internal/config"
	"warranty_auth/internal/lib/jwt"
	"warranty_auth/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"

	callbackPath = "/oauth2/callback/"
)

var (
	ErrUnknownProvider  = errors.New("unknown oauth2 provider")
	ErrProviderDisabled = errors.New("oauth2 provider is not configured")
	ErrProfileRequest   = errors.New("provider profile request failed")
)

// Assertion is what a provider tells us about the signed-in user.
type Assertion struct {
	Principal jwt.Principal
	Identity  auth.ExternalIdentity
}

type provider struct {
	conf        *oauth2.Config
	userInfoURL string
	emailsURL   string
}

type Manager struct {
	providers map[models.Provider]provider
	client    *http.Client
}

// * New собирает oauth2.Config для каждого настроенного провайдера
func New(cfg config.OAuth, client *http.Client) *Manager {
	if client == nil {
		client = http.DefaultClient
	}

	m := &Manager{
		providers: make(map[models.Provider]provider),
		client:    client,
	}

	base := strings.TrimRight(cfg.RedirectBase, "/")

	if cfg.Google.Enabled() {
		m.providers[models.ProviderGoogle] = provider{
			conf:        oauthConfig(cfg.Google, google.Endpoint, base+callbackPath+"google", []string{"openid", "email", "profile"}),
			userInfoURL: firstNonEmpty(cfg.Google.UserInfoURL, googleUserInfoURL),
		}
	}

	if cfg.GitHub.Enabled() {
		m.providers[models.ProviderGitHub] = provider{
			conf:        oauthConfig(cfg.GitHub, github.Endpoint, base+callbackPath+"github", []string{"read:user", "user:email"}),
			userInfoURL: firstNonEmpty(cfg.GitHub.UserInfoURL, githubUserURL),
			emailsURL:   firstNonEmpty(cfg.GitHub.EmailsURL, githubEmailsURL),
		}
	}

	return m
}

func oauthConfig(p config.Provider, endpoint oauth2.Endpoint, redirect string, scopes []string) *oauth2.Config {
	if p.AuthURL != "" {
		endpoint.AuthURL = p.AuthURL
	}
	if p.TokenURL != "" {
		endpoint.TokenURL = p.TokenURL
	}
	if len(p.Scopes) > 0 {
		scopes = p.Scopes
	}

	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  redirect,
		Scopes:       scopes,
	}
}

// * ParseProvider переводит имя из URL (google, github) в models.Provider
func ParseProvider(name string) (models.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "google":
		return models.ProviderGoogle, nil
	case "github":
		return models.ProviderGitHub, nil
	default:
		return "", fmt.Errorf("%q: %w", name, ErrUnknownProvider)
	}
}

func (m *Manager) provider(p models.Provider) (provider, error) {
	pr, ok := m.providers[p]
	if !ok {
		return provider{}, fmt.Errorf("%s: %w", p, ErrProviderDisabled)
	}

	return pr, nil
}

func (m *Manager) AuthCodeURL(p models.Provider, state string) (string, error) {
	pr, err := m.provider(p)
	if err != nil {
		return "", err
	}

	return pr.conf.AuthCodeURL(state), nil
}

func (m *Manager) Exchange(ctx context.Context, p models.Provider, code string) (*oauth2.Token, error) {
	const op = "oauth.Exchange"

	pr, err := m.provider(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tok, err := pr.conf.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tok, nil
}

// * FetchIdentity читает профиль пользователя у провайдера
func (m *Manager) FetchIdentity(ctx context.Context, p models.Provider, tok *oauth2.Token) (Assertion, error) {
	const op = "oauth.FetchIdentity"

	pr, err := m.provider(p)
	if err != nil {
		return Assertion{}, fmt.Errorf("%s: %w", op, err)
	}

	client := pr.conf.Client(m.clientContext(ctx), tok)

	var a Assertion
	switch p {
	case models.ProviderGoogle:
		a, err = fetchGoogle(ctx, client, pr.userInfoURL)
	case models.ProviderGitHub:
		a, err = fetchGitHub(ctx, client, pr.userInfoURL, pr.emailsURL)
	default:
		err = ErrUnknownProvider
	}
	if err != nil {
		return Assertion{}, fmt.Errorf("%s: %w", op, err)
	}

	return a, nil
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

func fetchGoogle(ctx context.Context, client *http.Client, url string) (Assertion, error) {
	var info googleUserInfo
	if err := getJSON(ctx, client, url, &info); err != nil {
		return Assertion{}, err
	}

	principal := jwt.OIDCUser{
		Subject:    info.Sub,
		Email:      info.Email,
		FullName:   info.Name,
		GivenName:  info.GivenName,
		FamilyName: info.FamilyName,
	}

	_, name, _ := jwt.Normalize(principal)

	return Assertion{
		Principal: principal,
		Identity: auth.ExternalIdentity{
			Provider:      models.ProviderGoogle,
			ProviderID:    info.Sub,
			Email:         info.Email,
			Name:          name,
			EmailVerified: info.EmailVerified,
		},
	}, nil
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func fetchGitHub(ctx context.Context, client *http.Client, userURL, emailsURL string) (Assertion, error) {
	var u githubUser
	if err := getJSON(ctx, client, userURL, &u); err != nil {
		return Assertion{}, err
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, emailsURL, &emails); err != nil {
		return Assertion{}, err
	}

	email, verified := pickGitHubEmail(u.Email, emails)
	name := firstNonEmpty(u.Name, u.Login)

	providerID := ""
	if u.ID != 0 {
		providerID = strconv.FormatInt(u.ID, 10)
	}

	attrs := map[string]any{
		"id":    u.ID,
		"login": u.Login,
		"name":  name,
	}
	if email != "" {
		attrs["email"] = email
	}

	return Assertion{
		Principal: jwt.OAuth2User{Attributes: attrs},
		Identity: auth.ExternalIdentity{
			Provider:      models.ProviderGitHub,
			ProviderID:    providerID,
			Email:         email,
			Name:          name,
			EmailVerified: verified,
		},
	}, nil
}

// * pickGitHubEmail берет адрес профиля, если он подтвержден, иначе основной подтвержденный
func pickGitHubEmail(profileEmail string, emails []githubEmail) (string, bool) {
	for _, e := range emails {
		if profileEmail != "" && strings.EqualFold(e.Email, profileEmail) {
			return e.Email, e.Verified
		}
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true
		}
	}

	for _, e := range emails {
		if e.Verified {
			return e.Email, true
		}
	}

	return profileEmail, false
}

func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrProfileRequest, url, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return ""
}
