// Package provider exchanges OAuth authorization codes with the supported
// identity providers and normalises the returned profile.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"medihan/internal/models"
)

const (
	defaultNickname = "사용자"

	// Profile documents are small; anything larger is not a profile.
	maxProfileBytes = 1 << 20
)

var (
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	ErrProfileFailed  = errors.New("profile request failed")
)

// Identity is the normalised result of a successful code exchange.
type Identity struct {
	Provider     models.Provider
	ProviderID   string
	Email        string
	Nickname     string
	ProfileImage string
	AgeGroup     string
	Gender       string
	RawProfile   json.RawMessage
}

// Snapshot converts the identity into the payload carried by the
// pre-registration cookie.
func (i *Identity) Snapshot() models.IdentitySnapshot {
	return models.IdentitySnapshot{
		Provider:     i.Provider,
		ProviderID:   i.ProviderID,
		Email:        i.Email,
		Nickname:     i.Nickname,
		ProfileImage: i.ProfileImage,
		AgeGroup:     i.AgeGroup,
		Gender:       i.Gender,
	}
}

type Provider interface {
	Name() models.Provider
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// Config holds client credentials and, for tests or proxies, endpoint
// overrides. Empty URLs fall back to the provider's public endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

func (c Config) oauth2Config(authURL, tokenURL string) *oauth2.Config {
	if c.AuthURL != "" {
		authURL = c.AuthURL
	}
	if c.TokenURL != "" {
		tokenURL = c.TokenURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c Config) userInfoURL(fallback string) string {
	if c.UserInfoURL != "" {
		return c.UserInfoURL
	}
	return fallback
}

// exchange trades code for a token and fetches the profile document at
// userInfoURL with it.
func exchange(ctx context.Context, cfg *oauth2.Config, client *http.Client, code, userInfoURL string) ([]byte, error) {
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}

	resp, err := cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrProfileFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProfileFailed, resp.StatusCode)
	}

	return body, nil
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Registry resolves providers by their path name.
type Registry struct {
	providers map[models.Provider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.Provider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, bool) {
	parsed, ok := models.ParseProvider(name)
	if !ok {
		return nil, false
	}
	p, ok := r.providers[parsed]
	return p, ok
}
