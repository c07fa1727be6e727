package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"medihan/internal/models"
)

const (
	AccessTokenCookie   = "access_token"
	RefreshTokenCookie  = "refresh_token"
	LegacySessionCookie = "user"

	DefaultLegacySessionTTL = 7 * 24 * time.Hour
)

// Cookies builds the session-carrying cookies other than the
// pre-registration cookie.
type Cookies struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
	legacyTTL  time.Duration
}

func NewCookies(secure bool, accessTTL, refreshTTL, legacyTTL time.Duration) *Cookies {
	if legacyTTL <= 0 {
		legacyTTL = DefaultLegacySessionTTL
	}
	return &Cookies{
		secure:     secure,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		legacyTTL:  legacyTTL,
	}
}

func (c *Cookies) Access(token string) *http.Cookie {
	return c.build(AccessTokenCookie, token, int(c.accessTTL.Seconds()))
}

func (c *Cookies) Refresh(token string) *http.Cookie {
	return c.build(RefreshTokenCookie, token, int(c.refreshTTL.Seconds()))
}

// Legacy encodes the plain session summary kept for older clients. It is
// not signed and must never authorize anything beyond identity display.
func (c *Cookies) Legacy(summary models.Summary) (*http.Cookie, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encoding session summary: %w", err)
	}
	return c.build(LegacySessionCookie, base64.RawURLEncoding.EncodeToString(data), int(c.legacyTTL.Seconds())), nil
}

func (c *Cookies) ClearAccess() *http.Cookie  { return c.build(AccessTokenCookie, "", -1) }
func (c *Cookies) ClearRefresh() *http.Cookie { return c.build(RefreshTokenCookie, "", -1) }
func (c *Cookies) ClearLegacy() *http.Cookie  { return c.build(LegacySessionCookie, "", -1) }

// ParseLegacy decodes a legacy session cookie value.
func ParseLegacy(value string) (*models.Summary, bool) {
	if value == "" || len(value) > maxTempSessionValueLen {
		return nil, false
	}
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, false
	}
	var summary models.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false
	}
	if summary.ID <= 0 {
		return nil, false
	}
	return &summary, true
}

func (c *Cookies) build(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
