package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"medihan/internal/models"
)

const (
	testAccessSecret  = "access-secret-access-secret-0123456789"
	testRefreshSecret = "refresh-secret-refresh-secret-0123456789"
)

func newTestTokenService(now *time.Time) *TokenService {
	return NewTokenService(testAccessSecret, testRefreshSecret, 30*time.Minute, 14*24*time.Hour).
		WithClock(func() time.Time { return *now })
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestTokenService(&now)

	token, expiresAt, err := svc.IssueAccessToken(42, "a@example.com", models.ProviderKakao, models.StatusActive, 3)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if !expiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("expiresAt = %v, want %v", expiresAt, now.Add(30*time.Minute))
	}

	claims, err := svc.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if claims.AccountID != 42 || claims.Email != "a@example.com" || claims.Provider != models.ProviderKakao {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.Status != models.StatusActive || claims.TokenVersion != 3 {
		t.Fatalf("claims status/version = %s/%d, want ACTIVE/3", claims.Status, claims.TokenVersion)
	}
	if claims.ID == "" {
		t.Fatal("claims.ID is empty, want jti")
	}
}

func TestVerifyAccessTokenFailures(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestTokenService(&now)

	access, _, err := svc.IssueAccessToken(1, "a@example.com", models.ProviderNaver, models.StatusActive, 1)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	refresh, _, err := svc.IssueRefreshToken(1, 1)
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}
	second, _, err := svc.IssueAccessToken(2, "b@example.com", models.ProviderNaver, models.StatusActive, 1)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	parts, secondParts := strings.Split(access, "."), strings.Split(second, ".")
	tampered := parts[0] + "." + secondParts[1] + "." + parts[2]

	other := NewTokenService("another-access-secret-0123456789abcdef", testRefreshSecret, time.Minute, time.Hour)
	foreign, _, err := other.IssueAccessToken(1, "a@example.com", models.ProviderNaver, models.StatusActive, 1)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "malformed", token: "not.a.jwt"},
		{name: "tampered payload", token: tampered},
		{name: "wrong secret", token: foreign},
		{name: "refresh token as access", token: refresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.VerifyAccessToken(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("VerifyAccessToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestAccessTokenExpires(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestTokenService(&now)

	token, _, err := svc.IssueAccessToken(7, "", models.ProviderKakao, models.StatusActive, 1)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	now = now.Add(31 * time.Minute)
	if _, err := svc.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("VerifyAccessToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestTokenService(&now)

	pair, err := svc.IssuePair(&models.Account{
		ID:           9,
		Email:        "b@example.com",
		Provider:     models.ProviderNaver,
		Status:       models.StatusActive,
		TokenVersion: 4,
	})
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	claims, err := svc.VerifyRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefreshToken() error = %v", err)
	}
	if claims.AccountID != 9 || claims.TokenVersion != 4 {
		t.Fatalf("claims = %+v, want account 9 version 4", claims)
	}

	if _, err := svc.VerifyRefreshToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("VerifyRefreshToken(access) error = %v, want ErrInvalidToken", err)
	}

	now = now.Add(15 * 24 * time.Hour)
	if _, err := svc.VerifyRefreshToken(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("VerifyRefreshToken(expired) error = %v, want ErrInvalidToken", err)
	}
}
