package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"medihan/internal/models"
)

const (
	accessAudience  = "access"
	refreshAudience = "refresh"
)

// ErrInvalidToken is the only error returned by verification. Callers treat
// it as "unauthenticated" or "attempt refresh", never as a server fault.
var ErrInvalidToken = errors.New("invalid token")

type TokenService struct {
	accessSecret    []byte
	refreshSecret   []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	now             func() time.Time
}

type AccessClaims struct {
	AccountID    int64           `json:"userId"`
	Email        string          `json:"email"`
	Provider     models.Provider `json:"provider"`
	Status       models.Status   `json:"status"`
	TokenVersion int             `json:"tokenVersion"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	AccountID    int64 `json:"userId"`
	TokenVersion int   `json:"tokenVersion"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken      string    `json:"-"`
	RefreshToken     string    `json:"-"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:    []byte(accessSecret),
		refreshSecret:   []byte(refreshSecret),
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
		now:             time.Now,
	}
}

// WithClock replaces the time source used for issuing and verifying tokens.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

func (s *TokenService) AccessTokenTTL() time.Duration  { return s.accessTokenTTL }
func (s *TokenService) RefreshTokenTTL() time.Duration { return s.refreshTokenTTL }

func (s *TokenService) IssueAccessToken(accountID int64, email string, provider models.Provider, status models.Status, tokenVersion int) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTokenTTL)
	claims := AccessClaims{
		AccountID:        accountID,
		Email:            email,
		Provider:         provider,
		Status:           status,
		TokenVersion:     tokenVersion,
		RegisteredClaims: s.registered(accountID, accessAudience, now, expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *TokenService) IssueRefreshToken(accountID int64, tokenVersion int) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.refreshTokenTTL)
	claims := RefreshClaims{
		AccountID:        accountID,
		TokenVersion:     tokenVersion,
		RegisteredClaims: s.registered(accountID, refreshAudience, now, expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssuePair mints both tokens from the account's current state.
func (s *TokenService) IssuePair(account *models.Account) (*TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(account.ID, account.Email, account.Provider, account.Status, account.TokenVersion)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(account.ID, account.TokenVersion)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(tokenString, claims, s.accessSecret, accessAudience); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.AccountID <= 0 || !claims.Status.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefreshToken checks signature and expiry only. The caller must still
// compare TokenVersion against the stored account.
func (s *TokenService) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(tokenString, claims, s.refreshSecret, refreshAudience); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.AccountID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) parse(tokenString string, claims jwt.Claims, secret []byte, audience string) error {
	if tokenString == "" {
		return ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (s *TokenService) registered(accountID int64, audience string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(accountID, 10),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}
