package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"medihan/internal/models"
)

const (
	TempSessionCookie     = "pendingUser"
	PendingAccountCookie  = "pendingAccount"
	DefaultTempSessionTTL = 24 * time.Hour

	// Cookies are capped near 4 KiB by browsers; anything larger was not
	// produced by this store.
	maxTempSessionValueLen = 4096
)

var (
	tempSessionKeyInfo        = []byte("medihan/temp-session/key/v1")
	tempSessionAssociatedData = []byte("medihan/temp-session/v1")
	pendingAccountAssociated  = []byte("medihan/pending-account/v1")
)

// pendingAccountClaim binds a browser to the PENDING account it created in
// phase one.
type pendingAccountClaim struct {
	AccountID int64     `json:"accountId"`
	Timestamp time.Time `json:"timestamp"`
}

// TempSessionStore seals an IdentitySnapshot into an opaque cookie value.
// Every seal uses a fresh random nonce that is stored in front of the
// ciphertext and fed back into Open.
type TempSessionStore struct {
	aead   cipher.AEAD
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewTempSessionStore(secret string, ttl time.Duration, secureCookies bool) (*TempSessionStore, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("temp session secret must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTempSessionTTL
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, tempSessionKeyInfo), key); err != nil {
		return nil, fmt.Errorf("deriving temp session key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initializing temp session cipher: %w", err)
	}

	return &TempSessionStore{
		aead:   aead,
		ttl:    ttl,
		secure: secureCookies,
		now:    time.Now,
	}, nil
}

func (s *TempSessionStore) WithClock(now func() time.Time) *TempSessionStore {
	s.now = now
	return s
}

func (s *TempSessionStore) TTL() time.Duration { return s.ttl }

// Create stamps the snapshot and returns the cookie that carries it.
func (s *TempSessionStore) Create(snapshot models.IdentitySnapshot) (*http.Cookie, error) {
	snapshot.Timestamp = s.now().UTC()

	value, err := s.seal(snapshot, tempSessionAssociatedData)
	if err != nil {
		return nil, fmt.Errorf("sealing temp session: %w", err)
	}
	return s.cookie(TempSessionCookie, value, int(s.ttl.Seconds())), nil
}

// Read returns the snapshot, or false if the value is absent, tampered,
// sealed under another key, or older than the TTL. Callers cannot tell
// these cases apart.
func (s *TempSessionStore) Read(value string) (*models.IdentitySnapshot, bool) {
	var snapshot models.IdentitySnapshot
	if !s.open(value, tempSessionAssociatedData, &snapshot) {
		return nil, false
	}
	if !s.fresh(snapshot.Timestamp) {
		return nil, false
	}
	return &snapshot, true
}

// SealPendingAccount returns the cookie that lets this browser confirm the
// PENDING account it created. It is sealed under its own associated data,
// so a pre-registration value cannot stand in for it.
func (s *TempSessionStore) SealPendingAccount(accountID int64) (*http.Cookie, error) {
	value, err := s.seal(pendingAccountClaim{AccountID: accountID, Timestamp: s.now().UTC()}, pendingAccountAssociated)
	if err != nil {
		return nil, fmt.Errorf("sealing pending account: %w", err)
	}
	return s.cookie(PendingAccountCookie, value, int(s.ttl.Seconds())), nil
}

// OpenPendingAccount returns the account id sealed by SealPendingAccount,
// or false for anything else.
func (s *TempSessionStore) OpenPendingAccount(value string) (int64, bool) {
	var claim pendingAccountClaim
	if !s.open(value, pendingAccountAssociated, &claim) {
		return 0, false
	}
	if claim.AccountID <= 0 || !s.fresh(claim.Timestamp) {
		return 0, false
	}
	return claim.AccountID, true
}

func (s *TempSessionStore) seal(v any, associatedData []byte) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, associatedData)

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *TempSessionStore) open(value string, associatedData []byte, dst any) bool {
	if value == "" || len(value) > maxTempSessionValueLen {
		return false
	}

	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return false
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return false
	}
	return json.Unmarshal(plaintext, dst) == nil
}

func (s *TempSessionStore) fresh(stamped time.Time) bool {
	return !stamped.IsZero() && s.now().Sub(stamped) <= s.ttl
}

func (s *TempSessionStore) ReadRequest(r *http.Request) (*models.IdentitySnapshot, bool) {
	c, err := r.Cookie(TempSessionCookie)
	if err != nil {
		return nil, false
	}
	return s.Read(c.Value)
}

// Clear returns an immediately expired, empty cookie that overwrites the
// pre-registration cookie.
func (s *TempSessionStore) Clear() *http.Cookie {
	return s.cookie(TempSessionCookie, "", -1)
}

func (s *TempSessionStore) ClearPendingAccount() *http.Cookie {
	return s.cookie(PendingAccountCookie, "", -1)
}

func (s *TempSessionStore) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
