package account

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"medihan/internal/auth"
	"medihan/internal/metrics"
	"medihan/internal/models"
)

const (
	maxNicknameLength = 30
	maxAgeGroupLength = 20
	maxCategoryIDs    = 50
)

type CallbackOutcome string

const (
	// OutcomeLogin: the identity maps to an ACTIVE account and tokens were issued.
	OutcomeLogin CallbackOutcome = "login"
	// OutcomeNewIdentity: no account exists; a pre-registration cookie was created.
	OutcomeNewIdentity CallbackOutcome = "new_identity"
	// OutcomeResumePending: phase one already ran; the client should confirm.
	OutcomeResumePending CallbackOutcome = "resume_pending"
)

type CallbackResult struct {
	Outcome CallbackOutcome
	Account *models.Account
	Tokens  *auth.TokenPair
	Cookies []*http.Cookie
}

// Profile is the onboarding data collected from the client before phase one.
type Profile struct {
	Nickname        string
	AgeGroup        string
	Gender          string
	PrivacyAgreed   bool
	TermsAgreed     bool
	MarketingAgreed bool
	CategoryIDs     []int64
}

type Registration struct {
	Account *models.Account
	Cookies []*http.Cookie
}

type Confirmation struct {
	Account *models.Account
	Tokens  *auth.TokenPair
	Cookies []*http.Cookie
}

// RegistrationEngine drives an OAuth identity through
// NEW_IDENTITY -> PENDING -> ACTIVE.
type RegistrationEngine struct {
	store     Store
	tokens    *auth.TokenService
	temp      *auth.TempSessionStore
	cookies   *auth.Cookies
	detector  *DuplicateIdentityDetector
	metrics   *metrics.Metrics
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

func NewRegistrationEngine(
	store Store,
	tokens *auth.TokenService,
	temp *auth.TempSessionStore,
	cookies *auth.Cookies,
	detector *DuplicateIdentityDetector,
	m *metrics.Metrics,
) *RegistrationEngine {
	return &RegistrationEngine{
		store:     store,
		tokens:    tokens,
		temp:      temp,
		cookies:   cookies,
		detector:  detector,
		metrics:   m,
		sanitizer: bluemonday.StrictPolicy(),
		now:       time.Now,
	}
}

func (e *RegistrationEngine) WithClock(now func() time.Time) *RegistrationEngine {
	e.now = now
	return e
}

// Detector exposes the duplicate detector for the check-user surface.
func (e *RegistrationEngine) Detector() *DuplicateIdentityDetector {
	return e.detector
}

// HandleCallback decides between login and registration for a verified
// OAuth identity. An existing account short-circuits before any
// pre-registration state is created.
func (e *RegistrationEngine) HandleCallback(ctx context.Context, identity models.IdentitySnapshot) (*CallbackResult, error) {
	identity.Email = normalizeEmail(identity.Email)
	if identity.ProviderID == "" {
		return nil, invalid("providerId", "is required")
	}

	existing, err := e.store.FindByIdentity(ctx, identity.Provider, identity.ProviderID, identity.Email)
	switch {
	case err == nil:
		return e.loginExisting(existing)
	case errors.Is(err, models.ErrNotFound):
	default:
		slog.Error("error looking up account for callback", "component", "registration", "provider", identity.Provider, "error", err)
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	cookie, err := e.temp.Create(identity)
	if err != nil {
		return nil, fmt.Errorf("creating temp session: %w", err)
	}

	e.metrics.Callbacks.WithLabelValues(string(identity.Provider), string(OutcomeNewIdentity)).Inc()
	return &CallbackResult{
		Outcome: OutcomeNewIdentity,
		Cookies: []*http.Cookie{cookie},
	}, nil
}

func (e *RegistrationEngine) loginExisting(account *models.Account) (*CallbackResult, error) {
	switch account.Status {
	case models.StatusActive:
		pair, err := e.tokens.IssuePair(account)
		if err != nil {
			return nil, fmt.Errorf("issuing tokens: %w", err)
		}
		legacy, err := e.cookies.Legacy(account.Summary())
		if err != nil {
			return nil, err
		}
		e.metrics.Callbacks.WithLabelValues(string(account.Provider), string(OutcomeLogin)).Inc()
		slog.Info("account logged in", "component", "registration", "account_id", account.ID, "provider", account.Provider)
		return &CallbackResult{
			Outcome: OutcomeLogin,
			Account: account,
			Tokens:  pair,
			Cookies: []*http.Cookie{
				e.cookies.Access(pair.AccessToken),
				e.cookies.Refresh(pair.RefreshToken),
				legacy,
				e.temp.Clear(),
				e.temp.ClearPendingAccount(),
			},
		}, nil

	case models.StatusPending:
		// The provider just re-verified this identity, so it may hold the
		// confirm ticket again.
		ticket, err := e.temp.SealPendingAccount(account.ID)
		if err != nil {
			return nil, fmt.Errorf("sealing pending account: %w", err)
		}
		legacy, err := e.cookies.Legacy(account.Summary())
		if err != nil {
			return nil, err
		}
		e.metrics.Callbacks.WithLabelValues(string(account.Provider), string(OutcomeResumePending)).Inc()
		return &CallbackResult{
			Outcome: OutcomeResumePending,
			Account: account,
			Cookies: []*http.Cookie{ticket, legacy},
		}, nil

	default:
		e.metrics.Callbacks.WithLabelValues(string(account.Provider), "inactive").Inc()
		return nil, ErrAccountInactive
	}
}

// BeginRegistration is phase one: it consumes the pre-registration cookie
// and creates the PENDING account with its interests. No tokens are issued.
func (e *RegistrationEngine) BeginRegistration(ctx context.Context, tempSessionValue string, profile Profile) (*Registration, error) {
	snapshot, ok := e.temp.Read(tempSessionValue)
	if !ok {
		e.metrics.Registrations.WithLabelValues("begin", "session_expired").Inc()
		return nil, ErrSessionExpired
	}

	n, err := e.buildNewAccount(snapshot, profile)
	if err != nil {
		e.metrics.Registrations.WithLabelValues("begin", "invalid").Inc()
		return nil, err
	}

	created, err := e.store.CreatePending(ctx, n)
	if err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			e.metrics.Registrations.WithLabelValues("begin", "conflict").Inc()
			return nil, ErrAlreadyRegistered
		}
		e.metrics.Registrations.WithLabelValues("begin", "error").Inc()
		slog.Error("error creating pending account", "component", "registration", "provider", n.Provider, "error", err)
		return nil, fmt.Errorf("creating pending account: %w", err)
	}

	ticket, err := e.temp.SealPendingAccount(created.ID)
	if err != nil {
		return nil, fmt.Errorf("sealing pending account: %w", err)
	}
	legacy, err := e.cookies.Legacy(created.Summary())
	if err != nil {
		return nil, err
	}

	e.metrics.Registrations.WithLabelValues("begin", "ok").Inc()
	slog.Info("pending account created", "component", "registration", "account_id", created.ID, "provider", created.Provider)

	return &Registration{
		Account: created,
		Cookies: []*http.Cookie{e.temp.Clear(), ticket, legacy},
	}, nil
}

// ConfirmRegistration is phase two. The store update only matches a
// PENDING row, so a repeated call reports ErrNotPending and never bumps the
// token version again.
func (e *RegistrationEngine) ConfirmRegistration(ctx context.Context, accountID int64) (*Confirmation, error) {
	if accountID <= 0 {
		return nil, invalid("accountId", "must be positive")
	}

	activated, err := e.store.Activate(ctx, accountID, e.now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			e.metrics.Registrations.WithLabelValues("confirm", "not_pending").Inc()
			return nil, ErrNotPending
		}
		e.metrics.Registrations.WithLabelValues("confirm", "error").Inc()
		slog.Error("error activating account", "component", "registration", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("activating account: %w", err)
	}

	if interests, err := e.store.ListInterests(ctx, activated.ID); err == nil {
		activated.InterestIDs = interests
	} else {
		slog.Warn("error loading interests after activation", "component", "registration", "account_id", activated.ID, "error", err)
	}

	pair, err := e.tokens.IssuePair(activated)
	if err != nil {
		return nil, fmt.Errorf("issuing tokens: %w", err)
	}
	legacy, err := e.cookies.Legacy(activated.Summary())
	if err != nil {
		return nil, err
	}

	e.metrics.Registrations.WithLabelValues("confirm", "ok").Inc()
	slog.Info("account activated", "component", "registration", "account_id", activated.ID)

	return &Confirmation{
		Account: activated,
		Tokens:  pair,
		Cookies: []*http.Cookie{
			e.cookies.Access(pair.AccessToken),
			e.cookies.Refresh(pair.RefreshToken),
			legacy,
			e.temp.ClearPendingAccount(),
		},
	}, nil
}

// PendingAccount returns the account id sealed into the confirm ticket
// issued by BeginRegistration or a resumed pending callback. The legacy
// user cookie is unsigned and never proves ownership.
func (e *RegistrationEngine) PendingAccount(ticketValue string) (int64, bool) {
	return e.temp.OpenPendingAccount(ticketValue)
}

// PendingIdentity returns the snapshot held by a pre-registration cookie.
func (e *RegistrationEngine) PendingIdentity(tempSessionValue string) (*models.IdentitySnapshot, bool) {
	return e.temp.Read(tempSessionValue)
}

func (e *RegistrationEngine) buildNewAccount(snapshot *models.IdentitySnapshot, p Profile) (models.NewAccount, error) {
	nickname := e.plainText(p.Nickname)
	if nickname == "" {
		return models.NewAccount{}, invalid("nickname", "is required")
	}
	if utf8.RuneCountInString(nickname) > maxNicknameLength {
		return models.NewAccount{}, invalid("nickname", fmt.Sprintf("must be at most %d characters", maxNicknameLength))
	}

	if !p.PrivacyAgreed {
		return models.NewAccount{}, ErrConsentRequired
	}

	gender, err := normalizeGender(firstNonBlank(p.Gender, snapshot.Gender))
	if err != nil {
		return models.NewAccount{}, err
	}

	ageGroup := e.plainText(firstNonBlank(p.AgeGroup, snapshot.AgeGroup))
	if utf8.RuneCountInString(ageGroup) > maxAgeGroupLength {
		return models.NewAccount{}, invalid("ageGroup", fmt.Sprintf("must be at most %d characters", maxAgeGroupLength))
	}

	categories, err := normalizeCategoryIDs(p.CategoryIDs)
	if err != nil {
		return models.NewAccount{}, err
	}

	return models.NewAccount{
		Email:           normalizeEmail(snapshot.Email),
		Nickname:        nickname,
		ProfileImage:    optional(snapshot.ProfileImage),
		Provider:        snapshot.Provider,
		ProviderID:      snapshot.ProviderID,
		PrivacyAgreed:   true,
		TermsAgreed:     p.TermsAgreed,
		MarketingAgreed: p.MarketingAgreed,
		AgeGroup:        optional(ageGroup),
		Gender:          optional(gender),
		CategoryIDs:     categories,
		CreatedAt:       e.now().UTC(),
	}, nil
}

// plainText strips any markup and returns the remaining text unescaped.
func (e *RegistrationEngine) plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(e.sanitizer.Sanitize(s)))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeGender maps provider spellings onto m, f or u.
func normalizeGender(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case "m", "male":
		return "m", nil
	case "f", "female":
		return "f", nil
	case "u", "unknown":
		return "u", nil
	}
	return "", invalid("gender", "must be one of m, f, u")
}

func normalizeCategoryIDs(ids []int64) ([]int64, error) {
	if len(ids) > maxCategoryIDs {
		return nil, invalid("categoryIds", fmt.Sprintf("must contain at most %d entries", maxCategoryIDs))
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, invalid("categoryIds", "must contain positive ids")
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
