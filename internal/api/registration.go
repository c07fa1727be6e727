package api

import (
	"errors"
	"log/slog"
	"net/http"

	"medihan/internal/account"
	"medihan/internal/auth"
	"medihan/internal/constants"
	"medihan/internal/models"
)

type RegistrationHandler struct {
	engine   *account.RegistrationEngine
	store    account.Store
	detector *account.DuplicateIdentityDetector
}

func NewRegistrationHandler(engine *account.RegistrationEngine, store account.Store) *RegistrationHandler {
	return &RegistrationHandler{
		engine:   engine,
		store:    store,
		detector: engine.Detector(),
	}
}

type pendingUserResponse struct {
	Provider     models.Provider `json:"provider"`
	Email        string          `json:"email"`
	Nickname     string          `json:"nickname"`
	ProfileImage string          `json:"profileImage,omitempty"`
	AgeGroup     string          `json:"ageGroup,omitempty"`
	Gender       string          `json:"gender,omitempty"`
}

// PendingUser returns the identity held by the pre-registration cookie so
// the onboarding form can be pre-filled.
func (h *RegistrationHandler) PendingUser(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.engine.PendingIdentity(cookieValue(r, auth.TempSessionCookie))
	if !ok {
		notFound(w, "No pending registration")
		return
	}

	writeJSON(w, http.StatusOK, pendingUserResponse{
		Provider:     snapshot.Provider,
		Email:        snapshot.Email,
		Nickname:     snapshot.Nickname,
		ProfileImage: snapshot.ProfileImage,
		AgeGroup:     snapshot.AgeGroup,
		Gender:       snapshot.Gender,
	})
}

type beginRegistrationRequest struct {
	Nickname        string  `json:"nickname" validate:"required,max=100"`
	AgeGroup        string  `json:"ageGroup" validate:"max=20"`
	Gender          string  `json:"gender" validate:"max=10"`
	PrivacyAgreed   bool    `json:"privacyAgreed"`
	TermsAgreed     bool    `json:"termsAgreed"`
	MarketingAgreed bool    `json:"marketingAgreed"`
	CategoryIDs     []int64 `json:"categoryIds" validate:"max=50,dive,gt=0"`
}

type registrationResponse struct {
	User models.Summary `json:"user"`
}

// Begin is phase one: it turns the pre-registration cookie and the
// onboarding form into a PENDING account.
func (h *RegistrationHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req beginRegistrationRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	reg, err := h.engine.BeginRegistration(r.Context(), cookieValue(r, auth.TempSessionCookie), account.Profile{
		Nickname:        req.Nickname,
		AgeGroup:        req.AgeGroup,
		Gender:          req.Gender,
		PrivacyAgreed:   req.PrivacyAgreed,
		TermsAgreed:     req.TermsAgreed,
		MarketingAgreed: req.MarketingAgreed,
		CategoryIDs:     req.CategoryIDs,
	})
	if err != nil {
		writeAccountError(w, err)
		return
	}

	setCookies(w, reg.Cookies)
	writeJSON(w, http.StatusCreated, registrationResponse{User: reg.Account.Summary()})
}

type confirmRegistrationRequest struct {
	AccountID int64 `json:"accountId" validate:"required,gt=0"`
}

type confirmRegistrationResponse struct {
	User *models.Account `json:"user"`
}

// Confirm is phase two. The account must be the one sealed into this
// browser's confirm ticket by phase one or a resumed pending callback.
func (h *RegistrationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRegistrationRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	id, ok := h.engine.PendingAccount(cookieValue(r, auth.PendingAccountCookie))
	if !ok || id != req.AccountID {
		forbidden(w, "Registration does not belong to this session")
		return
	}

	conf, err := h.engine.ConfirmRegistration(r.Context(), req.AccountID)
	if err != nil {
		writeAccountError(w, err)
		return
	}

	setCookies(w, conf.Cookies)
	writeJSON(w, http.StatusOK, confirmRegistrationResponse{User: conf.Account})
}

type checkUserRequest struct {
	Provider   string `json:"provider" validate:"required,oneof=kakao naver"`
	ProviderID string `json:"providerId" validate:"required,max=128"`
	Email      string `json:"email" validate:"omitempty,email,max=254"`
}

type checkUserResponse struct {
	Exists         bool                           `json:"exists"`
	DuplicateEmail *models.DuplicateAccountReport `json:"duplicateEmail"`
}

// CheckUser reports whether the identity already has an account and which
// other providers hold its email.
func (h *RegistrationHandler) CheckUser(w http.ResponseWriter, r *http.Request) {
	var req checkUserRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	p, ok := models.ParseProvider(req.Provider)
	if !ok {
		badRequest(w, "provider must be one of: kakao naver")
		return
	}

	exists := true
	if _, err := h.store.FindByIdentity(r.Context(), p, req.ProviderID, ""); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			slog.Error("error checking identity", "component", "api", "provider", p, "error", err)
			internalError(w)
			return
		}
		exists = false
	}

	report, err := h.detector.Check(r.Context(), req.Email, p)
	if err != nil {
		slog.Error("error checking duplicate email", "component", "api", "provider", p, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, checkUserResponse{Exists: exists, DuplicateEmail: report})
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPayloadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, constants.ErrCodePayloadTooLarge, "Request body too large")
		return
	}
	badRequest(w, err.Error())
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
