package models

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive:
		return true
	}
	return false
}

type Provider string

const (
	ProviderKakao Provider = "kakao"
	ProviderNaver Provider = "naver"
)

// ParseProvider normalises a provider tag. Unknown tags return false.
func ParseProvider(raw string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case ProviderKakao, ProviderNaver:
		return p, true
	}
	return "", false
}

type Account struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	Nickname        string     `json:"nickname"`
	ProfileImage    *string    `json:"profileImage,omitempty"`
	Provider        Provider   `json:"provider"`
	ProviderID      string     `json:"-"`
	Status          Status     `json:"status"`
	TokenVersion    int        `json:"-"`
	PrivacyAgreed   bool       `json:"privacyAgreed"`
	PrivacyAgreedAt *time.Time `json:"privacyAgreedAt,omitempty"`
	TermsAgreed     bool       `json:"termsAgreed"`
	MarketingAgreed bool       `json:"marketingAgreed"`
	AgeGroup        *string    `json:"ageGroup,omitempty"`
	Gender          *string    `json:"gender,omitempty"`
	InterestIDs     []int64    `json:"categoryIds,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (a *Account) GetProfileImage() string {
	if a.ProfileImage != nil {
		return *a.ProfileImage
	}
	return ""
}

// Summary is the minimal, non-secret view of an account carried by the
// plain session cookie and returned to clients after registration steps.
type Summary struct {
	ID            int64    `json:"id"`
	Email         string   `json:"email"`
	Nickname      string   `json:"nickname"`
	ProfileImage  string   `json:"profileImage,omitempty"`
	Provider      Provider `json:"provider"`
	Status        Status   `json:"status"`
	PrivacyAgreed bool     `json:"privacyAgreed"`
}

func (a *Account) Summary() Summary {
	return Summary{
		ID:            a.ID,
		Email:         a.Email,
		Nickname:      a.Nickname,
		ProfileImage:  a.GetProfileImage(),
		Provider:      a.Provider,
		Status:        a.Status,
		PrivacyAgreed: a.PrivacyAgreed,
	}
}

// NewAccount holds everything phase one writes for a PENDING account.
type NewAccount struct {
	Email           string
	Nickname        string
	ProfileImage    *string
	Provider        Provider
	ProviderID      string
	PrivacyAgreed   bool
	TermsAgreed     bool
	MarketingAgreed bool
	AgeGroup        *string
	Gender          *string
	CategoryIDs     []int64
	CreatedAt       time.Time
}

// DuplicateAccount describes another account sharing an email under a
// different provider.
type DuplicateAccount struct {
	Provider     Provider `json:"provider"`
	Nickname     string   `json:"nickname"`
	ProfileImage *string  `json:"profileImage,omitempty"`
}

type DuplicateAccountReport struct {
	Exists   bool               `json:"exists"`
	Accounts []DuplicateAccount `json:"accounts"`
}
