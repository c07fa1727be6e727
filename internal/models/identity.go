package models

import "time"

// IdentitySnapshot is a verified OAuth identity that has not completed
// local registration. It only ever lives inside the encrypted
// pre-registration cookie.
type IdentitySnapshot struct {
	Provider     Provider  `json:"provider"`
	ProviderID   string    `json:"providerId"`
	Email        string    `json:"email"`
	Nickname     string    `json:"nickname"`
	ProfileImage string    `json:"profileImage,omitempty"`
	AgeGroup     string    `json:"ageGroup,omitempty"`
	Gender       string    `json:"gender,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
