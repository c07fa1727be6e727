package constants

const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeConsentRequired   = "CONSENT_REQUIRED"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeSessionExpired    = "SESSION_EXPIRED"
	ErrCodeAccountInactive   = "ACCOUNT_INACTIVE"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyRegistered = "ALREADY_REGISTERED"
	ErrCodeNotPending        = "NOT_PENDING"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
