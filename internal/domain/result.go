package domain

import "time"

// Kind discriminates the outcome of a start event for the transport to render.
type Kind string

const (
	KindAccessGranted     Kind = "access_granted"
	KindAccessDenied      Kind = "access_denied"
	KindTokenInvalid      Kind = "token_invalid"
	KindTokenUsed         Kind = "token_used"
	KindReferralInvalid   Kind = "referral_invalid"
	KindReferralSuccess   Kind = "referral_success"
	KindNeedsVerification Kind = "needs_verification"
)

// Denial reasons that are not validation failures.
const (
	DenyAdUnavailable    = "ad_unavailable"
	DenyReferralRequired = "referral_required"
)

// StartEvent is an inbound user action from the chat transport.
type StartEvent struct {
	UserID      string
	StartParam  string
	DisplayName string
}

type Result struct {
	Kind            Kind
	Reason          string
	Source          Source
	ExpiresAt       *time.Time
	Remaining       time.Duration
	MediaRef        string
	ReferrerUserID  string
	ReferralCode    string
	VerificationURL string
}
