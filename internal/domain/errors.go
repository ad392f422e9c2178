package domain

import (
	"errors"
	"fmt"
)

// RejectReason is the machine-readable cause of a ValidationError.
type RejectReason string

const (
	ReasonInvalidFormat   RejectReason = "invalid_format"
	ReasonUserMismatch    RejectReason = "user_mismatch"
	ReasonExpired         RejectReason = "expired"
	ReasonBadSignature    RejectReason = "bad_signature"
	ReasonUnknownToken    RejectReason = "unknown_token"
	ReasonTokenUsed       RejectReason = "token_used"
	ReasonCodeNotFound    RejectReason = "code_not_found"
	ReasonSelfReferral    RejectReason = "self_referral"
	ReasonAlreadyRedeemed RejectReason = "already_redeemed"
	ReasonAdsDisabled     RejectReason = "ads_disabled"
)

// ValidationError is a recoverable rejection that callers surface as a typed
// result rather than a fault.
type ValidationError struct {
	Reason RejectReason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

var (
	ErrInvalidFormat   = &ValidationError{Reason: ReasonInvalidFormat}
	ErrUserMismatch    = &ValidationError{Reason: ReasonUserMismatch}
	ErrExpired         = &ValidationError{Reason: ReasonExpired}
	ErrBadSignature    = &ValidationError{Reason: ReasonBadSignature}
	ErrUnknownToken    = &ValidationError{Reason: ReasonUnknownToken}
	ErrTokenUsed       = &ValidationError{Reason: ReasonTokenUsed}
	ErrCodeNotFound    = &ValidationError{Reason: ReasonCodeNotFound}
	ErrSelfReferral    = &ValidationError{Reason: ReasonSelfReferral}
	ErrAlreadyRedeemed = &ValidationError{Reason: ReasonAlreadyRedeemed}
	ErrAdsDisabled     = &ValidationError{Reason: ReasonAdsDisabled}
)

var (
	// ErrConfiguration marks missing secrets or credentials. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrUpstreamUnavailable is returned when the ad provider times out or
	// answers with anything but success.
	ErrUpstreamUnavailable = errors.New("upstream temporarily unavailable")

	// ErrStore wraps failures of the underlying key-value store.
	ErrStore = errors.New("store failure")

	// ErrNotFound is returned by store reads for absent keys.
	ErrNotFound = errors.New("not found")
)

// ReasonOf extracts the rejection reason from err. ok is false when err is
// not a ValidationError.
func ReasonOf(err error) (RejectReason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}
