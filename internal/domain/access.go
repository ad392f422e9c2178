package domain

import "time"

type Source string

const (
	SourceDirect        Source = "direct"
	SourceReferral      Source = "referral"
	SourceReferralBonus Source = "referral_bonus"
)

// AccessWindow is the stored validity interval of a user's entitlement.
// A window whose ExpiresAt is not after now is logically absent.
type AccessWindow struct {
	UserID    string    `json:"user_id"`
	Granted   bool      `json:"granted"`
	ExpiresAt time.Time `json:"expires_at"`
	GrantedAt time.Time `json:"granted_at"`
	Source    Source    `json:"source"`
}

// LiveAt reports whether the window grants access at now.
func (w *AccessWindow) LiveAt(now time.Time) bool {
	return w != nil && w.Granted && w.ExpiresAt.After(now)
}
