package domain

import "time"

type ReferralCode struct {
	Code        string     `json:"code"`
	OwnerUserID string     `json:"owner_user_id"`
	CreatedAt   time.Time  `json:"created_at"`
	Uses        int        `json:"uses"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// UserCode is the reverse mapping from a user to their active code.
type UserCode struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralRedemption is keyed by the referee. At most one exists per user, ever.
type ReferralRedemption struct {
	NewUserID      string    `json:"new_user_id"`
	ReferrerUserID string    `json:"referrer_user_id"`
	Code           string    `json:"code"`
	RedeemedAt     time.Time `json:"redeemed_at"`
}

type ReferrerStats struct {
	UserID         string     `json:"user_id"`
	TotalReferrals int        `json:"total_referrals"`
	LastReferralAt *time.Time `json:"last_referral_at,omitempty"`
}
