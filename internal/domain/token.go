package domain

import "time"

// Token is the stored half of a one-time access ticket. The signed value
// itself is verified offline by the token codec.
type Token struct {
	Value       string     `json:"value"`
	UserID      string     `json:"user_id"`
	MediaRef    string     `json:"media_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Used        bool       `json:"used"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}
