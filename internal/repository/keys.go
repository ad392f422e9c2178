package repository

// Logical key layout. Keys are plain strings so every store implementation
// can keep them in a single table or map.
const (
	PrefixTokens            = "tokens/"
	PrefixUserAccess        = "userAccess/"
	PrefixReferralCodes     = "referrals/codes/"
	PrefixReferralUserCodes = "referrals/userCodes/"
	PrefixReferralUsers     = "referrals/users/"
	PrefixReferrers         = "referrals/referrers/"

	KeySettings = "config/settings"
)

func TokenKey(token string) string          { return PrefixTokens + token }
func AccessKey(userID string) string        { return PrefixUserAccess + userID }
func ReferralCodeKey(code string) string    { return PrefixReferralCodes + code }
func UserCodeKey(userID string) string      { return PrefixReferralUserCodes + userID }
func RedemptionKey(newUserID string) string { return PrefixReferralUsers + newUserID }
func ReferrerKey(userID string) string      { return PrefixReferrers + userID }
