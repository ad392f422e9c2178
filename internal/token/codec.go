// Package token issues and verifies self-describing access tickets of the form
// t<issuedAtMillis>-<userID>-<digest>. Verification needs only the server
// secret, so malformed or stale tokens never reach the store.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devi-sudo/zbox/internal/domain"
)

const (
	// DefaultTTL is how long an issued token stays redeemable.
	DefaultTTL = 18 * time.Hour

	// DefaultDigestLen is the number of hex characters of the HMAC kept in the
	// token. Shorter tokens trade a little forgery resistance for link length.
	DefaultDigestLen = 16

	fullDigestLen = sha256.Size * 2
	tag           = "t"
	sep           = "-"
)

// Claims are the fields embedded in a token.
type Claims struct {
	IssuedAt time.Time
	UserID   string
}

type Codec struct {
	secret    []byte
	digestLen int
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*Codec)

// WithDigestLen keeps n hex characters of the digest (16..64).
func WithDigestLen(n int) Option {
	return func(c *Codec) { c.digestLen = n }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) { c.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec returns a codec signing with secret. An empty secret is a
// configuration error.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret is empty: %w", domain.ErrConfiguration)
	}
	c := &Codec{
		secret:    append([]byte(nil), secret...),
		digestLen: DefaultDigestLen,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.digestLen < DefaultDigestLen || c.digestLen > fullDigestLen {
		return nil, fmt.Errorf("token digest length %d out of range: %w", c.digestLen, domain.ErrConfiguration)
	}
	if c.ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive: %w", domain.ErrConfiguration)
	}
	return c, nil
}

// TTL reports how long issued tokens remain valid.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue returns a fresh token bound to userID. Issuance is pure computation.
func (c *Codec) Issue(userID string) (string, error) {
	if userID == "" || strings.Contains(userID, sep) {
		return "", fmt.Errorf("issue token for %q: %w", userID, domain.ErrInvalidFormat)
	}
	issuedAt := c.now().UnixMilli()
	return tag + strconv.FormatInt(issuedAt, 10) + sep + userID + sep + c.digest(issuedAt, userID), nil
}

// Parse splits a token into its claims and digest without checking the
// signature or age.
func Parse(token string) (Claims, string, error) {
	if !strings.HasPrefix(token, tag) {
		return Claims{}, "", domain.ErrInvalidFormat
	}
	parts := strings.Split(token[len(tag):], sep)
	if len(parts) != 3 {
		return Claims{}, "", domain.ErrInvalidFormat
	}
	issuedAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || issuedAt < 0 || strconv.FormatInt(issuedAt, 10) != parts[0] {
		// only the canonical rendering produced by Issue is accepted
		return Claims{}, "", domain.ErrInvalidFormat
	}
	if parts[1] == "" || parts[2] == "" {
		return Claims{}, "", domain.ErrInvalidFormat
	}
	return Claims{IssuedAt: time.UnixMilli(issuedAt), UserID: parts[1]}, parts[2], nil
}

// Verify checks that token was issued by this codec for expectedUserID and is
// not older than the TTL. Rejections are *domain.ValidationError sentinels.
func (c *Codec) Verify(token, expectedUserID string) (Claims, error) {
	claims, digest, err := Parse(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.UserID != expectedUserID {
		return Claims{}, domain.ErrUserMismatch
	}
	if c.now().Sub(claims.IssuedAt) > c.ttl {
		return Claims{}, domain.ErrExpired
	}
	want := c.digest(claims.IssuedAt.UnixMilli(), claims.UserID)
	if !hmac.Equal([]byte(digest), []byte(want)) {
		return Claims{}, domain.ErrBadSignature
	}
	return claims, nil
}

// HasTag reports whether s is shaped like a token at first glance. Verify is
// authoritative.
func HasTag(s string) bool {
	return strings.HasPrefix(s, tag)
}

func (c *Codec) digest(issuedAtMillis int64, userID string) string {
	m := hmac.New(sha256.New, c.secret)
	_, _ = m.Write([]byte(userID + ":" + strconv.FormatInt(issuedAtMillis, 10)))
	return hex.EncodeToString(m.Sum(nil))[:c.digestLen]
}
