package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"reelgate/internal/identity"
)

// RefreshToken is the legacy session reference stored in the refresh cookie:
// the owning principal plus an absolute expiry. The principal keys the base
// private key held in the KV store.
type RefreshToken struct {
	Principal     identity.Principal `json:"principal"`
	ExpiryEpochMs int64              `json:"expiry_epoch_ms"`
}

// Expired reports whether the token has lapsed at the provided instant.
func (t RefreshToken) Expired(now time.Time) bool {
	return now.UnixMilli() > t.ExpiryEpochMs
}

// ErrCookieSignature is returned when a cookie value fails HMAC verification.
var ErrCookieSignature = errors.New("cookie signature invalid")

const (
	cookieKeyIterations = 4096
	cookieKeyLen        = 32
)

// cookieCodec signs cookie values so a client cannot forge a refresh token.
// The MAC key is derived from the configured secret.
type cookieCodec struct {
	key []byte
}

func newCookieCodec(secret string) (*cookieCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("cookie secret is required")
	}
	key := pbkdf2.Key([]byte(secret), []byte("reelgate-cookie-v1"), cookieKeyIterations, cookieKeyLen, sha256.New)
	return &cookieCodec{key: key}, nil
}

// Encode wraps value as base64(value).base64(mac).
func (c *cookieCodec) Encode(value string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString([]byte(value)) + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Decode verifies the MAC and returns the embedded value.
func (c *cookieCodec) Decode(signed string) (string, error) {
	payload, tag, found := strings.Cut(signed, ".")
	if !found {
		return "", ErrCookieSignature
	}
	value, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrCookieSignature
	}
	gotMAC, err := base64.RawURLEncoding.DecodeString(tag)
	if err != nil {
		return "", ErrCookieSignature
	}
	mac := hmac.New(sha256.New, c.key)
	mac.Write(value)
	if !hmac.Equal(gotMAC, mac.Sum(nil)) {
		return "", ErrCookieSignature
	}
	return string(value), nil
}

func marshalRefreshToken(token RefreshToken) (string, error) {
	encoded, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode refresh token: %w", err)
	}
	return string(encoded), nil
}

func parseRefreshToken(value string) (RefreshToken, bool) {
	var token RefreshToken
	if err := json.Unmarshal([]byte(value), &token); err != nil {
		return RefreshToken{}, false
	}
	if token.Principal == "" {
		return RefreshToken{}, false
	}
	return token, true
}
