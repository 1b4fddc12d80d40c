package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrStateExpired signals a consent round-trip that outlived its TTL.
	ErrStateExpired = errors.New("oauth state expired")
	// ErrStateInvalid covers malformed or tampered state values.
	ErrStateInvalid = errors.New("oauth state invalid")
)

// StateSigner issues and verifies the OAuth `state` parameter. A state binds
// the consent round-trip to one schedule session and expires after ttl.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner constructs a signer with the provided secret and TTL.
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *StateSigner) WithClock(now func() time.Time) *StateSigner {
	s.now = now
	return s
}

// TTL exposes the configured consent timeout.
func (s *StateSigner) TTL() time.Duration {
	return s.ttl
}

// Sign returns a state token for sessionID and the moment it stops being accepted.
func (s *StateSigner) Sign(sessionID string) (string, time.Time, error) {
	if sessionID == "" {
		return "", time.Time{}, fmt.Errorf("session id required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("state secret missing")
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, fmt.Errorf("generate nonce: %w", err)
	}

	expiresAt := s.now().Add(s.ttl)
	encodedID := base64.RawURLEncoding.EncodeToString([]byte(sessionID))
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	nonceHex := hex.EncodeToString(nonce)

	token := strings.Join([]string{encodedID, exp, nonceHex, s.sign(encodedID, exp, nonceHex)}, ".")
	return token, expiresAt, nil
}

// Verify checks signature and expiry and returns the bound session id.
func (s *StateSigner) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", ErrStateInvalid
	}
	encodedID, exp, nonceHex, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(encodedID, exp, nonceHex)), []byte(signature)) {
		return "", ErrStateInvalid
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return "", ErrStateInvalid
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", ErrStateExpired
	}
	rawID, err := base64.RawURLEncoding.DecodeString(encodedID)
	if err != nil {
		return "", ErrStateInvalid
	}
	return string(rawID), nil
}

func (s *StateSigner) sign(parts ...string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
