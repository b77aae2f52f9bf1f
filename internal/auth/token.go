package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadToken   = errors.New("bad token")
	ErrBadSig     = errors.New("invalid signature")
	ErrExpired    = errors.New("expired")
	ErrBadPayload = errors.New("bad payload")
)

// Tokens issues bearer tokens for API clients that cannot hold a session
// cookie, such as the offline sync client.
type Tokens struct {
	Secret []byte
	Now    func() time.Time
}

func (t Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Sign returns payload.sig, both URL-safe base64 without padding.
func (t Tokens) Sign(userID string, exp time.Time) string {
	msg := userID + "|" + strconv.FormatInt(exp.Unix(), 10)
	payload := base64.RawURLEncoding.EncodeToString([]byte(msg))
	return payload + "." + t.sig([]byte(msg))
}

// Issue signs a token for userID valid for ttl.
func (t Tokens) Issue(userID string, ttl time.Duration) string {
	return t.Sign(userID, t.now().Add(ttl))
}

func (t Tokens) sig(msg []byte) string {
	mac := hmac.New(sha256.New, t.Secret)
	mac.Write(msg)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature and expiry and returns the user id.
func (t Tokens) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", ErrBadToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrBadToken
	}
	if !hmac.Equal([]byte(t.sig(raw)), []byte(parts[1])) {
		return "", ErrBadSig
	}

	fields := strings.SplitN(string(raw), "|", 2)
	if len(fields) != 2 {
		return "", ErrBadPayload
	}
	userID := strings.TrimSpace(fields[0])
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || userID == "" {
		return "", ErrBadPayload
	}
	if t.now().After(time.Unix(ts, 0)) {
		return "", ErrExpired
	}
	return userID, nil
}
