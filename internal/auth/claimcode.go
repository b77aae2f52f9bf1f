package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"strings"
)

// ClaimCodes derives the short code a resident shows to redeem a reward.
// The code is an HMAC over the claim, user and reward ids, so it cannot be
// guessed and is checked without any extra state.
type ClaimCodes struct {
	Secret []byte
}

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Code returns a code of the form BP-XXXX-XXXX.
func (c ClaimCodes) Code(claimID, userID, rewardID string) string {
	mac := hmac.New(sha256.New, c.Secret)
	mac.Write([]byte(strings.Join([]string{claimID, userID, rewardID}, "|")))
	s := codeEncoding.EncodeToString(mac.Sum(nil))[:8]
	return "BP-" + s[:4] + "-" + s[4:]
}

// Verify reports whether code belongs to the claim. Case and surrounding
// whitespace are ignored.
func (c ClaimCodes) Verify(claimID, userID, rewardID, code string) bool {
	want := c.Code(claimID, userID, rewardID)
	return hmac.Equal([]byte(want), []byte(Normalize(code)))
}

// Normalize upper-cases and trims a code typed by hand.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
