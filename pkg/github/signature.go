package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks an X-Hub-Signature-256 header against the raw
// request body. The header carries "sha256=<hex>" where <hex> is the
// HMAC-SHA256 of the body under the shared webhook secret. An empty
// secret disables verification.
func VerifySignature(body []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return true
	}
	supplied, ok := strings.CutPrefix(signatureHeader, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(supplied), []byte(expected))
}
