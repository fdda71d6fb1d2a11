package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)

	t.Run("accepts a matching signature", func(t *testing.T) {
		assert.True(t, VerifySignature(body, sign(body, "s3cret"), "s3cret"))
	})

	t.Run("rejects a signature over a different body", func(t *testing.T) {
		assert.False(t, VerifySignature(body, sign([]byte(`{"action":"closed"}`), "s3cret"), "s3cret"))
	})

	t.Run("rejects a signature under a different secret", func(t *testing.T) {
		assert.False(t, VerifySignature(body, sign(body, "wrong"), "s3cret"))
	})

	t.Run("rejects a header without the sha256 prefix", func(t *testing.T) {
		assert.False(t, VerifySignature(body, "deadbeef", "s3cret"))
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		assert.False(t, VerifySignature(body, "", "s3cret"))
	})

	t.Run("empty secret disables verification", func(t *testing.T) {
		assert.True(t, VerifySignature(body, "sha256=deadbeef", ""))
		assert.True(t, VerifySignature(body, "", ""))
	})
}
