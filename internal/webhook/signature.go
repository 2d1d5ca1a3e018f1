package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Sign returns the X-Webhook-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign. Receivers can use it as is.
func Verify(secret string, body []byte, signature string) bool {
	if signature == "" || !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}
