// signature.go computes and verifies the HMAC-SHA256 payload signature carried
// on every delivery. Receivers recompute the HMAC of the raw request body with
// their copy of the webhook secret and compare against the header value.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the HTTP header carrying the payload signature.
const SignatureHeader = "X-AdminGuard-Signature"

// signaturePrefix names the digest algorithm, GitHub-style, so the scheme can
// evolve without breaking existing receivers.
const signaturePrefix = "sha256="

// Sign returns the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header is a valid signature of body under
// secret, using a constant-time comparison.
func VerifySignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(header))
}
