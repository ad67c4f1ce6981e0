// Package webhooks delivers lifecycle events to subscriber endpoints with
// HMAC-signed payloads and bounded retries.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header names carried on every delivery.
const (
	HeaderSignature = "X-TaskBlitz-Signature"
	HeaderEvent     = "X-TaskBlitz-Event"
)

// SignBody computes the hex HMAC-SHA256 of the payload under the webhook's
// secret.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the payload.
// Constant-time; tolerates an optional sha256= prefix.
func VerifySignature(secret string, body []byte, signatureHeader string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || secret == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
