package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// verifySignature reports whether signature (a hex-encoded
// HMAC-SHA256 digest) matches the one computed over body with secret.
// Computed over the raw request bytes, never a re-serialized form, so
// whitespace or key-order differences in the sender's JSON encoder
// can't desynchronize verification.
func verifySignature(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
