package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// verifyMotionSignature checks the X-Motion-Signature header: HMAC-SHA256 of
// the raw body, hex encoded, optionally prefixed with "sha256=". An empty
// secret disables verification.
func verifyMotionSignature(body []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	got := strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(got), []byte(expected))
}

// verifyTrelloSignature checks the X-Trello-Webhook header: HMAC-SHA1 of the
// raw body, hex encoded. An empty secret disables verification.
func verifyTrelloSignature(body []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
