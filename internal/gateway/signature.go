package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the provider's checkout signature:
// hex(HMAC-SHA256(secret, providerOrderID + "|" + paymentID)).
func Sign(secret, providerOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(providerOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the checkout signature and compares it in
// constant time.
func VerifySignature(secret, providerOrderID, paymentID, signature string) bool {
	expected := Sign(secret, providerOrderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignWebhook returns hex(HMAC-SHA256(secret, body)) as sent in the webhook
// signature header.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyWebhook(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(SignWebhook(secret, body)), []byte(signature))
}
