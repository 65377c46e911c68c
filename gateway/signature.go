package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// PaymentSignature is what the gateway hands the browser after a payment:
// hex HMAC-SHA256 of "orderRef|paymentRef" under the key secret.
func PaymentSignature(keySecret, gatewayOrderRef, gatewayPaymentRef string) string {
	return sign(keySecret, []byte(gatewayOrderRef+"|"+gatewayPaymentRef))
}

func VerifyPaymentSignature(keySecret, gatewayOrderRef, gatewayPaymentRef, signature string) bool {
	return equal(PaymentSignature(keySecret, gatewayOrderRef, gatewayPaymentRef), signature)
}

// WebhookSignature signs a raw webhook body.
func WebhookSignature(webhookSecret string, body []byte) string {
	return sign(webhookSecret, body)
}

func VerifyWebhookSignature(webhookSecret string, body []byte, signature string) bool {
	return equal(WebhookSignature(webhookSecret, body), signature)
}

func sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// equal compares got exactly as submitted; signatures are lowercase hex.
func equal(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
