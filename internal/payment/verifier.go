package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureVerifier is the payment-gateway collaborator contract: the saga
// core never implements gateway-specific request signing beyond this check.
type SignatureVerifier interface {
	Verify(rawBody []byte, signatureHeader string) bool
}

// HMACVerifier checks a hex-encoded HMAC-SHA256 of the raw body, the scheme
// most gateways use for webhook signatures.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(rawBody []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}

	expected, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	return hmac.Equal(mac.Sum(nil), expected)
}

var _ SignatureVerifier = (*HMACVerifier)(nil)
