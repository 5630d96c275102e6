package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const SignaturePrefix = "sha256="

// Sign computes the hex-encoded HMAC-SHA256 signature over the raw request
// body. Receivers verify authenticity with the shared secret without the
// secret ever crossing the wire.
func Sign(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header against the body and secret in
// constant time. Subscribers embed this on their side of the contract.
func Verify(secret []byte, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("delivery: signature header is required")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, SignaturePrefix))
	if signature == "" {
		return fmt.Errorf("delivery: signature value is required")
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("delivery: decode hex signature: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("delivery: signature verification failed")
	}
	return nil
}
