package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrBadSignature is the only error the webhook endpoint does not ack.
var ErrBadSignature = errors.New("webhook: invalid signature")

// Verifier authenticates raw webhook bodies against the shared secret
// configured with the payment provider.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign computes the hex HMAC-SHA256 of payload. Exposed so tests and
// internal redelivery tools can produce valid signatures.
func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the payload in constant time. The
// comparison must never shortcut: timing differences would let a
// caller probe the secret byte by byte.
func (v *Verifier) Verify(payload []byte, signature string) error {
	if signature == "" {
		return ErrBadSignature
	}
	expected := v.Sign(payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
