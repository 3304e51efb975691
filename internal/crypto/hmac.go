package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// EnvelopeAuth signs and verifies envelopes exchanged between nodes with a
// shared secret. The signature is base64(HMAC-SHA256(secret, signing bytes)).
type EnvelopeAuth struct {
	secret []byte
}

// NewEnvelopeAuth returns an EnvelopeAuth for the shared secret.
func NewEnvelopeAuth(secret string) *EnvelopeAuth {
	return &EnvelopeAuth{secret: []byte(secret)}
}

// Sign returns the signature of env. Any existing signature is ignored.
func (a *EnvelopeAuth) Sign(env domain.Envelope) string {
	return hmacSHA256Base64(a.secret, env.SigningBytes())
}

// Verify checks env.Signature in constant time.
func (a *EnvelopeAuth) Verify(env domain.Envelope) error {
	got, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("crypto/hmac: envelope %s: %w", env.ID, domain.ErrBadSignature)
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(env.SigningBytes())
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("crypto/hmac: envelope %s: %w", env.ID, domain.ErrBadSignature)
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (a *EnvelopeAuth) String() string {
	if len(a.secret) <= 4 {
		return "EnvelopeAuth{secret=****}"
	}
	return fmt.Sprintf("EnvelopeAuth{secret=%s****}", a.secret[:4])
}

func hmacSHA256Base64(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
