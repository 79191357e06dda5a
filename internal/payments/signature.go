package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/cockroachdb/errors"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-Payment-Signature"

var ErrBadSignature = errors.New("bad payment signature")

// Sign returns the signature the payment provider attaches to body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify rejects every callback when no secret is configured.
func Verify(secret string, body []byte, signature string) error {
	if secret == "" {
		return errors.Wrap(ErrBadSignature, "no callback secret configured")
	}
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return errors.Wrap(ErrBadSignature, "signature is not hex")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
