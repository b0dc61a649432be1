package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureMismatch is returned when no configured secret produces the presented signature.
var ErrSignatureMismatch = errors.New("auth: signature mismatch")

// BodySigner computes and checks HMAC-SHA256 signatures over raw request bodies, as payment
// gateways attach to webhook deliveries. Several secrets may be active during rotation; the
// first one signs.
type BodySigner struct {
	secrets [][]byte
}

// NewBodySigner returns a signer for the non-empty secrets given.
func NewBodySigner(secrets ...string) (*BodySigner, error) {
	s := &BodySigner{}
	for _, secret := range secrets {
		if secret = strings.TrimSpace(secret); secret != "" {
			s.secrets = append(s.secrets, []byte(secret))
		}
	}
	if len(s.secrets) == 0 {
		return nil, errors.New("auth: at least one signing secret is required")
	}
	return s, nil
}

// Sign returns the lower-case hex signature of body under the primary secret.
func (s *BodySigner) Sign(body []byte) string {
	return hex.EncodeToString(computeHMAC(s.secrets[0], body))
}

// Verify checks signature against body. Hex and base64 encodings are accepted, with an optional
// "sha256=" prefix. Comparison is constant time.
func (s *BodySigner) Verify(body []byte, signature string) error {
	if s == nil || len(s.secrets) == 0 {
		return errors.New("auth: signer not configured")
	}
	presented, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	for _, secret := range s.secrets {
		if hmac.Equal(presented, computeHMAC(secret, body)) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if prefix, rest, ok := strings.Cut(value, "="); ok && strings.EqualFold(prefix, "sha256") {
		value = rest
	}
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if len(value) == sha256.Size*2 {
		if decoded, err := hex.DecodeString(value); err == nil {
			return decoded, nil
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
