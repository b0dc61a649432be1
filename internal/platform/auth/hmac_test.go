package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
)

func TestBodySignerRoundTripAndEncodings(t *testing.T) {
	signer, err := NewBodySigner("whsec_primary")
	if err != nil {
		t.Fatalf("NewBodySigner: %v", err)
	}
	body := []byte(`{"event":"payment.captured"}`)
	sig := signer.Sign(body)

	if err := signer.Verify(body, sig); err != nil {
		t.Fatalf("hex signature rejected: %v", err)
	}
	if err := signer.Verify(body, "sha256="+sig); err != nil {
		t.Fatalf("prefixed signature rejected: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("whsec_primary"))
	mac.Write(body)
	if err := signer.Verify(body, base64.StdEncoding.EncodeToString(mac.Sum(nil))); err != nil {
		t.Fatalf("base64 signature rejected: %v", err)
	}
}

func TestBodySignerRejectsTamperedBody(t *testing.T) {
	signer, _ := NewBodySigner("whsec_primary")
	sig := signer.Sign([]byte(`{"amount":100}`))
	if err := signer.Verify([]byte(`{"amount":1}`), sig); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := signer.Verify([]byte(`{}`), ""); err == nil {
		t.Fatalf("expected empty signature to fail")
	}
	if err := signer.Verify([]byte(`{}`), "not base64!"); err == nil {
		t.Fatalf("expected malformed signature to fail")
	}
}

func TestBodySignerAcceptsRotatedSecret(t *testing.T) {
	old, _ := NewBodySigner("whsec_old")
	rotated, _ := NewBodySigner("whsec_new", "whsec_old")
	body := []byte(`{}`)
	if err := rotated.Verify(body, old.Sign(body)); err != nil {
		t.Fatalf("expected old secret to be accepted during rotation: %v", err)
	}
	if _, err := NewBodySigner(" ", ""); err == nil {
		t.Fatalf("expected error without secrets")
	}
}
