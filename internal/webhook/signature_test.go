package webhook

import (
	"strings"
	"testing"
)

func TestSign_Format(t *testing.T) {
	sig := Sign("s3cr3t", []byte(`{"event":"settings.updated"}`))
	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("signature missing algorithm prefix: %q", sig)
	}
	if len(sig) != len("sha256=")+64 {
		t.Errorf("signature length = %d, want %d", len(sig), len("sha256=")+64)
	}
}

func TestSign_Deterministic(t *testing.T) {
	body := []byte(`{"a":1}`)
	if Sign("k", body) != Sign("k", body) {
		t.Error("same secret and body must produce the same signature")
	}
	if Sign("k1", body) == Sign("k2", body) {
		t.Error("different secrets must produce different signatures")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"settings.updated","field":"menu_background"}`)
	sig := Sign("s3cr3t", body)

	if !VerifySignature("s3cr3t", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("wrong", body, sig) {
		t.Error("signature accepted under wrong secret")
	}
	if VerifySignature("s3cr3t", []byte(`{"tampered":true}`), sig) {
		t.Error("signature accepted for tampered body")
	}
	if VerifySignature("s3cr3t", body, strings.TrimPrefix(sig, "sha256=")) {
		t.Error("signature accepted without algorithm prefix")
	}
}
