package utils

import (
	"strings"
	"testing"
)

func TestSecretBoxRoundTrip(t *testing.T) {
	sb := NewSecretBox("", "unit-test-secret")
	enc, err := sb.Encrypt("sk-test-123456")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if enc == "" || enc == "sk-test-123456" {
		t.Fatalf("Encrypt returned plaintext or empty: %q", enc)
	}
	dec, err := sb.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if dec != "sk-test-123456" {
		t.Fatalf("round trip mismatch: %q", dec)
	}
}

func TestSecretBoxExplicitKeyPreferred(t *testing.T) {
	a := NewSecretBox("explicit-key", "secret")
	b := NewSecretBox("", "secret")
	enc, err := a.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(enc); err == nil {
		t.Fatalf("expected decrypt failure with derived key")
	}
}

func TestSecretBoxEmpty(t *testing.T) {
	sb := NewSecretBox("k", "s")
	enc, err := sb.Encrypt("")
	if err != nil || enc != "" {
		t.Fatalf("Encrypt empty: %q %v", enc, err)
	}
	dec, err := sb.Decrypt("")
	if err != nil || dec != "" {
		t.Fatalf("Decrypt empty: %q %v", dec, err)
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("sk-test-123456"); got != "sk-"+strings.Repeat("*", 8)+"456" {
		t.Fatalf("MaskSecret long: %q", got)
	}
	if got := MaskSecret("abc"); got != "***" {
		t.Fatalf("MaskSecret short: %q", got)
	}
	if got := MaskSecret(""); got != "" {
		t.Fatalf("MaskSecret empty: %q", got)
	}
}
