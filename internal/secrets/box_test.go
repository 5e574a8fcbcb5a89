package secrets

import (
	"bytes"
	"strings"
	"testing"
)

const testKey = "8e2f0a1b3c4d5e6f8e2f0a1b3c4d5e6f8e2f0a1b3c4d5e6f8e2f0a1b3c4d5e6f"

func TestBox_SealOpen(t *testing.T) {
	box, err := NewBox(testKey)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	plain := []byte(`{"access_token":"tok","refresh_token":"ref"}`)
	sealed, err := box.Seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("tok")) {
		t.Fatalf("sealed blob leaks plaintext")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestBox_RejectsTamperedBlob(t *testing.T) {
	box, err := NewBox(testKey)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	sealed, err := box.Seal([]byte("creds"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := box.Open(sealed); err == nil {
		t.Fatalf("expected tampered blob to fail")
	}
}

func TestNewBox_RejectsBadKeys(t *testing.T) {
	if _, err := NewBox("zz"); err == nil {
		t.Fatalf("expected invalid hex to fail")
	}
	if _, err := NewBox(strings.Repeat("ab", 16)); err == nil {
		t.Fatalf("expected short key to fail")
	}
}
