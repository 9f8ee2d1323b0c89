package secrets

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestCodecRoundtrip(t *testing.T) {
	t.Parallel()

	c, err := NewCodec(testKey)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	for _, plain := range []string{"", "tok_abc123", "emoji 🔑 token"} {
		ct, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plain, err)
		}
		got, err := c.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", plain, err)
		}
		if got != plain {
			t.Fatalf("roundtrip = %q, want %q", got, plain)
		}
	}
}

func TestCodecNoncesDiffer(t *testing.T) {
	t.Parallel()

	c, _ := NewCodec(testKey)
	a, _ := c.Encrypt("same input")
	b, _ := c.Encrypt("same input")
	if a == b {
		t.Fatal("two encryptions of the same plaintext must not repeat")
	}
}

func TestCodecRejectsTampering(t *testing.T) {
	t.Parallel()

	c, _ := NewCodec(testKey)
	ct, _ := c.Encrypt("tok_abc123")

	raw, _ := base64.StdEncoding.DecodeString(ct)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrBadCiphertext) {
		t.Fatalf("Decrypt tampered = %v, want ErrBadCiphertext", err)
	}
	if _, err := c.Decrypt("not base64 at all!!!"); !errors.Is(err, ErrBadCiphertext) {
		t.Fatalf("Decrypt garbage = %v, want ErrBadCiphertext", err)
	}
	if _, err := c.Decrypt(base64.StdEncoding.EncodeToString([]byte("xx"))); !errors.Is(err, ErrBadCiphertext) {
		t.Fatalf("Decrypt short = %v, want ErrBadCiphertext", err)
	}
}

func TestNewCodecKeyValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewCodec("zz"); err == nil {
		t.Fatal("non-hex key accepted")
	}
	if _, err := NewCodec(strings.Repeat("ab", 16)); err == nil {
		t.Fatal("16-byte key accepted, want 32 bytes required")
	}
}
