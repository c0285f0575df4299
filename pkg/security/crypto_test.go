package security

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		t.Fatal(err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	return c
}

// TestEncryptDecryptRoundTrip tests the three-part GCM split
func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCipher(t)
	plaintext := []byte("cf-token-abc123")

	ciphertext, iv, tag, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(iv) == 0 || len(tag) != 16 {
		t.Errorf("iv len %d, tag len %d, want nonzero iv and 16-byte tag", len(iv), len(tag))
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	got, err := c.Decrypt(ciphertext, iv, tag)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

// TestDecryptTamper tests that any altered part fails authentication
func TestDecryptTamper(t *testing.T) {
	c := testCipher(t)
	ciphertext, iv, tag, err := c.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	flip := func(b []byte) []byte {
		out := append([]byte{}, b...)
		out[0] ^= 0xff
		return out
	}
	if _, err := c.Decrypt(flip(ciphertext), iv, tag); err == nil {
		t.Error("tampered ciphertext decrypted")
	}
	if _, err := c.Decrypt(ciphertext, flip(iv), tag); err == nil {
		t.Error("tampered iv decrypted")
	}
	if _, err := c.Decrypt(ciphertext, iv, flip(tag)); err == nil {
		t.Error("tampered auth tag decrypted")
	}
}

// TestEncryptEmpty tests the empty-plaintext rejection
func TestEncryptEmpty(t *testing.T) {
	c := testCipher(t)
	if _, _, _, err := c.Encrypt(nil); err == nil {
		t.Error("Encrypt(nil) succeeded, want error")
	}
}

// TestNewCipherKeyLength tests AES-256 key validation
func TestNewCipherKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 24, 31, 33} {
		if _, err := NewCipher(make([]byte, n)); err == nil {
			t.Errorf("NewCipher(%d bytes) succeeded, want error", n)
		}
	}
}

// TestFingerprint tests determinism and shape of the token handle
func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	b := Fingerprint("token-b")
	if len(a) != 16 {
		t.Errorf("Fingerprint length = %d, want 16", len(a))
	}
	if a == b {
		t.Error("distinct tokens share a fingerprint")
	}
	if a != Fingerprint("token-a") {
		t.Error("Fingerprint is not deterministic")
	}
}

// TestLoadOrCreateKey tests key generation, reuse, and permissions
func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", ".token-key")

	key1, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKey() error = %v", err)
	}
	if len(key1) != 32 {
		t.Errorf("key length = %d, want 32", len(key1))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file mode = %o, want 0600", perm)
	}

	key2, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("second LoadOrCreateKey() error = %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("reloaded key differs from generated key")
	}
}
