package seal

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	e, err := NewEngine(StaticKey(key))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestSealRoundTrip(t *testing.T) {
	e := testEngine(t)
	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0x00}, 4096),
		{0xff},
	}
	for _, p := range payloads {
		ct, nonce, err := e.Seal(p)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if len(nonce) != NonceSize {
			t.Fatalf("nonce length = %d, want %d", len(nonce), NonceSize)
		}
		got, err := e.Unseal(ct, nonce)
		if err != nil {
			t.Fatalf("unseal: %v", err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(p))
		}
	}
}

func TestNonceUniqueness(t *testing.T) {
	e := testEngine(t)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		_, nonce, err := e.Seal([]byte("same plaintext"))
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		key := string(nonce)
		if _, dup := seen[key]; dup {
			t.Fatalf("nonce repeated after %d seals", i)
		}
		seen[key] = struct{}{}
	}
}

func TestTamperDetection(t *testing.T) {
	e := testEngine(t)
	ct, nonce, err := e.Seal([]byte("sensitive payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	// Flip one bit at every byte position of the ciphertext.
	for i := range ct {
		mangled := append([]byte(nil), ct...)
		mangled[i] ^= 0x01
		if _, err := e.Unseal(mangled, nonce); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("ciphertext bit flip at %d: err = %v, want ErrIntegrity", i, err)
		}
	}
	// Same for the nonce.
	for i := range nonce {
		mangled := append([]byte(nil), nonce...)
		mangled[i] ^= 0x01
		if _, err := e.Unseal(ct, mangled); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("nonce bit flip at %d: err = %v, want ErrIntegrity", i, err)
		}
	}
}

func TestWrongKeyFails(t *testing.T) {
	a := testEngine(t)
	b := testEngine(t)
	ct, nonce, err := a.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Unseal(ct, nonce); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("unseal under different key: err = %v, want ErrIntegrity", err)
	}
}

func TestNewEngineRejectsBadKey(t *testing.T) {
	if _, err := NewEngine(StaticKey(make([]byte, 16))); err == nil {
		t.Fatal("expected error for 16-byte key")
	}
	if _, err := NewEngine(StaticKey(nil)); err == nil {
		t.Fatal("expected error for empty key")
	}
}
