package history

import (
	"errors"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	in := tokenPayload{upperMs: 1725000000000, lastKey: []byte("ts/ALL/somekey")}

	token := encodeToken(secret, in)
	out, err := decodeToken(secret, token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.upperMs != in.upperMs || string(out.lastKey) != string(in.lastKey) {
		t.Fatalf("round trip lost data: %+v vs %+v", out, in)
	}
}

func TestTokenTamperDetected(t *testing.T) {
	secret := []byte("test-secret")
	token := encodeToken(secret, tokenPayload{upperMs: 1725000000000, lastKey: []byte("k")})

	// Flip one character.
	tampered := []byte(token)
	if tampered[3] == 'A' {
		tampered[3] = 'B'
	} else {
		tampered[3] = 'A'
	}
	if _, err := decodeToken(secret, string(tampered)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token := encodeToken([]byte("secret-a"), tokenPayload{upperMs: 1725000000000, lastKey: []byte("k")})
	if _, err := decodeToken([]byte("secret-b"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenGarbageInputs(t *testing.T) {
	secret := []byte("s")
	for _, tok := range []string{"", "!!!not-base64!!!", "aaaa", "YWJjZGVmZ2hpamtsbW5vcA"} {
		if _, err := decodeToken(secret, tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}
