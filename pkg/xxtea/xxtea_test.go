package xxtea

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	tests := []struct {
		name string
		data []byte
	}{
		{"sixteen bytes", []byte("ABCDEFGHIJKLMNOP")},
		{"eight bytes", []byte("12345678")},
		{"binary", []byte{0, 1, 2, 3, 255, 254, 253, 252, 0, 0, 0, 0, 9, 9, 9, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encrypt(tt.data, key)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if bytes.Equal(enc, tt.data) {
				t.Fatal("ciphertext equals plaintext")
			}
			dec, err := Decrypt(enc, key)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(dec, tt.data) {
				t.Errorf("round trip mismatch: got %x, want %x", dec, tt.data)
			}
		})
	}
}

func TestDeterministic(t *testing.T) {
	key := []byte("fedcba9876543210")
	data := []byte("ABCDEFGHIJKLMNOP")
	a, err := Encrypt(data, key)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt(data, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encryption is not deterministic")
	}
}

func TestKeyMatters(t *testing.T) {
	data := []byte("ABCDEFGHIJKLMNOP")
	a, _ := Encrypt(data, []byte("0123456789abcdef"))
	b, _ := Encrypt(data, []byte("0123456789abcdeX"))
	if bytes.Equal(a, b) {
		t.Error("different keys produced identical ciphertext")
	}
}

func TestInvalidInputs(t *testing.T) {
	key := []byte("0123456789abcdef")
	if _, err := Encrypt([]byte("abc"), key); err == nil {
		t.Error("expected error for short data")
	}
	if _, err := Encrypt([]byte("abcde"), key); err == nil {
		t.Error("expected error for non-multiple-of-4 data")
	}
	if _, err := Encrypt([]byte("ABCDEFGHIJKLMNOP"), []byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}
