package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealer_SealOpen(t *testing.T) {
	s, err := NewSealer([]byte("test-password-456"), nil, nil)
	if err != nil {
		t.Fatalf("Failed to create sealer: %v", err)
	}
	defer s.Close()

	testData := []byte("retained secrets for peer 0102030405060708090a0b0c")

	sealed, err := s.Seal(testData)
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}
	if bytes.Contains(sealed, testData) {
		t.Error("Sealed data contains plaintext")
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if !bytes.Equal(opened, testData) {
		t.Errorf("Opened data mismatch: got %q, want %q", opened, testData)
	}
}

func TestSealer_ReopenWithStoredSalt(t *testing.T) {
	password := []byte("test-password-789")
	s1, err := NewSealer(password, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := s1.Seal([]byte("cache"))
	if err != nil {
		t.Fatal(err)
	}
	s1.Close()

	salt, err := SealedSalt(sealed)
	if err != nil {
		t.Fatalf("Failed to read salt: %v", err)
	}
	s2, err := NewSealer(password, salt, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	opened, err := s2.Open(sealed)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	if string(opened) != "cache" {
		t.Errorf("got %q, want %q", opened, "cache")
	}
}

func TestSealer_WrongPassphrase(t *testing.T) {
	s1, err := NewSealer([]byte("correct"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := s1.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	salt, _ := SealedSalt(sealed)
	s2, err := NewSealer([]byte("wrong"), salt, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s2.Open(sealed); !errors.Is(err, ErrSealOpen) {
		t.Errorf("expected ErrSealOpen, got %v", err)
	}
}

func TestSealer_Tampering(t *testing.T) {
	s, err := NewSealer([]byte("password"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := s.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := s.Open(tampered); err == nil {
		t.Error("expected error for tampered ciphertext")
	}

	tampered = append([]byte(nil), sealed...)
	tampered[0] = 0x7f
	if _, err := s.Open(tampered); err == nil {
		t.Error("expected error for unknown version")
	}

	if _, err := s.Open(sealed[:10]); err == nil {
		t.Error("expected error for truncated data")
	}
}

func TestNewSealer_Validation(t *testing.T) {
	if _, err := NewSealer(nil, nil, nil); err == nil {
		t.Error("expected error for empty passphrase")
	}
	if _, err := NewSealer([]byte("pw"), []byte("short"), nil); err == nil {
		t.Error("expected error for short salt")
	}
}
