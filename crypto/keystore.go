package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for passphrase key derivation.
	PBKDF2Iterations = 100000
	// SealVersion is the current sealed format version.
	SealVersion = 1
	// SaltSize is the size of the PBKDF2 salt stored in front of sealed data.
	SaltSize = 32

	sealKeySize   = 32
	sealNonceSize = 12
	sealTagSize   = 16
	sealHeader    = 2 + SaltSize
)

// ErrSealOpen is returned when sealed data cannot be authenticated, usually
// because of a wrong passphrase.
var ErrSealOpen = errors.New("sealed data authentication failed (wrong passphrase or corrupted data)")

// Sealer encrypts documents at rest with AES-256-GCM under a key derived
// from a passphrase with PBKDF2-SHA256. The salt travels with the data.
//
// Format: [version:2][salt:32][nonce:12][ciphertext+tag:N]
type Sealer struct {
	key  [sealKeySize]byte
	salt []byte
	rand io.Reader
}

// NewSealer derives the sealing key. A nil salt generates a fresh one; pass
// the salt returned by SealedSalt to reopen existing data.
func NewSealer(passphrase, salt []byte, random io.Reader) (*Sealer, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	random = RandomSource(random)
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := io.ReadFull(random, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size: got %d, want %d", len(salt), SaltSize)
	}

	s := &Sealer{salt: Clone(salt), rand: random}
	derived := pbkdf2.Key(passphrase, s.salt, PBKDF2Iterations, sealKeySize, sha256.New)
	copy(s.key[:], derived)
	Wipe(derived)

	NewLogger("crypto", "NewSealer").
		WithField("iterations", PBKDF2Iterations).
		WithSecret("salt", s.salt).
		Debug("Derived sealing key")
	return s, nil
}

// SealedSalt extracts the salt from sealed data so the key can be re-derived.
func SealedSalt(data []byte) ([]byte, error) {
	if len(data) < sealHeader+sealNonceSize+sealTagSize {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(data))
	}
	if v := binary.BigEndian.Uint16(data[0:2]); v != SealVersion {
		return nil, fmt.Errorf("unsupported seal version: %d (expected %d)", v, SealVersion)
	}
	return Clone(data[2:sealHeader]), nil
}

func (s *Sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext. The version and salt are authenticated as
// associated data.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	out := make([]byte, sealHeader+sealNonceSize, sealHeader+sealNonceSize+len(plaintext)+gcm.Overhead())
	binary.BigEndian.PutUint16(out[0:2], SealVersion)
	copy(out[2:sealHeader], s.salt)
	nonce := out[sealHeader:]
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(out, nonce, plaintext, out[:sealHeader]), nil
}

// Open authenticates and decrypts data produced by Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	salt, err := SealedSalt(data)
	if err != nil {
		return nil, err
	}
	if string(salt) != string(s.salt) {
		NewLogger("crypto", "Sealer.Open").WithError(ErrSealOpen, "salt check").Warn("Sealed data belongs to another key")
		return nil, ErrSealOpen
	}
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := data[sealHeader : sealHeader+sealNonceSize]
	plaintext, err := gcm.Open(nil, nonce, data[sealHeader+sealNonceSize:], data[:sealHeader])
	if err != nil {
		NewLogger("crypto", "Sealer.Open").WithError(err, "gcm open").Warn("Failed to authenticate sealed data")
		return nil, ErrSealOpen
	}
	return plaintext, nil
}

// Close wipes the derived key.
func (s *Sealer) Close() {
	Wipe(s.key[:])
}
