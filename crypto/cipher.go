package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/twofish"
)

// CFBIVLength is the length of the CFB initialisation vector carried in
// Confirm and SASrelay messages.
const CFBIVLength = 16

// CipherKeyLength returns the key length in bytes for a ZRTP cipher name.
func CipherKeyLength(name string) (int, error) {
	switch name {
	case "AES1", "2FS1":
		return 16, nil
	case "AES2", "2FS2":
		return 24, nil
	case "AES3", "2FS3":
		return 32, nil
	default:
		return 0, fmt.Errorf("%w: cipher %q", ErrUnknownAlgorithm, name)
	}
}

func newBlock(name string, key []byte) (cipher.Block, error) {
	want, err := CipherKeyLength(name)
	if err != nil {
		return nil, err
	}
	if len(key) != want {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidKeySize, name, want, len(key))
	}

	switch name[0] {
	case 'A':
		return aes.NewCipher(key)
	default:
		return twofish.NewCipher(key)
	}
}

// CFBEncrypt encrypts data with the named cipher in 128-bit CFB mode and
// returns a new slice.
func CFBEncrypt(name string, key, iv, data []byte) ([]byte, error) {
	block, err := newBlock(name, key)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CFBEncrypt",
			"cipher":   name,
			"error":    err.Error(),
		}).Error("Failed to create block cipher")
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("CFB IV must be %d bytes, got %d", block.BlockSize(), len(iv))
	}

	out := make([]byte, len(data))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(out, data)
	return out, nil
}

// CFBDecrypt reverses CFBEncrypt.
func CFBDecrypt(name string, key, iv, data []byte) ([]byte, error) {
	block, err := newBlock(name, key)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CFBDecrypt",
			"cipher":   name,
			"error":    err.Error(),
		}).Error("Failed to create block cipher")
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("CFB IV must be %d bytes, got %d", block.BlockSize(), len(iv))
	}

	out := make([]byte, len(data))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(out, data)
	return out, nil
}
