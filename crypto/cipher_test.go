package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCFB_RoundTrip(t *testing.T) {
	iv := bytes.Repeat([]byte{0x42}, CFBIVLength)
	plaintext := []byte("H0 hash image plus flags and expiry, not block aligned")

	for _, name := range []string{"AES1", "AES3", "2FS1", "2FS3"} {
		t.Run(name, func(t *testing.T) {
			keyLen, err := CipherKeyLength(name)
			require.NoError(t, err)
			key := bytes.Repeat([]byte{0x07}, keyLen)

			ct, err := CFBEncrypt(name, key, iv, plaintext)
			require.NoError(t, err)
			assert.Len(t, ct, len(plaintext))
			assert.NotEqual(t, plaintext, ct)

			pt, err := CFBDecrypt(name, key, iv, ct)
			require.NoError(t, err)
			assert.Equal(t, plaintext, pt)
		})
	}
}

func TestCFB_Errors(t *testing.T) {
	iv := make([]byte, CFBIVLength)

	_, err := CFBEncrypt("AES1", make([]byte, 32), iv, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = CFBEncrypt("NULL", make([]byte, 16), iv, []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = CFBDecrypt("AES1", make([]byte, 16), iv[:8], []byte("x"))
	assert.Error(t, err)
}

func TestCFB_AESAndTwofishDiffer(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, CFBIVLength)
	data := make([]byte, 32)

	a, err := CFBEncrypt("AES1", key, iv, data)
	require.NoError(t, err)
	b, err := CFBEncrypt("2FS1", key, iv, data)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
