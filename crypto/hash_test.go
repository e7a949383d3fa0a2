package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestHashFor(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "S256", size: 32},
		{name: "S384", size: 48},
		{name: "SKN2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := HashFor(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownAlgorithm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, h.Name())
			assert.Equal(t, tt.size, h.Size())
			assert.Len(t, h.Sum([]byte("abc")), tt.size)
		})
	}
}

func TestHash_SumConcatenates(t *testing.T) {
	h := SHA256()
	assert.Equal(t, h.Sum([]byte("hello world")), h.Sum([]byte("hello"), []byte(" "), []byte("world")))
}

func TestHash_KDFKnownAnswer(t *testing.T) {
	ki := make([]byte, 32)
	for i := range ki {
		ki[i] = byte(i)
	}
	h := SHA256()

	sas := h.KDF(ki, "SAS", []byte("context"), 256)
	assert.Equal(t, mustHex(t, "342b7314a536fb2c3e1ca33f4aa35d210555cc7d0d4abdc38f1fdf6603d8b06b"), sas)

	salt := h.KDF(ki, "Initiator SRTP master salt", []byte("context"), 112)
	assert.Equal(t, mustHex(t, "d25e0c5441f3bb972f5c6dfd840e"), salt)
}

func TestHash_KDFDeterministic(t *testing.T) {
	h := SHA256()
	ki := []byte("shared secret s0")
	a := h.KDF(ki, "Initiator SRTP master key", []byte("zidi|zidr|total"), 128)
	b := h.KDF(ki, "Initiator SRTP master key", []byte("zidi|zidr|total"), 128)
	c := h.KDF(ki, "Responder SRTP master key", []byte("zidi|zidr|total"), 128)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestHash_MAC64(t *testing.T) {
	h := SHA256()
	mac := h.MAC64([]byte("key"), []byte("GoClear "))
	assert.Equal(t, mustHex(t, "6e6624e777a8b7f6"), mac)
	assert.True(t, h.VerifyMAC64(mac, []byte("key"), []byte("GoClear ")))

	mac[0] ^= 0xff
	assert.False(t, h.VerifyMAC64(mac, []byte("key"), []byte("GoClear ")))
	assert.False(t, h.VerifyMAC64(mac[:4], []byte("key"), []byte("GoClear ")))
}
