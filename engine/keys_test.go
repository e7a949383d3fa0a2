package engine

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/packet"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func testZIDs() (packet.ZID, packet.ZID) {
	var zidi, zidr packet.ZID
	copy(zidi[:], "initiator-zi")
	copy(zidr[:], "responder-zr")
	return zidi, zidr
}

func TestComputeS0Layout(t *testing.T) {
	h := crypto.SHA256()
	zidi, zidr := testZIDs()
	dh := bytes.Repeat([]byte{0x11}, 32)
	th := bytes.Repeat([]byte{0x22}, 32)
	s1 := bytes.Repeat([]byte{0x33}, 32)

	want := h.Sum(
		[]byte{0, 0, 0, 1}, dh, []byte("ZRTP-HMAC-KDF"), zidi[:], zidr[:], th,
		[]byte{0, 0, 0, 32}, s1,
		[]byte{0, 0, 0, 0},
		[]byte{0, 0, 0, 0},
	)
	assert.Equal(t, want, computeS0(h, dh, zidi, zidr, th, s1, nil, nil))

	// The secrets are positional.
	assert.NotEqual(t, computeS0(h, dh, zidi, zidr, th, s1, nil, nil), computeS0(h, dh, zidi, zidr, th, nil, s1, nil))
	// Swapping the ZIDs changes s0.
	assert.NotEqual(t, computeS0(h, dh, zidi, zidr, th, nil, nil, nil), computeS0(h, dh, zidr, zidi, th, nil, nil, nil))
}

func TestDeriveKeys(t *testing.T) {
	h := crypto.SHA256()
	zidi, zidr := testZIDs()
	ctx := kdfContext(zidi, zidr, bytes.Repeat([]byte{0x44}, 32))
	require.Len(t, ctx, 2*packet.ZIDLength+32)
	assert.Equal(t, zidi[:], ctx[:packet.ZIDLength])

	s0 := bytes.Repeat([]byte{0x55}, 32)
	k1 := deriveKeys(h, s0, ctx, 16)
	k2 := deriveKeys(h, s0, ctx, 16)
	assert.Equal(t, k1, k2)

	assert.Len(t, k1.srtpKeyI, 16)
	assert.Len(t, k1.srtpSaltI, 14)
	assert.Len(t, k1.sasHash, 32)
	assert.Len(t, k1.newRS, 32)
	assert.Len(t, k1.macKeyI, h.Size())
	assert.Len(t, k1.sasValue(), crypto.SASValueLength)
	assert.NotEqual(t, k1.macKey(Initiator), k1.macKey(Responder))
	assert.NotEqual(t, k1.zrtpKey(Initiator), k1.zrtpKey(Responder))
	assert.Equal(t, h.KDF(s0, "SAS", ctx, 256), k1.sasHash)

	k256 := deriveKeys(h, s0, ctx, 32)
	assert.Len(t, k256.srtpKeyR, 32)

	k1.wipe()
	assert.Equal(t, make([]byte, 16), k1.srtpKeyI)
}

func TestMultiStreamS0DependsOnContext(t *testing.T) {
	h := crypto.SHA256()
	zidi, zidr := testZIDs()
	session := randomBytes(32)

	a := multiStreamS0(h, session, kdfContext(zidi, zidr, []byte("first")))
	b := multiStreamS0(h, session, kdfContext(zidi, zidr, []byte("second")))
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestHashChain(t *testing.T) {
	sha := crypto.SHA256()
	h0 := randomBytes(32)
	h1, h2, h3 := hashChain(h0)
	assert.Equal(t, sha.Sum(h0), h1)
	assert.Equal(t, sha.Sum(h1), h2)
	assert.Equal(t, sha.Sum(h2), h3)
}

func TestHviTruncated(t *testing.T) {
	h, err := crypto.HashFor("S384")
	require.NoError(t, err)
	v := hvi(h, []byte("dhpart2"), []byte("hello"))
	assert.Len(t, v, packet.HVILength)
	assert.Equal(t, h.Sum([]byte("dhpart2"), []byte("hello"))[:packet.HVILength], v)
}

// exchange builds the DHPart ID fields one side sends.
func exchange(h *crypto.Hash, s *sharedSecrets, role Role, h3 []byte) *packet.DHPart {
	ids := s.ids(h, role, h3, randomBytes)
	return &packet.DHPart{RS1ID: ids.rs1, RS2ID: ids.rs2, AuxSecretID: ids.aux, PBXSecretID: ids.pbx}
}

func TestSecretMatchOrder(t *testing.T) {
	h := crypto.SHA256()
	x, y := randomBytes(32), randomBytes(32)
	h3i, h3r := randomBytes(32), randomBytes(32)

	tests := []struct {
		name      string
		initiator sharedSecrets
		responder sharedSecrets
		want      []byte
	}{
		{"rs1 matches rs1", sharedSecrets{rs1: x, rs2: y}, sharedSecrets{rs1: x, rs2: y}, x},
		{"initiator rs1 matches responder rs2", sharedSecrets{rs1: x}, sharedSecrets{rs1: y, rs2: x}, x},
		{"initiator rs2 matches responder rs1", sharedSecrets{rs1: y, rs2: x}, sharedSecrets{rs1: x}, x},
		{"crossed secrets prefer initiator rs1", sharedSecrets{rs1: x, rs2: y}, sharedSecrets{rs1: y, rs2: x}, x},
		{"rs2 matches rs2", sharedSecrets{rs1: randomBytes(32), rs2: y}, sharedSecrets{rs1: randomBytes(32), rs2: y}, y},
		{"no match", sharedSecrets{rs1: x}, sharedSecrets{rs1: y}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fromI := exchange(h, &tt.initiator, Initiator, h3i)
			fromR := exchange(h, &tt.responder, Responder, h3r)

			atI := tt.initiator.match(h, fromR, Responder, h3r)
			atR := tt.responder.match(h, fromI, Initiator, h3i)
			assert.Equal(t, tt.want, atI.s1)
			assert.Equal(t, tt.want, atR.s1)
			assert.Equal(t, tt.want == nil, atI.mismatch)
			assert.Equal(t, tt.want == nil, atR.mismatch)
		})
	}
}

func TestSecretMatchAuxAndPBX(t *testing.T) {
	h := crypto.SHA256()
	aux, pbx := randomBytes(32), randomBytes(32)
	h3i, h3r := randomBytes(32), randomBytes(32)

	initiator := sharedSecrets{aux: aux, pbx: pbx}
	responder := sharedSecrets{aux: aux, pbx: pbx}
	m := responder.match(h, exchange(h, &initiator, Initiator, h3i), Initiator, h3i)
	assert.Equal(t, aux, m.s2)
	assert.Equal(t, pbx, m.s3)
	assert.Nil(t, m.s1)
	assert.False(t, m.mismatch, "no retained secret means nothing to mismatch")

	// The aux ID is bound to the sender's H3.
	m = responder.match(h, exchange(h, &initiator, Initiator, h3i), Initiator, h3r)
	assert.Nil(t, m.s2)

	other := sharedSecrets{aux: randomBytes(32)}
	m = other.match(h, exchange(h, &initiator, Initiator, h3i), Initiator, h3i)
	assert.Nil(t, m.s2)
	assert.Nil(t, m.s3)
}
