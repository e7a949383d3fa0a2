package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
)

// MACLength is the length in bytes of the truncated MACs carried in ZRTP
// messages (Hello, Commit, DHPart, Confirm, GoClear).
const MACLength = 8

// Hash bundles one negotiated hash function with the HMAC and KDF built on it.
type Hash struct {
	name  string
	newFn func() hash.Hash
	size  int
}

var (
	sha256Hash = &Hash{name: "S256", newFn: sha256.New, size: sha256.Size}
	sha384Hash = &Hash{name: "S384", newFn: sha512.New384, size: sha512.Size384}
)

// HashFor returns the hash registered under the ZRTP algorithm name.
func HashFor(name string) (*Hash, error) {
	switch name {
	case "S256":
		return sha256Hash, nil
	case "S384":
		return sha384Hash, nil
	default:
		return nil, fmt.Errorf("%w: hash %q", ErrUnknownAlgorithm, name)
	}
}

// SHA256 is the implicit hash used for the H0..H3 hash chain and for Hello
// MACs, which are computed before any hash has been negotiated.
func SHA256() *Hash { return sha256Hash }

// Name returns the wire name of the hash.
func (h *Hash) Name() string { return h.name }

// Size returns the digest length in bytes.
func (h *Hash) Size() int { return h.size }

// New returns a fresh hash.Hash state.
func (h *Hash) New() hash.Hash { return h.newFn() }

// Sum hashes the concatenation of all parts.
func (h *Hash) Sum(parts ...[]byte) []byte {
	d := h.newFn()
	for _, p := range parts {
		d.Write(p)
	}
	return d.Sum(nil)
}

// HMAC computes HMAC(key, parts...) over the concatenation of all parts.
func (h *Hash) HMAC(key []byte, parts ...[]byte) []byte {
	m := hmac.New(h.newFn, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// MAC64 returns the leftmost 64 bits of HMAC(key, parts...).
func (h *Hash) MAC64(key []byte, parts ...[]byte) []byte {
	return h.HMAC(key, parts...)[:MACLength]
}

// VerifyMAC64 checks a truncated MAC in constant time.
func (h *Hash) VerifyMAC64(mac, key []byte, parts ...[]byte) bool {
	if len(mac) != MACLength {
		return false
	}
	return hmac.Equal(mac, h.MAC64(key, parts...))
}

// KDF is the single-iteration counter-mode KDF of RFC 6189 section 4.5.1:
//
//	KDF(KI, Label, Context, L) = HMAC(KI, i || Label || 0x00 || Context || L)
//
// with i = 1 and L the requested length in bits, both as 32-bit big-endian
// integers. The result is truncated to L bits; L must not exceed the hash
// length.
func (h *Hash) KDF(ki []byte, label string, context []byte, bits int) []byte {
	var counter, length [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)
	binary.BigEndian.PutUint32(length[:], uint32(bits))

	out := h.HMAC(ki, counter[:], []byte(label), []byte{0x00}, context, length[:])
	n := bits / 8
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}
