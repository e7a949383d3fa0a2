package crypto

import (
	"crypto/ecdh"
	"fmt"
	"io"
	"math/big"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
)

// DHGroup is one of the key agreement groups ZRTP can negotiate.
type DHGroup interface {
	// Name returns the wire name, e.g. "DH3k" or "EC25".
	Name() string
	// PublicValueLength is the length of pvi/pvr in DHPart messages.
	PublicValueLength() int
	// GenerateKey creates a fresh ephemeral key pair.
	GenerateKey(rand io.Reader) (DHPrivateKey, error)
}

// DHPrivateKey is an ephemeral private key.
type DHPrivateKey interface {
	// PublicValue returns the encoded public value sent to the peer.
	PublicValue() []byte
	// SharedSecret computes DHResult from the peer's public value.
	SharedSecret(peer []byte) ([]byte, error)
	// Wipe overwrites the private part.
	Wipe()
}

// RFC 3526 MODP groups 14 and 15, generator 2.
const (
	modp2048Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF"

	modp3072Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AAAC42DAD33170D04507A33" +
		"A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
		"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6BF12FFA06D98A0864" +
		"D87602733EC86A64521F2B18177B200CBBE117577A615D6C770988C0BAD946E2" +
		"08E24FA074E5AB3143DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"
)

var (
	dh2k = newFiniteFieldGroup("DH2k", modp2048Hex, 256)
	dh3k = newFiniteFieldGroup("DH3k", modp3072Hex, 256)
	ec25 = &ecGroup{name: "EC25", curve: ecdh.P256(), coordLen: 32}
	ec38 = &ecGroup{name: "EC38", curve: ecdh.P384(), coordLen: 48}
	e255 = x25519Group{}
)

// DHGroupFor returns the key agreement group for a ZRTP algorithm name.
func DHGroupFor(name string) (DHGroup, error) {
	switch name {
	case "DH2k":
		return dh2k, nil
	case "DH3k":
		return dh3k, nil
	case "EC25":
		return ec25, nil
	case "EC38":
		return ec38, nil
	case "E255":
		return e255, nil
	default:
		return nil, fmt.Errorf("%w: key agreement %q", ErrUnknownAlgorithm, name)
	}
}

// finiteFieldGroup is a MODP group with generator 2.
type finiteFieldGroup struct {
	name         string
	p            *big.Int
	pMinusOne    *big.Int
	g            *big.Int
	length       int
	exponentBits int
}

func newFiniteFieldGroup(name, primeHex string, exponentBits int) *finiteFieldGroup {
	p, ok := new(big.Int).SetString(primeHex, 16)
	if !ok {
		panic("crypto: bad MODP prime for " + name)
	}
	return &finiteFieldGroup{
		name:         name,
		p:            p,
		pMinusOne:    new(big.Int).Sub(p, big.NewInt(1)),
		g:            big.NewInt(2),
		length:       (p.BitLen() + 7) / 8,
		exponentBits: exponentBits,
	}
}

func (g *finiteFieldGroup) Name() string           { return g.name }
func (g *finiteFieldGroup) PublicValueLength() int { return g.length }

func (g *finiteFieldGroup) GenerateKey(rand io.Reader) (DHPrivateKey, error) {
	buf := make([]byte, g.exponentBits/8)
	if _, err := io.ReadFull(rand, buf); err != nil {
		return nil, fmt.Errorf("failed to generate %s exponent: %w", g.name, err)
	}
	x := new(big.Int).SetBytes(buf)
	Wipe(buf)
	if x.Sign() == 0 {
		x.SetInt64(1)
	}

	pub := new(big.Int).Exp(g.g, x, g.p)
	return &finiteFieldKey{group: g, x: x, pub: pub.FillBytes(make([]byte, g.length))}, nil
}

type finiteFieldKey struct {
	group *finiteFieldGroup
	x     *big.Int
	pub   []byte
}

func (k *finiteFieldKey) PublicValue() []byte { return k.pub }

func (k *finiteFieldKey) SharedSecret(peer []byte) ([]byte, error) {
	if len(peer) != k.group.length {
		return nil, fmt.Errorf("%w: %s value has %d bytes, want %d", ErrBadPublicValue, k.group.name, len(peer), k.group.length)
	}
	y := new(big.Int).SetBytes(peer)
	// 0, 1 and p-1 (and anything >= p) give a predictable result.
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(k.group.pMinusOne) >= 0 {
		logrus.WithFields(logrus.Fields{
			"function": "finiteFieldKey.SharedSecret",
			"group":    k.group.name,
		}).Warn("Rejected degenerate DH public value")
		return nil, fmt.Errorf("%w: degenerate %s value", ErrBadPublicValue, k.group.name)
	}
	s := new(big.Int).Exp(y, k.x, k.group.p)
	return s.FillBytes(make([]byte, k.group.length)), nil
}

func (k *finiteFieldKey) Wipe() {
	if k.x != nil {
		k.x.SetInt64(0)
	}
}

// ecGroup is a NIST curve; public values are X || Y without the 0x04 prefix.
type ecGroup struct {
	name     string
	curve    ecdh.Curve
	coordLen int
}

func (g *ecGroup) Name() string           { return g.name }
func (g *ecGroup) PublicValueLength() int { return 2 * g.coordLen }

func (g *ecGroup) GenerateKey(rand io.Reader) (DHPrivateKey, error) {
	priv, err := g.curve.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", g.name, err)
	}
	return &ecKey{group: g, priv: priv}, nil
}

type ecKey struct {
	group *ecGroup
	priv  *ecdh.PrivateKey
}

func (k *ecKey) PublicValue() []byte {
	// Drop the uncompressed-point marker.
	return k.priv.PublicKey().Bytes()[1:]
}

func (k *ecKey) SharedSecret(peer []byte) ([]byte, error) {
	if len(peer) != k.group.PublicValueLength() {
		return nil, fmt.Errorf("%w: %s value has %d bytes, want %d", ErrBadPublicValue, k.group.name, len(peer), k.group.PublicValueLength())
	}
	encoded := make([]byte, 1+len(peer))
	encoded[0] = 0x04
	copy(encoded[1:], peer)

	pub, err := k.group.curve.NewPublicKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicValue, err)
	}
	s, err := k.priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicValue, err)
	}
	return s, nil
}

func (k *ecKey) Wipe() { k.priv = nil }

// x25519Group is Curve25519 ("E255").
type x25519Group struct{}

func (x25519Group) Name() string           { return "E255" }
func (x25519Group) PublicValueLength() int { return curve25519.PointSize }

func (x25519Group) GenerateKey(rand io.Reader) (DHPrivateKey, error) {
	k := &x25519Key{}
	if _, err := io.ReadFull(rand, k.scalar[:]); err != nil {
		return nil, fmt.Errorf("failed to generate E255 key: %w", err)
	}
	pub, err := curve25519.X25519(k.scalar[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive E255 public value: %w", err)
	}
	k.pub = pub
	return k, nil
}

type x25519Key struct {
	scalar [curve25519.ScalarSize]byte
	pub    []byte
}

func (k *x25519Key) PublicValue() []byte { return k.pub }

func (k *x25519Key) SharedSecret(peer []byte) ([]byte, error) {
	if len(peer) != curve25519.PointSize {
		return nil, fmt.Errorf("%w: E255 value has %d bytes", ErrBadPublicValue, len(peer))
	}
	s, err := curve25519.X25519(k.scalar[:], peer)
	if err != nil {
		// Low-order points produce an all-zero output.
		return nil, fmt.Errorf("%w: %v", ErrBadPublicValue, err)
	}
	return s, nil
}

func (k *x25519Key) Wipe() { Wipe(k.scalar[:]) }
