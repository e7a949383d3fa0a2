package packet

import (
	"github.com/opd-ai/zrtp/algorithm"
)

const (
	commitDHWords    = 29
	commitMultiWords = 25
	// HVILength is the length of the hash value of the initiator.
	HVILength = 32
	// NonceLength is the multistream Commit nonce.
	NonceLength = 16
)

// Commit starts a key agreement. In DH mode it carries hvi, a commitment to
// DHPart2; in multistream mode a random nonce replaces hvi.
//
//	[HEADER(3)][H2(8)][ZID(3)][HASH][CIPHER][AUTH][PUBKEY][SAS]
//	[HVI(8) or NONCE(4)][MAC(2)]
type Commit struct {
	H2           []byte
	ZID          ZID
	Hash         algorithm.Name
	Cipher       algorithm.Name
	AuthTag      algorithm.Name
	KeyAgreement algorithm.Name
	SASType      algorithm.Name
	HVI          []byte
	Nonce        []byte
	MAC          []byte
}

// IsMultiStream reports whether the commit selects multistream mode.
func (c *Commit) IsMultiStream() bool {
	return c.KeyAgreement == algorithm.Mult
}

// Serialize encodes the Commit.
func (c *Commit) Serialize() ([]byte, error) {
	words := commitDHWords
	if c.IsMultiStream() {
		words = commitMultiWords
	}
	msg := newMessage(TypeCommit, words)
	if err := putFixed(msg[12:44], c.H2, "H2"); err != nil {
		return nil, err
	}
	copy(msg[44:56], c.ZID[:])
	for i, n := range []algorithm.Name{c.Hash, c.Cipher, c.AuthTag, c.KeyAgreement, c.SASType} {
		w := n.Wire()
		copy(msg[56+4*i:60+4*i], w[:])
	}

	if c.IsMultiStream() {
		if err := putFixed(msg[76:92], c.Nonce, "nonce"); err != nil {
			return nil, err
		}
	} else {
		if err := putFixed(msg[76:108], c.HVI, "hvi"); err != nil {
			return nil, err
		}
	}
	if c.MAC != nil {
		if err := putFixed(TrailingMAC(msg), c.MAC, "MAC"); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// ParseCommit decodes a Commit in either mode. The length must match the
// mode implied by the key agreement field.
func ParseCommit(msg []byte) (*Commit, error) {
	if err := expect(msg, TypeCommit, commitMultiWords); err != nil {
		return nil, err
	}
	c := &Commit{
		H2:           cloneBytes(msg[12:44]),
		Hash:         algorithm.FromWire(msg[56:60]),
		Cipher:       algorithm.FromWire(msg[60:64]),
		AuthTag:      algorithm.FromWire(msg[64:68]),
		KeyAgreement: algorithm.FromWire(msg[68:72]),
		SASType:      algorithm.FromWire(msg[72:76]),
	}
	copy(c.ZID[:], msg[44:56])

	if c.IsMultiStream() {
		if len(msg) != commitMultiWords*4 {
			return nil, invalidLength(TypeCommit, len(msg))
		}
		c.Nonce = cloneBytes(msg[76:92])
	} else {
		if len(msg) != commitDHWords*4 {
			return nil, invalidLength(TypeCommit, len(msg))
		}
		c.HVI = cloneBytes(msg[76:108])
	}
	c.MAC = cloneBytes(TrailingMAC(msg))
	return c, nil
}
