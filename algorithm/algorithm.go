// Package algorithm describes the algorithm families ZRTP negotiates and the
// per-endpoint ordered configuration advertised in Hello.
//
// A Configuration holds, for each Category, an ordered preference list of
// four-character wire names. Negotiate picks, for one category, the first
// entry of the initiator's list that the peer also offers; the mandatory
// algorithms of RFC 6189 are implicitly part of every peer's offer.
package algorithm

import (
	"errors"
	"fmt"
)

// Name is a four-character ZRTP algorithm name as it appears on the wire.
type Name string

// Category is one of the five negotiated algorithm families.
type Category int

const (
	// Hash is the hash used for the KDF, MACs and total_hash.
	Hash Category = iota
	// Cipher is the symmetric cipher for SRTP and the Confirm body.
	Cipher
	// AuthLength is the SRTP authentication tag type.
	AuthLength
	// KeyAgreement is the Diffie-Hellman group or multistream mode.
	KeyAgreement
	// SASType is the SAS rendering scheme.
	SASType
)

// Categories lists all categories in Hello wire order.
var Categories = []Category{Hash, Cipher, AuthLength, KeyAgreement, SASType}

func (c Category) String() string {
	switch c {
	case Hash:
		return "hash"
	case Cipher:
		return "cipher"
	case AuthLength:
		return "auth"
	case KeyAgreement:
		return "pubkey"
	case SASType:
		return "sas"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Algorithm names known to this implementation.
const (
	S256 Name = "S256"
	S384 Name = "S384"

	AES1   Name = "AES1"
	AES3   Name = "AES3"
	TwoFS1 Name = "2FS1"
	TwoFS3 Name = "2FS3"

	HS32 Name = "HS32"
	HS80 Name = "HS80"

	DH2k Name = "DH2k"
	DH3k Name = "DH3k"
	EC25 Name = "EC25"
	EC38 Name = "EC38"
	E255 Name = "E255"
	Mult Name = "Mult"

	B32  Name = "B32 "
	B256 Name = "B256"
)

// MaxPerCategory is the largest count a Hello nibble field may carry.
const MaxPerCategory = 7

var (
	// ErrNoCommonAlgorithm indicates that the two Hello messages share no
	// algorithm in a category.
	ErrNoCommonAlgorithm = errors.New("no common algorithm")

	// ErrUnsupportedAlgorithm indicates a name this implementation cannot use.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

var known = map[Category][]Name{
	Hash:         {S256, S384},
	Cipher:       {AES1, AES3, TwoFS1, TwoFS3},
	AuthLength:   {HS32, HS80},
	KeyAgreement: {DH2k, DH3k, EC25, EC38, E255, Mult},
	SASType:      {B32, B256},
}

var mandatory = map[Category][]Name{
	Hash:         {S256},
	Cipher:       {AES1},
	AuthLength:   {HS32, HS80},
	KeyAgreement: {DH3k},
	SASType:      {B32},
}

// Known reports whether n is implemented for category c.
func Known(c Category, n Name) bool {
	for _, k := range known[c] {
		if k == n {
			return true
		}
	}
	return false
}

// Mandatory returns the algorithms every ZRTP endpoint implements for c.
func Mandatory(c Category) []Name {
	return append([]Name(nil), mandatory[c]...)
}

// Wire returns the name as the raw four bytes used on the wire, padded with
// spaces.
func (n Name) Wire() [4]byte {
	var out [4]byte
	copy(out[:], "    ")
	copy(out[:], n)
	return out
}

// FromWire converts four raw bytes back into a Name.
func FromWire(b []byte) Name {
	return Name(b[:4])
}

// Trimmed returns the name without its space padding, as used by the crypto
// package ("B32 " becomes "B32").
func (n Name) Trimmed() string {
	s := string(n)
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

// IsDH reports whether a key agreement name performs a Diffie-Hellman exchange.
func (n Name) IsDH() bool {
	return n != Mult && Known(KeyAgreement, n)
}
