package packet

import (
	"encoding/binary"
	"fmt"
)

const (
	confirmWords = 19
	// IVLength is the CFB initialization vector carried by Confirm and SASrelay.
	IVLength = 16
	// ConfirmBodyLength is the encrypted part of Confirm1/Confirm2 without
	// signature: H0, the flags word and the cache expiry interval.
	ConfirmBodyLength = HashImageLength + 4 + 4
	// CacheExpiryForever marks retained secrets that never expire.
	CacheExpiryForever uint32 = 0xffffffff
)

// Confirm flag bits (low byte of the flags word).
const (
	FlagEnrollment     = 0x08
	FlagSASVerified    = 0x04
	FlagAllowClear     = 0x02
	FlagDisclosure     = 0x01
	sigLenMask         = 0x1ff
	sigLenShift        = 8
	relayFlagsByteMask = 0x07
)

// Confirm is Confirm1 or Confirm2. Body holds the CFB-encrypted
// ConfirmBody; ConfirmMAC authenticates it.
//
//	[HEADER(3)][confirm_mac(2)][CFB IV(4)][encrypted body(10)]
type Confirm struct {
	Type       MessageType
	ConfirmMAC []byte
	IV         []byte
	Body       []byte
}

// Serialize encodes the Confirm.
func (c *Confirm) Serialize() ([]byte, error) {
	if c.Type != TypeConfirm1 && c.Type != TypeConfirm2 {
		return nil, fmt.Errorf("confirm type must be Confirm1 or Confirm2, got %q", c.Type)
	}
	msg := newMessage(c.Type, confirmWords)
	if err := putFixed(msg[12:20], c.ConfirmMAC, "confirm_mac"); err != nil {
		return nil, err
	}
	if err := putFixed(msg[20:36], c.IV, "IV"); err != nil {
		return nil, err
	}
	if err := putFixed(msg[36:], c.Body, "confirm body"); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseConfirm decodes Confirm1 or Confirm2. Confirms carrying a signature
// are longer than the fixed layout and are rejected.
func ParseConfirm(msg []byte) (*Confirm, error) {
	t, err := MessageTypeOf(msg)
	if err != nil {
		return nil, err
	}
	if t != TypeConfirm1 && t != TypeConfirm2 {
		return nil, fmt.Errorf("%w: expected Confirm, got %s", ErrInvalidPacket, t.Short())
	}
	if len(msg) != confirmWords*4 {
		return nil, invalidLength(t, len(msg))
	}
	return &Confirm{
		Type:       t,
		ConfirmMAC: cloneBytes(msg[12:20]),
		IV:         cloneBytes(msg[20:36]),
		Body:       cloneBytes(msg[36:]),
	}, nil
}

// ConfirmBody is the plaintext of the encrypted part of a Confirm.
type ConfirmBody struct {
	H0          []byte
	SigLength   uint16
	Enrollment  bool
	SASVerified bool
	AllowClear  bool
	Disclosure  bool
	CacheExpiry uint32
}

// Marshal encodes the body for encryption.
func (b *ConfirmBody) Marshal() ([]byte, error) {
	out := make([]byte, ConfirmBodyLength)
	if err := putFixed(out[:HashImageLength], b.H0, "H0"); err != nil {
		return nil, err
	}
	var flags uint32
	flags |= uint32(b.SigLength&sigLenMask) << sigLenShift
	if b.Enrollment {
		flags |= FlagEnrollment
	}
	if b.SASVerified {
		flags |= FlagSASVerified
	}
	if b.AllowClear {
		flags |= FlagAllowClear
	}
	if b.Disclosure {
		flags |= FlagDisclosure
	}
	binary.BigEndian.PutUint32(out[32:36], flags)
	binary.BigEndian.PutUint32(out[36:40], b.CacheExpiry)
	return out, nil
}

// ParseConfirmBody decodes a decrypted Confirm body.
func ParseConfirmBody(data []byte) (*ConfirmBody, error) {
	if len(data) != ConfirmBodyLength {
		return nil, fmt.Errorf("%w: confirm body length %d", ErrInvalidPacket, len(data))
	}
	flags := binary.BigEndian.Uint32(data[32:36])
	return &ConfirmBody{
		H0:          cloneBytes(data[:HashImageLength]),
		SigLength:   uint16(flags>>sigLenShift) & sigLenMask,
		Enrollment:  flags&FlagEnrollment != 0,
		SASVerified: flags&FlagSASVerified != 0,
		AllowClear:  flags&FlagAllowClear != 0,
		Disclosure:  flags&FlagDisclosure != 0,
		CacheExpiry: binary.BigEndian.Uint32(data[36:40]),
	}, nil
}
