package packet

import (
	"fmt"
)

const (
	dhPartFixedWords = 21
	// SecretIDLength is the length of rs1ID, rs2ID, auxsecretID and pbxsecretID.
	SecretIDLength = 8
)

// DHPart carries a Diffie-Hellman public value and the IDs of the shared
// secrets the sender holds. Type selects DHPart1 (responder) or DHPart2
// (initiator).
//
//	[HEADER(3)][H1(8)][rs1ID(2)][rs2ID(2)][auxsecretID(2)][pbxsecretID(2)]
//	[PV(pvr)][MAC(2)]
type DHPart struct {
	Type        MessageType
	H1          []byte
	RS1ID       []byte
	RS2ID       []byte
	AuxSecretID []byte
	PBXSecretID []byte
	PublicValue []byte
	MAC         []byte
}

// Serialize encodes the DHPart. The public value must be a whole number of words.
func (d *DHPart) Serialize() ([]byte, error) {
	if d.Type != TypeDHPart1 && d.Type != TypeDHPart2 {
		return nil, fmt.Errorf("DHPart type must be DHPart1 or DHPart2, got %q", d.Type)
	}
	if len(d.PublicValue) == 0 || len(d.PublicValue)%4 != 0 {
		return nil, fmt.Errorf("public value length %d is not a positive multiple of 4", len(d.PublicValue))
	}
	msg := newMessage(d.Type, dhPartFixedWords+len(d.PublicValue)/4)
	if err := putFixed(msg[12:44], d.H1, "H1"); err != nil {
		return nil, err
	}
	ids := [][]byte{d.RS1ID, d.RS2ID, d.AuxSecretID, d.PBXSecretID}
	for i, id := range ids {
		off := 44 + i*SecretIDLength
		if err := putFixed(msg[off:off+SecretIDLength], id, "secret ID"); err != nil {
			return nil, err
		}
	}
	copy(msg[76:76+len(d.PublicValue)], d.PublicValue)
	if d.MAC != nil {
		if err := putFixed(TrailingMAC(msg), d.MAC, "MAC"); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// ParseDHPart decodes a DHPart1 or DHPart2 message. The public value length
// is whatever remains; the caller checks it against the negotiated group.
func ParseDHPart(msg []byte) (*DHPart, error) {
	t, err := MessageTypeOf(msg)
	if err != nil {
		return nil, err
	}
	if t != TypeDHPart1 && t != TypeDHPart2 {
		return nil, fmt.Errorf("%w: expected DHPart, got %s", ErrInvalidPacket, t.Short())
	}
	if len(msg) <= dhPartFixedWords*4 {
		return nil, invalidLength(t, len(msg))
	}
	d := &DHPart{
		Type:        t,
		H1:          cloneBytes(msg[12:44]),
		RS1ID:       cloneBytes(msg[44:52]),
		RS2ID:       cloneBytes(msg[52:60]),
		AuxSecretID: cloneBytes(msg[60:68]),
		PBXSecretID: cloneBytes(msg[68:76]),
		PublicValue: cloneBytes(msg[76 : len(msg)-MACLength]),
		MAC:         cloneBytes(TrailingMAC(msg)),
	}
	return d, nil
}
