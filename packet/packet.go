package packet

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/opd-ai/zrtp/limits"
)

const (
	// HeaderLength is the ZRTP packet header: flags, sequence, cookie, SSRC.
	HeaderLength = 12
	// CRCLength is the trailing CRC-32C.
	CRCLength = 4
	// MagicCookie is "ZRTP" in ASCII; it separates ZRTP from RTP/STUN traffic.
	MagicCookie uint32 = 0x5a525450
	// Preamble starts every ZRTP message.
	Preamble uint16 = 0x505a
	// MessageHeaderLength covers preamble, length and the 8-byte type block.
	MessageHeaderLength = 12
	// ZIDLength is the length of a ZRTP identifier.
	ZIDLength = 12
	// HashImageLength is the length of H0..H3.
	HashImageLength = 32
	// MACLength is the length of the truncated message MACs.
	MACLength = 8

	firstByte = 0x10
)

var (
	// ErrInvalidPacket indicates bytes that are not a well-formed ZRTP packet
	// or message. Such packets are dropped without affecting the session.
	ErrInvalidPacket = errors.New("invalid ZRTP packet")

	crcTable = crc32.MakeTable(crc32.Castagnoli)
)

// ZID is a 96-bit ZRTP endpoint identifier.
type ZID [ZIDLength]byte

// String returns the ZID in lower-case hex.
func (z ZID) String() string { return hex.EncodeToString(z[:]) }

// IsZero reports whether the ZID is unset.
func (z ZID) IsZero() bool { return z == ZID{} }

// ParseZID decodes a 24-character hex string.
func ParseZID(s string) (ZID, error) {
	var z ZID
	b, err := hex.DecodeString(s)
	if err != nil {
		return z, fmt.Errorf("invalid ZID %q: %w", s, err)
	}
	if len(b) != ZIDLength {
		return z, fmt.Errorf("invalid ZID %q: want %d bytes, got %d", s, ZIDLength, len(b))
	}
	copy(z[:], b)
	return z, nil
}

// MarshalText encodes the ZID as hex so it can key JSON documents.
func (z ZID) MarshalText() ([]byte, error) { return []byte(z.String()), nil }

// UnmarshalText decodes a hex ZID.
func (z *ZID) UnmarshalText(text []byte) error {
	parsed, err := ParseZID(string(text))
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}

// Packet is one ZRTP packet as carried on the media path:
//
//	|0 0 0 1|0 0 0 0|0 0 0 0 0 0 0 0|      Sequence Number          |
//	|                 Magic Cookie 'ZRTP' (0x5a525450)              |
//	|                        Source Identifier                      |
//	|           ZRTP Message (length depends on Message Type)       |
//	|                          CRC (1 word)                         |
type Packet struct {
	Sequence uint16
	SSRC     uint32
	Message  []byte
}

// Serialize encodes the packet and appends the CRC-32C over header and message.
func (p *Packet) Serialize() []byte {
	out := make([]byte, HeaderLength+len(p.Message)+CRCLength)
	out[0] = firstByte
	binary.BigEndian.PutUint16(out[2:4], p.Sequence)
	binary.BigEndian.PutUint32(out[4:8], MagicCookie)
	binary.BigEndian.PutUint32(out[8:12], p.SSRC)
	copy(out[HeaderLength:], p.Message)

	end := HeaderLength + len(p.Message)
	// The CRC trailer is byte-swapped relative to the header fields.
	binary.LittleEndian.PutUint32(out[end:], crc32.Checksum(out[:end], crcTable))
	return out
}

// IsZRTP reports whether data looks like a ZRTP packet (first nibble 0001 and
// the magic cookie). It does not check the CRC.
func IsZRTP(data []byte) bool {
	return len(data) >= HeaderLength &&
		data[0] == firstByte &&
		binary.BigEndian.Uint32(data[4:8]) == MagicCookie
}

// Parse validates the packet header, CRC and message header and returns the
// packet. Any mismatch yields ErrInvalidPacket.
func Parse(data []byte) (*Packet, error) {
	if len(data) > limits.MaxPacketLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrInvalidPacket, len(data), limits.MaxPacketLength)
	}
	if len(data) < HeaderLength+MessageHeaderLength+CRCLength {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrInvalidPacket, len(data))
	}
	if !IsZRTP(data) {
		return nil, fmt.Errorf("%w: bad header or magic cookie", ErrInvalidPacket)
	}

	end := len(data) - CRCLength
	if crc32.Checksum(data[:end], crcTable) != binary.LittleEndian.Uint32(data[end:]) {
		return nil, fmt.Errorf("%w: CRC mismatch", ErrInvalidPacket)
	}

	msg := data[HeaderLength:end]
	if _, err := MessageTypeOf(msg); err != nil {
		return nil, err
	}

	return &Packet{
		Sequence: binary.BigEndian.Uint16(data[2:4]),
		SSRC:     binary.BigEndian.Uint32(data[8:12]),
		Message:  append([]byte(nil), msg...),
	}, nil
}

// MessageTypeOf validates the message preamble and length field and returns
// the type tag.
func MessageTypeOf(msg []byte) (MessageType, error) {
	if len(msg) < MessageHeaderLength {
		return "", fmt.Errorf("%w: message too short", ErrInvalidPacket)
	}
	if binary.BigEndian.Uint16(msg[0:2]) != Preamble {
		return "", fmt.Errorf("%w: bad preamble", ErrInvalidPacket)
	}
	words := int(binary.BigEndian.Uint16(msg[2:4]))
	if words*4 != len(msg) {
		return "", fmt.Errorf("%w: length field %d words does not match %d bytes", ErrInvalidPacket, words, len(msg))
	}
	t := MessageType(msg[4:12])
	if !t.Known() {
		return "", fmt.Errorf("%w: unknown message type %q", ErrInvalidPacket, string(t))
	}
	return t, nil
}

// MACInput returns the part of a message covered by its trailing MAC.
func MACInput(msg []byte) []byte {
	if len(msg) < MACLength {
		return nil
	}
	return msg[:len(msg)-MACLength]
}

// SetMAC writes mac into the trailing MAC field of msg.
func SetMAC(msg, mac []byte) {
	copy(msg[len(msg)-MACLength:], mac)
}

// TrailingMAC returns the trailing MAC field of msg, or nil when msg is
// shorter than a MAC.
func TrailingMAC(msg []byte) []byte {
	if len(msg) < MACLength {
		return nil
	}
	return msg[len(msg)-MACLength:]
}
