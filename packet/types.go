package packet

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the 8-byte ASCII type block of a ZRTP message.
type MessageType string

// ZRTP message types.
const (
	TypeHello    MessageType = "Hello   "
	TypeHelloACK MessageType = "HelloACK"
	TypeCommit   MessageType = "Commit  "
	TypeDHPart1  MessageType = "DHPart1 "
	TypeDHPart2  MessageType = "DHPart2 "
	TypeConfirm1 MessageType = "Confirm1"
	TypeConfirm2 MessageType = "Confirm2"
	TypeConf2ACK MessageType = "Conf2ACK"
	TypeError    MessageType = "Error   "
	TypeErrorACK MessageType = "ErrorACK"
	TypeGoClear  MessageType = "GoClear "
	TypeClearACK MessageType = "ClearACK"
	TypeSASRelay MessageType = "SASrelay"
	TypeRelayACK MessageType = "RelayACK"
	TypePing     MessageType = "Ping    "
	TypePingACK  MessageType = "PingACK "
)

var knownTypes = map[MessageType]bool{
	TypeHello: true, TypeHelloACK: true, TypeCommit: true,
	TypeDHPart1: true, TypeDHPart2: true,
	TypeConfirm1: true, TypeConfirm2: true, TypeConf2ACK: true,
	TypeError: true, TypeErrorACK: true,
	TypeGoClear: true, TypeClearACK: true,
	TypeSASRelay: true, TypeRelayACK: true,
	TypePing: true, TypePingACK: true,
}

// Known reports whether t is one of the ZRTP message types.
func (t MessageType) Known() bool { return knownTypes[t] }

// Short returns the type without trailing spaces, for logs.
func (t MessageType) Short() string {
	s := string(t)
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

// newMessage allocates a message of the given word count and fills in the
// preamble, length and type block.
func newMessage(t MessageType, words int) []byte {
	msg := make([]byte, words*4)
	binary.BigEndian.PutUint16(msg[0:2], Preamble)
	binary.BigEndian.PutUint16(msg[2:4], uint16(words))
	copy(msg[4:12], t)
	return msg
}

// expect validates msg as a message of type t with at least minWords words.
func expect(msg []byte, t MessageType, minWords int) error {
	got, err := MessageTypeOf(msg)
	if err != nil {
		return err
	}
	if got != t {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidPacket, t.Short(), got.Short())
	}
	if len(msg) < minWords*4 {
		return fmt.Errorf("%w: %s needs at least %d words, got %d", ErrInvalidPacket, t.Short(), minWords, len(msg)/4)
	}
	return nil
}

// SerializeSimple builds a header-only message: HelloACK, Conf2ACK,
// ErrorACK, ClearACK or RelayACK.
func SerializeSimple(t MessageType) []byte {
	return newMessage(t, 3)
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

// putFixed copies src into dst and reports an error when src has the wrong length.
func putFixed(dst, src []byte, field string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%s must be %d bytes, got %d", field, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

func invalidLength(t MessageType, n int) error {
	return fmt.Errorf("%w: %s has unexpected length %d", ErrInvalidPacket, t.Short(), n)
}
