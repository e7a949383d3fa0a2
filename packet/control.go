package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/zrtp/algorithm"
)

const (
	errorWords    = 4
	goClearWords  = 5
	sasRelayWords = 19
	pingWords     = 6
	pingACKWords  = 9
	// EndpointHashLength is the truncated endpoint hash carried by Ping.
	EndpointHashLength = 8
	// SASRelayBodyLength is the encrypted part of a SASrelay.
	SASRelayBodyLength = 4 + 4 + 32
)

// ErrorCode is the 32-bit code carried in an Error message.
type ErrorCode uint32

// Error codes defined for the Error message.
const (
	ErrorMalformedPacket     ErrorCode = 0x10
	ErrorCriticalSoftware    ErrorCode = 0x20
	ErrorUnsupportedVersion  ErrorCode = 0x30
	ErrorHelloMismatch       ErrorCode = 0x40
	ErrorUnsupportedHash     ErrorCode = 0x51
	ErrorUnsupportedCipher   ErrorCode = 0x52
	ErrorUnsupportedKeyAgree ErrorCode = 0x53
	ErrorUnsupportedAuthTag  ErrorCode = 0x54
	ErrorUnsupportedSAS      ErrorCode = 0x55
	ErrorNoSharedSecret      ErrorCode = 0x56
	ErrorBadPublicValue      ErrorCode = 0x61
	ErrorHVIMismatch         ErrorCode = 0x62
	ErrorUntrustedMiTM       ErrorCode = 0x63
	ErrorBadConfirmMAC       ErrorCode = 0x70
	ErrorNonceReuse          ErrorCode = 0x80
	ErrorEqualZID            ErrorCode = 0x90
	ErrorSSRCCollision       ErrorCode = 0x91
	ErrorServiceUnavailable  ErrorCode = 0xa0
	ErrorProtocolTimeout     ErrorCode = 0xb0
	ErrorGoClearNotAllowed   ErrorCode = 0x100
)

var errorCodeNames = map[ErrorCode]string{
	ErrorMalformedPacket:     "malformed packet",
	ErrorCriticalSoftware:    "critical software error",
	ErrorUnsupportedVersion:  "unsupported ZRTP version",
	ErrorHelloMismatch:       "hello components mismatch",
	ErrorUnsupportedHash:     "hash type not supported",
	ErrorUnsupportedCipher:   "cipher type not supported",
	ErrorUnsupportedKeyAgree: "public key exchange not supported",
	ErrorUnsupportedAuthTag:  "SRTP auth tag not supported",
	ErrorUnsupportedSAS:      "SAS rendering scheme not supported",
	ErrorNoSharedSecret:      "no shared secret available",
	ErrorBadPublicValue:      "DH error: bad public value",
	ErrorHVIMismatch:         "DH error: hvi does not match hashed data",
	ErrorUntrustedMiTM:       "received relayed SAS from untrusted MiTM",
	ErrorBadConfirmMAC:       "auth error: bad Confirm MAC",
	ErrorNonceReuse:          "nonce reuse",
	ErrorEqualZID:            "equal ZIDs in Hello",
	ErrorSSRCCollision:       "SSRC collision",
	ErrorServiceUnavailable:  "service unavailable",
	ErrorProtocolTimeout:     "protocol timeout",
	ErrorGoClearNotAllowed:   "GoClear received but not allowed",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error code 0x%x", uint32(c))
}

// SerializeError builds an Error message.
func SerializeError(code ErrorCode) []byte {
	msg := newMessage(TypeError, errorWords)
	binary.BigEndian.PutUint32(msg[12:16], uint32(code))
	return msg
}

// ParseError returns the code of an Error message.
func ParseError(msg []byte) (ErrorCode, error) {
	if err := expect(msg, TypeError, errorWords); err != nil {
		return 0, err
	}
	return ErrorCode(binary.BigEndian.Uint32(msg[12:16])), nil
}

// SerializeGoClear builds a GoClear message carrying clear_hmac.
func SerializeGoClear(clearMAC []byte) ([]byte, error) {
	msg := newMessage(TypeGoClear, goClearWords)
	if err := putFixed(msg[12:20], clearMAC, "clear_hmac"); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseGoClear returns the clear_hmac of a GoClear message.
func ParseGoClear(msg []byte) ([]byte, error) {
	if err := expect(msg, TypeGoClear, goClearWords); err != nil {
		return nil, err
	}
	return cloneBytes(msg[12:20]), nil
}

// SASRelay is sent by a trusted MiTM to relay the SAS of its far leg.
//
//	[HEADER(3)][MAC(2)][CFB IV(4)][encrypted: flags(1) rendering(1) sashash(8)]
type SASRelay struct {
	MAC  []byte
	IV   []byte
	Body []byte
}

// Serialize encodes the SASrelay.
func (s *SASRelay) Serialize() ([]byte, error) {
	msg := newMessage(TypeSASRelay, sasRelayWords)
	if err := putFixed(msg[12:20], s.MAC, "MAC"); err != nil {
		return nil, err
	}
	if err := putFixed(msg[20:36], s.IV, "IV"); err != nil {
		return nil, err
	}
	if err := putFixed(msg[36:], s.Body, "SASrelay body"); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseSASRelay decodes a SASrelay message.
func ParseSASRelay(msg []byte) (*SASRelay, error) {
	if err := expect(msg, TypeSASRelay, sasRelayWords); err != nil {
		return nil, err
	}
	if len(msg) != sasRelayWords*4 {
		return nil, invalidLength(TypeSASRelay, len(msg))
	}
	return &SASRelay{
		MAC:  cloneBytes(msg[12:20]),
		IV:   cloneBytes(msg[20:36]),
		Body: cloneBytes(msg[36:]),
	}, nil
}

// SASRelayBody is the plaintext of a SASrelay.
type SASRelayBody struct {
	SASVerified   bool
	AllowClear    bool
	Disclosure    bool
	RenderingType algorithm.Name
	SASHash       []byte
}

// Marshal encodes the body for encryption.
func (b *SASRelayBody) Marshal() ([]byte, error) {
	out := make([]byte, SASRelayBodyLength)
	var flags byte
	if b.SASVerified {
		flags |= FlagSASVerified
	}
	if b.AllowClear {
		flags |= FlagAllowClear
	}
	if b.Disclosure {
		flags |= FlagDisclosure
	}
	out[3] = flags
	w := b.RenderingType.Wire()
	copy(out[4:8], w[:])
	if err := putFixed(out[8:], b.SASHash, "SAS hash"); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseSASRelayBody decodes a decrypted SASrelay body.
func ParseSASRelayBody(data []byte) (*SASRelayBody, error) {
	if len(data) != SASRelayBodyLength {
		return nil, fmt.Errorf("%w: SASrelay body length %d", ErrInvalidPacket, len(data))
	}
	flags := data[3] & relayFlagsByteMask
	return &SASRelayBody{
		SASVerified:   flags&FlagSASVerified != 0,
		AllowClear:    flags&FlagAllowClear != 0,
		Disclosure:    flags&FlagDisclosure != 0,
		RenderingType: algorithm.FromWire(data[4:8]),
		SASHash:       cloneBytes(data[8:]),
	}, nil
}

// Ping checks that a ZRTP endpoint is alive.
type Ping struct {
	Version      string
	EndpointHash []byte
}

// Serialize encodes the Ping.
func (p *Ping) Serialize() ([]byte, error) {
	msg := newMessage(TypePing, pingWords)
	version := p.Version
	if version == "" {
		version = ProtocolVersion
	}
	copy(msg[12:16], version)
	if err := putFixed(msg[16:24], p.EndpointHash, "endpoint hash"); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParsePing decodes a Ping message.
func ParsePing(msg []byte) (*Ping, error) {
	if err := expect(msg, TypePing, pingWords); err != nil {
		return nil, err
	}
	return &Ping{Version: string(msg[12:16]), EndpointHash: cloneBytes(msg[16:24])}, nil
}

// PingACK answers a Ping with the responder's endpoint hash, the received
// one and the SSRC of the Ping packet.
type PingACK struct {
	Version              string
	SenderEndpointHash   []byte
	ReceivedEndpointHash []byte
	SSRC                 uint32
}

// Serialize encodes the PingACK.
func (p *PingACK) Serialize() ([]byte, error) {
	msg := newMessage(TypePingACK, pingACKWords)
	version := p.Version
	if version == "" {
		version = ProtocolVersion
	}
	copy(msg[12:16], version)
	if err := putFixed(msg[16:24], p.SenderEndpointHash, "sender endpoint hash"); err != nil {
		return nil, err
	}
	if err := putFixed(msg[24:32], p.ReceivedEndpointHash, "received endpoint hash"); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(msg[32:36], p.SSRC)
	return msg, nil
}

// ParsePingACK decodes a PingACK message.
func ParsePingACK(msg []byte) (*PingACK, error) {
	if err := expect(msg, TypePingACK, pingACKWords); err != nil {
		return nil, err
	}
	return &PingACK{
		Version:              string(msg[12:16]),
		SenderEndpointHash:   cloneBytes(msg[16:24]),
		ReceivedEndpointHash: cloneBytes(msg[24:32]),
		SSRC:                 binary.BigEndian.Uint32(msg[32:36]),
	}, nil
}
