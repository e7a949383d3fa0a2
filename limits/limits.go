package limits

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// MaxPacketLength bounds a ZRTP packet on the media path. The largest
	// message this implementation produces is a DHPart with a DH3k value
	// (468 bytes); the limit leaves room for signatures from other stacks.
	MaxPacketLength = 3072

	// ClientIDLength is the fixed length of the Hello client identifier.
	ClientIDLength = 16

	// MaxPeerNameLength bounds the display name stored per cache record.
	MaxPeerNameLength = 256

	// MaxCacheFileSize bounds the peer cache document read from disk.
	MaxCacheFileSize = 16 * 1024 * 1024
)

var (
	// ErrEmpty indicates an empty value where content is required.
	ErrEmpty = errors.New("empty value")

	// ErrTooLarge indicates a value that exceeds its limit.
	ErrTooLarge = errors.New("value too large")
)

// ValidatePeerName checks a human-readable peer label before it is cached.
func ValidatePeerName(name string) error {
	if name == "" {
		return ErrEmpty
	}
	if len(name) > MaxPeerNameLength {
		return fmt.Errorf("%w: peer name has %d bytes, limit %d", ErrTooLarge, len(name), MaxPeerNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("peer name is not valid UTF-8")
	}
	return nil
}

// ClientID pads or truncates id to the fixed Hello field width.
func ClientID(id string) [ClientIDLength]byte {
	var out [ClientIDLength]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[:], id)
	return out
}

// ValidateSize checks data against a maximum length.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrTooLarge, len(data), maxSize)
	}
	return nil
}
