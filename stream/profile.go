package stream

import (
	"errors"
	"fmt"

	"github.com/pion/srtp/v3"
)

var (
	// ErrUnsupportedProfile indicates a ZRTP cipher and auth tag pair with no
	// SRTP protection profile, such as the Twofish ciphers.
	ErrUnsupportedProfile = errors.New("no SRTP profile for negotiated algorithms")

	// ErrInvalidMedia indicates a packet that is neither ZRTP nor RTP.
	ErrInvalidMedia = errors.New("invalid RTP packet")

	// ErrUnprotect indicates an SRTP packet that failed authentication or
	// replay checks. The packet must be dropped.
	ErrUnprotect = errors.New("SRTP unprotect failed")

	// ErrProtect indicates that an outbound packet could not be encrypted.
	ErrProtect = errors.New("SRTP protect failed")

	// ErrClosed indicates an operation on a closed stream.
	ErrClosed = errors.New("stream closed")
)

// ProfileFor maps the negotiated ZRTP cipher and SRTP auth tag length to an
// SRTP protection profile.
func ProfileFor(cipher, authTag string) (srtp.ProtectionProfile, error) {
	switch cipher + "/" + authTag {
	case "AES1/HS32":
		return srtp.ProtectionProfileAes128CmHmacSha1_32, nil
	case "AES1/HS80":
		return srtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case "AES3/HS32":
		return srtp.ProtectionProfileAes256CmHmacSha1_32, nil
	case "AES3/HS80":
		return srtp.ProtectionProfileAes256CmHmacSha1_80, nil
	}
	return 0, fmt.Errorf("%w: %s/%s", ErrUnsupportedProfile, cipher, authTag)
}
