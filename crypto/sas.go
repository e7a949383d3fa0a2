package crypto

import (
	"encoding/binary"
	"fmt"
)

// SASValueLength is the number of SAS hash bytes that feed the rendering.
const SASValueLength = 4

const base32Alphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

// RenderSAS turns the leftmost 32 bits of the SAS hash into the string the
// users read to each other.
func RenderSAS(sasType string, sasValue []byte) (string, error) {
	if len(sasValue) < SASValueLength {
		return "", fmt.Errorf("SAS value needs %d bytes, got %d", SASValueLength, len(sasValue))
	}

	switch sasType {
	case "B32":
		// Leftmost 20 bits, five at a time.
		v := binary.BigEndian.Uint32(sasValue[:4])
		out := make([]byte, 4)
		for i := range out {
			out[i] = base32Alphabet[(v>>(27-5*uint(i)))&0x1f]
		}
		return string(out), nil
	case "B256":
		return pgpEvenWords[sasValue[0]] + " " + pgpOddWords[sasValue[1]], nil
	default:
		return "", fmt.Errorf("%w: SAS type %q", ErrUnknownAlgorithm, sasType)
	}
}
