package crypto

import "errors"

var (
	// ErrUnknownAlgorithm indicates an algorithm name this package does not implement.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrBadPublicValue indicates a peer public value that is degenerate,
	// has the wrong length or is not on the curve.
	ErrBadPublicValue = errors.New("bad DH public value")

	// ErrInvalidKeySize indicates a key of the wrong length for the cipher.
	ErrInvalidKeySize = errors.New("invalid key size")
)
