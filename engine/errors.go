package engine

import (
	"errors"
	"fmt"

	"github.com/opd-ai/zrtp/packet"
)

var (
	// ErrNegotiationFailed indicates that the handshake was aborted: no
	// common algorithm, a bad public value, a hash or MAC mismatch, or an
	// Error message from the peer. The call continues in clear.
	ErrNegotiationFailed = errors.New("ZRTP negotiation failed")

	// ErrTimeout indicates that a retransmission budget ran out.
	ErrTimeout = errors.New("ZRTP protocol timeout")

	// ErrProtocolViolation indicates a message that would lower security
	// without authorization, such as an unauthenticated GoClear. It is
	// refused and the engine stays in its current state.
	ErrProtocolViolation = errors.New("ZRTP protocol violation")

	// ErrInvalidState indicates an operation that is not possible in the
	// engine's current state.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrNoPeer indicates an operation that needs a known peer ZID.
	ErrNoPeer = errors.New("peer not known yet")
)

// NegotiationError carries the ZRTP error code behind a failed negotiation.
type NegotiationError struct {
	Code packet.ErrorCode
	// Remote is true when the code was received in an Error message.
	Remote bool
	Err    error
}

func (e *NegotiationError) Error() string {
	origin := "local"
	if e.Remote {
		origin = "peer"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s, 0x%x): %v", e.Code, origin, uint32(e.Code), e.Err)
	}
	return fmt.Sprintf("%s (%s, 0x%x)", e.Code, origin, uint32(e.Code))
}

// Unwrap exposes both the category sentinel and the underlying cause.
func (e *NegotiationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNegotiationFailed, e.Err}
	}
	return []error{ErrNegotiationFailed}
}

func negotiationError(code packet.ErrorCode, err error) *NegotiationError {
	return &NegotiationError{Code: code, Err: err}
}
