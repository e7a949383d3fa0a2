package engine

import "fmt"

// State is a negotiation state.
type State int

const (
	// Initial is the state before Start and after a hello timeout or Stop.
	Initial State = iota
	// Detect sends Hello and waits for the peer.
	Detect
	// AckDetected means the peer acknowledged our Hello; its Hello is pending.
	AckDetected
	// AckSent means we acknowledged the peer's Hello; ours is unacknowledged.
	AckSent
	// WaitCommit means both Hellos are acknowledged and the peer is to commit.
	WaitCommit
	// CommitSent means we sent Commit and wait for DHPart1 (or Confirm1).
	CommitSent
	// WaitDHPart2 is the responder waiting for DHPart2.
	WaitDHPart2
	// WaitConfirm1 is the initiator waiting for Confirm1.
	WaitConfirm1
	// WaitConfirm2 is the responder waiting for Confirm2.
	WaitConfirm2
	// WaitConfAck is the initiator waiting for Conf2ACK.
	WaitConfAck
	// Secure means SRTP keys are installed in both directions.
	Secure
	// WaitClearAck means we sent GoClear and wait for ClearACK.
	WaitClearAck
	// Clear means the call reverted to plain RTP after GoClear.
	Clear
	// Error means the negotiation failed; the call runs in clear.
	Error
)

var stateNames = [...]string{
	Initial:      "Initial",
	Detect:       "Detect",
	AckDetected:  "AckDetected",
	AckSent:      "AckSent",
	WaitCommit:   "WaitCommit",
	CommitSent:   "CommitSent",
	WaitDHPart2:  "WaitDHPart2",
	WaitConfirm1: "WaitConfirm1",
	WaitConfirm2: "WaitConfirm2",
	WaitConfAck:  "WaitConfAck",
	Secure:       "Secure",
	WaitClearAck: "WaitClearAck",
	Clear:        "Clear",
	Error:        "Error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// negotiating reports whether the handshake is in progress.
func (s State) negotiating() bool {
	return s >= Detect && s <= WaitConfAck
}

// Role is the part an endpoint plays in one negotiation.
type Role int

const (
	// NoRole means the role has not been fixed yet.
	NoRole Role = iota
	// Initiator sent the Commit that the negotiation proceeds with.
	Initiator
	// Responder answered the peer's Commit.
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "Initiator"
	case Responder:
		return "Responder"
	default:
		return "None"
	}
}
