package interfaces

import (
	"errors"
	"fmt"
	"time"
)

// TimerToken identifies one scheduled timer. Zero is never a valid token.
type TimerToken uint64

// EnableDirection selects which SRTP direction a secrets call applies to.
type EnableDirection int

const (
	// ForReceiver covers decryption of inbound media.
	ForReceiver EnableDirection = 1 << iota
	// ForSender covers encryption of outbound media.
	ForSender
)

// Both covers both directions.
const Both = ForReceiver | ForSender

func (d EnableDirection) String() string {
	switch d {
	case ForReceiver:
		return "receiver"
	case ForSender:
		return "sender"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Has reports whether d includes other.
func (d EnableDirection) Has(other EnableDirection) bool { return d&other == other }

var (
	// ErrInvalidKeyLength indicates SRTP key material of the wrong size.
	ErrInvalidKeyLength = errors.New("invalid SRTP key length")
	// ErrInvalidSaltLength indicates an SRTP master salt that is not 112 bits.
	ErrInvalidSaltLength = errors.New("invalid SRTP salt length")
)

// SRTPSaltLength is the SRTP master salt length (112 bits).
const SRTPSaltLength = 14

// SRTPSecrets carries the negotiated SRTP master keys for both directions.
// Cipher and AuthTag are the four-character ZRTP algorithm names.
type SRTPSecrets struct {
	Cipher        string
	AuthTag       string
	KeyInitiator  []byte
	SaltInitiator []byte
	KeyResponder  []byte
	SaltResponder []byte
	// Initiator is true when the local endpoint was the ZRTP initiator.
	Initiator bool
}

// Validate checks key and salt lengths.
func (s *SRTPSecrets) Validate() error {
	if len(s.KeyInitiator) == 0 || len(s.KeyInitiator) != len(s.KeyResponder) {
		return fmt.Errorf("%w: initiator %d, responder %d", ErrInvalidKeyLength, len(s.KeyInitiator), len(s.KeyResponder))
	}
	if len(s.SaltInitiator) != SRTPSaltLength || len(s.SaltResponder) != SRTPSaltLength {
		return fmt.Errorf("%w: initiator %d, responder %d", ErrInvalidSaltLength, len(s.SaltInitiator), len(s.SaltResponder))
	}
	return nil
}

// SendKey returns the master key and salt used to protect outbound media.
func (s *SRTPSecrets) SendKey() (key, salt []byte) {
	if s.Initiator {
		return s.KeyInitiator, s.SaltInitiator
	}
	return s.KeyResponder, s.SaltResponder
}

// ReceiveKey returns the master key and salt used to unprotect inbound media.
func (s *SRTPSecrets) ReceiveKey() (key, salt []byte) {
	if s.Initiator {
		return s.KeyResponder, s.SaltResponder
	}
	return s.KeyInitiator, s.SaltInitiator
}

// EventKind classifies a negotiation event.
type EventKind int

const (
	// EventState reports a state transition; Event.State holds the new state.
	EventState EventKind = iota
	// EventWarning reports a non-fatal problem; Event.Message and Event.Err describe it.
	EventWarning
	// EventNeedEnrollment asks the application to accept or deny a PBX
	// enrollment; Event.Message holds the information to show.
	EventNeedEnrollment
	// EventPeerVerified reports the cached display name and verified flag of
	// the peer once the call is secure.
	EventPeerVerified
)

// Event is emitted by the negotiation engine towards its host.
type Event struct {
	Kind     EventKind
	State    string
	Message  string
	Err      error
	PeerName string
	Verified bool
}

// Host is the environment a negotiation engine runs in: the media stream
// that carries its packets, the timer primitive and the SRTP layer.
//
// ActivateTimer and CancelTimer are called while the engine holds its lock
// and must not call back into the engine. The remaining methods run after
// the lock is released, in the order the engine produced them, and may call
// back into the engine.
type Host interface {
	// SendZrtpPacket transmits one ZRTP packet; false reports a send failure.
	SendZrtpPacket(packet []byte) bool

	// ActivateTimer schedules a timeout after d and returns its token. The
	// host later delivers the token to the engine's HandleTimeout.
	ActivateTimer(d time.Duration) TimerToken

	// CancelTimer cancels a scheduled timer. Cancelling a fired or unknown
	// token is a no-op.
	CancelTimer(token TimerToken)

	// SecretsReady installs SRTP keys for the given direction. Returning
	// false means the keys cannot be used and the call stays in clear.
	SecretsReady(secrets *SRTPSecrets, dir EnableDirection) bool

	// SecretsOff removes SRTP keys for the given direction.
	SecretsOff(dir EnableDirection)

	// SecretsOn reports that the call is secure, with the SAS to display.
	SecretsOn(sas string, verified bool)

	// Event reports state changes, warnings and application requests.
	Event(ev Event)
}

// TimerService schedules timeouts for hosts. fire runs on a service-owned
// goroutine with the token of the timer that expired.
type TimerService interface {
	Schedule(d time.Duration, fire func(TimerToken)) TimerToken
	Cancel(token TimerToken)
}

// Transport is the media path a stream sends ZRTP packets on.
type Transport interface {
	SendZrtpPacket(packet []byte) bool
}

// Listener receives per-stream notifications on behalf of the application.
type Listener interface {
	OnNewState(streamID, state string)
	OnNeedEnrollment(streamID, info string)
	OnPeerVerified(streamID, peerName string, verified bool)
	OnWarning(streamID, message string)
	// OnSecureOn reports the SAS to display once media is protected, and
	// again when a trusted PBX relays a new one.
	OnSecureOn(streamID, sas string, verified bool)
	OnSecureOff(streamID string)
}

// NopListener ignores all notifications.
type NopListener struct{}

func (NopListener) OnNewState(string, string)           {}
func (NopListener) OnNeedEnrollment(string, string)     {}
func (NopListener) OnPeerVerified(string, string, bool) {}
func (NopListener) OnWarning(string, string)            {}
func (NopListener) OnSecureOn(string, string, bool)     {}
func (NopListener) OnSecureOff(string)                  {}
