package testing

import (
	"sync"

	"github.com/opd-ai/zrtp/interfaces"
)

var _ interfaces.Listener = (*Listener)(nil)

// Notification is one call received by a Listener.
type Notification struct {
	Stream   string
	Kind     string
	Value    string
	Verified bool
}

// Listener is a recording interfaces.Listener.
type Listener struct {
	mu    sync.Mutex
	calls []Notification
}

// NewListener creates an empty recording listener.
func NewListener() *Listener {
	return &Listener{}
}

func (l *Listener) record(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, n)
}

func (l *Listener) OnNewState(streamID, state string) {
	l.record(Notification{Stream: streamID, Kind: "state", Value: state})
}

func (l *Listener) OnNeedEnrollment(streamID, info string) {
	l.record(Notification{Stream: streamID, Kind: "enrollment", Value: info})
}

func (l *Listener) OnPeerVerified(streamID, peerName string, verified bool) {
	l.record(Notification{Stream: streamID, Kind: "verified", Value: peerName, Verified: verified})
}

func (l *Listener) OnWarning(streamID, message string) {
	l.record(Notification{Stream: streamID, Kind: "warning", Value: message})
}

func (l *Listener) OnSecureOn(streamID, sas string, verified bool) {
	l.record(Notification{Stream: streamID, Kind: "secure", Value: sas, Verified: verified})
}

func (l *Listener) OnSecureOff(streamID string) {
	l.record(Notification{Stream: streamID, Kind: "clear"})
}

// Calls returns the notifications of the given kind for a stream. An empty
// kind matches every notification.
func (l *Listener) Calls(streamID, kind string) []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Notification
	for _, n := range l.calls {
		if n.Stream == streamID && (kind == "" || n.Kind == kind) {
			out = append(out, n)
		}
	}
	return out
}

// States returns the states reported for a stream, in order.
func (l *Listener) States(streamID string) []string {
	var out []string
	for _, n := range l.Calls(streamID, "state") {
		out = append(out, n.Value)
	}
	return out
}
