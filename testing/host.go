package testing

import (
	"sync"
	"time"

	"github.com/opd-ai/zrtp/interfaces"
)

// Host is a recording interfaces.Host for engine tests. Packets go to a
// Transport, timers to a TimerService, and everything else is logged for
// inspection.
type Host struct {
	transport interfaces.Transport
	timers    interfaces.TimerService

	mu        sync.Mutex
	onTimeout func(interfaces.TimerToken)
	refuse    bool
	events    []interfaces.Event
	secrets   *interfaces.SRTPSecrets
	active    interfaces.EnableDirection
	sas       string
	verified  bool
	secureOn  int
}

// NewHost creates a host that sends through transport and schedules on timers.
func NewHost(transport interfaces.Transport, timers interfaces.TimerService) *Host {
	return &Host{transport: transport, timers: timers}
}

// OnTimeout sets the function expired timer tokens are delivered to,
// normally the engine's HandleTimeout.
func (h *Host) OnTimeout(fn func(interfaces.TimerToken)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTimeout = fn
}

// RefuseSecrets makes SecretsReady return false.
func (h *Host) RefuseSecrets(refuse bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refuse = refuse
}

func (h *Host) SendZrtpPacket(data []byte) bool {
	return h.transport.SendZrtpPacket(data)
}

func (h *Host) ActivateTimer(d time.Duration) interfaces.TimerToken {
	return h.timers.Schedule(d, func(token interfaces.TimerToken) {
		h.mu.Lock()
		fn := h.onTimeout
		h.mu.Unlock()
		if fn != nil {
			fn(token)
		}
	})
}

func (h *Host) CancelTimer(token interfaces.TimerToken) {
	h.timers.Cancel(token)
}

func (h *Host) SecretsReady(secrets *interfaces.SRTPSecrets, dir interfaces.EnableDirection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuse || secrets.Validate() != nil {
		return false
	}
	h.secrets = secrets
	h.active |= dir
	return true
}

func (h *Host) SecretsOff(dir interfaces.EnableDirection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active &^= dir
}

func (h *Host) SecretsOn(sas string, verified bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sas = sas
	h.verified = verified
	h.secureOn++
}

func (h *Host) Event(ev interfaces.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

// Events returns a copy of all events received.
func (h *Host) Events() []interfaces.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]interfaces.Event(nil), h.events...)
}

// States returns the sequence of states reported.
func (h *Host) States() []string {
	var out []string
	for _, ev := range h.Events() {
		if ev.Kind == interfaces.EventState {
			out = append(out, ev.State)
		}
	}
	return out
}

// Warnings returns the warning events received.
func (h *Host) Warnings() []interfaces.Event {
	return h.eventsOf(interfaces.EventWarning)
}

func (h *Host) eventsOf(kind interfaces.EventKind) []interfaces.Event {
	var out []interfaces.Event
	for _, ev := range h.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// EnrollmentRequests returns the enrollment events received.
func (h *Host) EnrollmentRequests() []interfaces.Event {
	return h.eventsOf(interfaces.EventNeedEnrollment)
}

// Secrets returns the last SRTP secrets installed.
func (h *Host) Secrets() *interfaces.SRTPSecrets {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.secrets
}

// Active returns the directions with keys installed.
func (h *Host) Active() interfaces.EnableDirection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// SAS returns the SAS from the last SecretsOn call and how many were made.
func (h *Host) SAS() (sas string, verified bool, calls int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sas, h.verified, h.secureOn
}
