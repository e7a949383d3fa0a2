package engine

import (
	"fmt"

	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/packet"
)

// MultiStreamParams carries what a secure master stream hands to the
// streams that join the call in multistream mode.
type MultiStreamParams struct {
	// SessionKey is the master stream's ZRTPSess key.
	SessionKey []byte
	// PeerZID is the peer the master stream negotiated with.
	PeerZID packet.ZID
	// SAS and Verified are shown for every stream of the call.
	SAS      string
	Verified bool
}

// Clone returns a deep copy.
func (p *MultiStreamParams) Clone() *MultiStreamParams {
	out := *p
	out.SessionKey = crypto.Clone(p.SessionKey)
	return &out
}

// Wipe clears the session key.
func (p *MultiStreamParams) Wipe() {
	crypto.Wipe(p.SessionKey)
	p.SessionKey = nil
}

// MultiStreamParams returns the parameters for starting further streams of
// this call. The engine must be Secure.
func (e *Engine) MultiStreamParams() (*MultiStreamParams, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Secure || e.keys == nil {
		return nil, fmt.Errorf("%w: multistream parameters in %s", ErrInvalidState, e.state)
	}
	if e.multi != nil {
		// Every stream of the call derives from the first DH stream.
		return e.multi.Clone(), nil
	}
	return &MultiStreamParams{
		SessionKey: crypto.Clone(e.keys.sessionKey),
		PeerZID:    e.peerHello.ZID,
		SAS:        e.sas,
		Verified:   e.verified,
	}, nil
}

// StartMultiStream starts the engine in multistream mode: the negotiation
// skips the DH exchange and derives its keys from params.
func (e *Engine) StartMultiStream(params *MultiStreamParams) error {
	if params == nil || len(params.SessionKey) == 0 {
		return fmt.Errorf("%w: multistream parameters without session key", ErrInvalidOptions)
	}
	e.mu.Lock()
	err := e.startMultiStream(params)
	e.mu.Unlock()
	e.drain()
	return err
}

func (e *Engine) startMultiStream(params *MultiStreamParams) error {
	if e.state != Initial {
		return fmt.Errorf("%w: start in %s", ErrInvalidState, e.state)
	}
	if e.multi != nil {
		e.multi.Wipe()
	}
	e.multi = params.Clone()
	e.verified = params.Verified
	return e.start()
}
