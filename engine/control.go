package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/interfaces"
	"github.com/opd-ai/zrtp/packet"
)

func (e *Engine) handleGoClear(msg []byte) {
	logger := e.logger("handleGoClear")
	mac, err := packet.ParseGoClear(msg)
	if err != nil {
		logger.WithError(err).Debug("Dropping malformed GoClear")
		return
	}
	if e.state == Clear {
		e.send(packet.SerializeSimple(packet.TypeClearACK))
		return
	}

	if e.keys != nil {
		if !e.hash.VerifyMAC64(mac, e.keys.macKey(e.peerRole()), []byte(goClearMACInput)) {
			e.warn("GoClear with invalid clear_mac refused", ErrProtocolViolation)
			return
		}
		if !e.opts.AllowClear {
			logger.Warn("Peer requested GoClear, which this endpoint does not allow")
			e.fail(packet.ErrorGoClearNotAllowed, fmt.Errorf("%w: GoClear not allowed", ErrProtocolViolation))
			return
		}
	}

	logger.WithField("authenticated", e.keys != nil).Warn("Switching to clear media on peer request")
	e.cancelRetransmit()
	e.send(packet.SerializeSimple(packet.TypeClearACK))
	e.secretsOff(interfaces.Both)
	e.setState(Clear)
}

func (e *Engine) handleClearACK() {
	if e.state != WaitClearAck {
		return
	}
	e.cancelRetransmit()
	e.secretsOff(interfaces.ForReceiver)
	e.setState(Clear)
}

// RequestGoClear asks the peer to switch the call back to unencrypted RTP.
// Both endpoints must have allowed it in their Confirm. Outbound media is
// sent in clear immediately; inbound keys stay until ClearACK.
func (e *Engine) RequestGoClear() error {
	e.mu.Lock()
	err := e.requestGoClear()
	e.mu.Unlock()
	e.drain()
	return err
}

func (e *Engine) requestGoClear() error {
	if e.state != Secure || e.keys == nil {
		return fmt.Errorf("%w: GoClear in %s", ErrInvalidState, e.state)
	}
	if !e.opts.AllowClear || e.peerFlags == nil || !e.peerFlags.AllowClear {
		return fmt.Errorf("%w: GoClear not allowed by both endpoints", ErrProtocolViolation)
	}
	mac := e.hash.MAC64(e.keys.macKey(e.role), []byte(goClearMACInput))
	msg, err := packet.SerializeGoClear(mac)
	if err != nil {
		return err
	}
	e.logger("RequestGoClear").Warn("Requesting clear media")
	e.secretsOff(interfaces.ForSender)
	e.send(msg)
	e.setState(WaitClearAck)
	e.startRetransmit(retransmitGoClear, e.opts.T2, msg)
	return nil
}

func (e *Engine) handleError(msg []byte) {
	code, err := packet.ParseError(msg)
	if err != nil {
		e.logger("handleError").WithError(err).Debug("Dropping malformed Error")
		return
	}
	e.send(packet.SerializeSimple(packet.TypeErrorACK))
	if e.state == Error {
		return
	}

	nerr := &NegotiationError{Code: code, Remote: true}
	e.logger("handleError").WithFields(logrus.Fields{
		"code":  code.String(),
		"state": e.state.String(),
	}).Error("Peer aborted ZRTP negotiation")

	e.cancelRetransmit()
	e.secretsOff(interfaces.Both)
	if e.keys != nil {
		e.keys.wipe()
		e.keys = nil
	}
	e.warn(nerr.Error(), nerr)
	e.setState(Error)
}

func (e *Engine) handleErrorACK() {
	if e.retx.kind == retransmitError {
		e.cancelRetransmit()
	}
}

// handleSASRelay accepts a relayed SAS from an enrolled PBX.
func (e *Engine) handleSASRelay(msg []byte) {
	logger := e.logger("handleSASRelay")
	if e.state != Secure || e.keys == nil {
		return
	}
	relay, err := packet.ParseSASRelay(msg)
	if err != nil {
		logger.WithError(err).Debug("Dropping malformed SASrelay")
		return
	}
	peer := e.peerRole()
	if !e.hash.VerifyMAC64(relay.MAC, e.keys.macKey(peer), relay.Body) {
		e.warn("SASrelay with invalid MAC refused", ErrProtocolViolation)
		return
	}
	plain, err := crypto.CFBDecrypt(string(e.cipher), e.keys.zrtpKey(peer), relay.IV, relay.Body)
	if err != nil {
		logger.WithError(err).Error("Failed to decrypt SASrelay")
		return
	}
	body, err := packet.ParseSASRelayBody(plain)
	crypto.Wipe(plain)
	if err != nil {
		logger.WithError(err).Debug("Dropping malformed SASrelay body")
		return
	}

	e.send(packet.SerializeSimple(packet.TypeRelayACK))

	trusted := e.peerHello.MiTM && e.record != nil && e.record.HasMiTMKey()
	if !trusted {
		e.warn("SASrelay from a peer that is not an enrolled PBX ignored", ErrProtocolViolation)
		return
	}
	sas, err := crypto.RenderSAS(body.RenderingType.Trimmed(), body.SASHash)
	if err != nil {
		e.warn("SASrelay rendering not supported", err)
		return
	}
	e.sas = sas
	e.verified = body.SASVerified
	logger.WithField("peer_zid", e.peerHello.ZID.String()).Info("SAS relayed by trusted PBX")
	verified := e.verified
	e.enqueue(func() { e.host.SecretsOn(sas, verified) })
}

func (e *Engine) handleRelayACK() {
	if e.retx.kind == retransmitRelay {
		e.cancelRetransmit()
	}
}

// SendSASRelay relays the SAS hash of another call leg to this peer. Only
// an endpoint configured as trusted MiTM may relay.
//
// Parameters:
//   - sasHash: The 256-bit SAS hash of the other leg
//   - rendering: The SAS type the other leg negotiated
func (e *Engine) SendSASRelay(sasHash []byte, rendering algorithm.Name) error {
	e.mu.Lock()
	err := e.sendSASRelay(sasHash, rendering)
	e.mu.Unlock()
	e.drain()
	return err
}

func (e *Engine) sendSASRelay(sasHash []byte, rendering algorithm.Name) error {
	if !e.opts.TrustedMiTM {
		return fmt.Errorf("%w: SASrelay requires a trusted MiTM", ErrInvalidOptions)
	}
	if e.state != Secure || e.keys == nil {
		return fmt.Errorf("%w: SASrelay in %s", ErrInvalidState, e.state)
	}
	body := &packet.SASRelayBody{
		SASVerified:   e.verified,
		AllowClear:    e.opts.AllowClear,
		Disclosure:    e.opts.Disclosure,
		RenderingType: rendering,
		SASHash:       sasHash,
	}
	plain, err := body.Marshal()
	if err != nil {
		return err
	}
	defer crypto.Wipe(plain)
	iv := e.random(packet.IVLength)
	enc, err := crypto.CFBEncrypt(string(e.cipher), e.keys.zrtpKey(e.role), iv, plain)
	if err != nil {
		return err
	}
	relay := &packet.SASRelay{
		MAC:  e.hash.MAC64(e.keys.macKey(e.role), enc),
		IV:   iv,
		Body: enc,
	}
	msg, err := relay.Serialize()
	if err != nil {
		return err
	}
	e.send(msg)
	e.startRetransmit(retransmitRelay, e.opts.T2, msg)
	return nil
}

// SASHash returns the full 256-bit SAS hash of a secure session, which a
// PBX relays to the other leg.
func (e *Engine) SASHash() ([]byte, algorithm.Name, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Secure || e.keys == nil {
		return nil, "", fmt.Errorf("%w: SAS hash in %s", ErrInvalidState, e.state)
	}
	return crypto.Clone(e.keys.sasHash), e.sasType, nil
}
