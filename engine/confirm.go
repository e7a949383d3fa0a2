package engine

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/cache"
	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/interfaces"
	"github.com/opd-ai/zrtp/packet"
)

var errConfirmMAC = errors.New("confirm_mac does not verify")

// buildConfirm encrypts our Confirm body with our ZRTP key and MACs the
// ciphertext with our HMAC key.
func (e *Engine) buildConfirm(t packet.MessageType) ([]byte, error) {
	body := &packet.ConfirmBody{
		H0:          e.h0,
		Enrollment:  e.opts.Enrollment,
		SASVerified: e.verified,
		AllowClear:  e.opts.AllowClear,
		Disclosure:  e.opts.Disclosure,
		CacheExpiry: e.opts.CacheExpiry,
	}
	plain, err := body.Marshal()
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plain)

	iv := e.random(packet.IVLength)
	enc, err := crypto.CFBEncrypt(string(e.cipher), e.keys.zrtpKey(e.role), iv, plain)
	if err != nil {
		return nil, err
	}
	c := &packet.Confirm{
		Type:       t,
		ConfirmMAC: e.hash.MAC64(e.keys.macKey(e.role), enc),
		IV:         iv,
		Body:       enc,
	}
	return c.Serialize()
}

// openConfirm authenticates and decrypts a Confirm sent by the peer in
// role peer under keys.
func (e *Engine) openConfirm(msg []byte, keys *sessionKeys, peer Role) (*packet.ConfirmBody, error) {
	c, err := packet.ParseConfirm(msg)
	if err != nil {
		return nil, err
	}
	if !e.hash.VerifyMAC64(c.ConfirmMAC, keys.macKey(peer), c.Body) {
		return nil, errConfirmMAC
	}
	plain, err := crypto.CFBDecrypt(string(e.cipher), keys.zrtpKey(peer), c.IV, c.Body)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(plain)
	return packet.ParseConfirmBody(plain)
}

func (e *Engine) peerRole() Role {
	if e.role == Initiator {
		return Responder
	}
	return Initiator
}

// sendConfirm1 is the responder's answer once keys are derived.
func (e *Engine) sendConfirm1() {
	msg, err := e.buildConfirm(packet.TypeConfirm1)
	if err != nil {
		e.fail(packet.ErrorCriticalSoftware, err)
		return
	}
	e.lastResponse = msg
	e.send(msg)
	e.setState(WaitConfirm2)
}

// checkPeerH0 verifies the H0 revealed in the peer's Confirm against the
// last image we received and checks the message whose MAC it keys. role is
// our own role.
func (e *Engine) checkPeerH0(h0 []byte, role Role) error {
	sha := crypto.SHA256()
	h1 := sha.Sum(h0)
	switch {
	case role == Initiator && e.keyAgreement == algorithm.Mult:
		// Confirm1 is the first message after Hello that reveals an image.
		h2 := sha.Sum(h1)
		if !bytes.Equal(sha.Sum(h2), e.peerHello.H3) {
			return errors.New("H0 does not hash to the peer's H3")
		}
		if !e.verifyPeerHelloMAC(h2) {
			return errors.New("peer Hello MAC is invalid")
		}
	case role == Responder && e.keyAgreement == algorithm.Mult:
		if !bytes.Equal(sha.Sum(h1), e.peerH2) {
			return errors.New("H0 does not hash to the Commit H2")
		}
		if !sha.VerifyMAC64(e.peerCommit.MAC, h1, packet.MACInput(e.peerCommitMsg)) {
			return errors.New("Commit MAC is invalid")
		}
	case role == Initiator:
		if !bytes.Equal(h1, e.peerH1) {
			return errors.New("H0 does not hash to the DHPart1 H1")
		}
		if !sha.VerifyMAC64(packet.TrailingMAC(e.dhPart1Msg), h0, packet.MACInput(e.dhPart1Msg)) {
			return errors.New("DHPart1 MAC is invalid")
		}
	default:
		if !bytes.Equal(h1, e.peerH1) {
			return errors.New("H0 does not hash to the DHPart2 H1")
		}
		if !sha.VerifyMAC64(packet.TrailingMAC(e.dhPart2Msg), h0, packet.MACInput(e.dhPart2Msg)) {
			return errors.New("DHPart2 MAC is invalid")
		}
	}
	return nil
}

// acceptConfirm authenticates the peer's Confirm. A bad confirm_mac aborts
// the negotiation; a hash chain failure only drops the message.
func (e *Engine) acceptConfirm(msg []byte) (*packet.ConfirmBody, bool) {
	body, err := e.openConfirm(msg, e.keys, e.peerRole())
	if errors.Is(err, errConfirmMAC) {
		e.fail(packet.ErrorBadConfirmMAC, err)
		return nil, false
	}
	if err != nil {
		e.logger("acceptConfirm").WithError(err).Debug("Dropping malformed Confirm")
		return nil, false
	}
	if err := e.checkPeerH0(body.H0, e.role); err != nil {
		e.warn(err.Error(), ErrProtocolViolation)
		return nil, false
	}
	e.peerFlags = body
	e.peerConfirm = crypto.Clone(msg)
	return body, true
}

// acceptMultiStreamConfirm1 authenticates a Confirm1 answering our
// multistream Commit with keys derived on the side. The initiator role and
// the keys are taken only once the confirm_mac and the peer's hash chain
// verify; anything else is dropped and the engine stays in CommitSent.
func (e *Engine) acceptMultiStreamConfirm1(msg []byte) (*packet.ConfirmBody, bool) {
	keys := e.deriveMultiStream(e.peerHelloMsg, e.commitMsg, e.zid, e.peerHello.ZID)
	body, err := e.openConfirm(msg, keys, Responder)
	if err == nil {
		err = e.checkPeerH0(body.H0, Initiator)
	}
	if err != nil {
		keys.wipe()
		e.warn(fmt.Sprintf("dropping multistream Confirm1: %v", err), ErrProtocolViolation)
		return nil, false
	}
	e.role = Initiator
	e.keys = keys
	e.peerFlags = body
	e.peerConfirm = crypto.Clone(msg)
	return body, true
}

// handleConfirm1 runs on the initiator. In multistream mode it directly
// answers our Commit.
func (e *Engine) handleConfirm1(msg []byte) {
	if e.role == Initiator && e.state == WaitConfAck && bytes.Equal(msg, e.peerConfirm) {
		return
	}
	var body *packet.ConfirmBody
	var ok bool
	switch {
	case e.state == WaitConfirm1 && e.role == Initiator:
		body, ok = e.acceptConfirm(msg)
	case e.state == CommitSent && e.keyAgreement == algorithm.Mult:
		body, ok = e.acceptMultiStreamConfirm1(msg)
	default:
		return
	}
	if !ok {
		return
	}
	e.cancelRetransmit()
	e.secretsReady(interfaces.ForReceiver)
	e.checkEnrollment(body)

	confirm2, err := e.buildConfirm(packet.TypeConfirm2)
	if err != nil {
		e.fail(packet.ErrorCriticalSoftware, err)
		return
	}
	e.send(confirm2)
	e.setState(WaitConfAck)
	e.startRetransmit(retransmitHandshake, e.opts.T2, confirm2)
}

// handleConfirm2 runs on the responder.
func (e *Engine) handleConfirm2(msg []byte) {
	if e.role != Responder {
		return
	}
	if e.state == Secure && bytes.Equal(msg, e.peerConfirm) {
		// Our Conf2ACK was lost.
		e.send(packet.SerializeSimple(packet.TypeConf2ACK))
		return
	}
	if e.state != WaitConfirm2 {
		return
	}
	body, ok := e.acceptConfirm(msg)
	if !ok {
		return
	}
	e.secretsReady(interfaces.Both)
	e.checkEnrollment(body)
	e.send(packet.SerializeSimple(packet.TypeConf2ACK))
	e.goSecure()
}

func (e *Engine) handleConf2ACK() {
	if e.state != WaitConfAck {
		return
	}
	e.cancelRetransmit()
	e.secretsReady(interfaces.ForSender)
	e.goSecure()
}

// goSecure finishes a negotiation: the SAS is rendered, the cache updated
// and the application told.
func (e *Engine) goSecure() {
	logger := e.logger("goSecure")

	if e.multi != nil {
		e.sas = e.multi.SAS
		e.verified = e.multi.Verified
	} else {
		sas, err := crypto.RenderSAS(e.sasType.Trimmed(), e.keys.sasValue())
		if err != nil {
			logger.WithError(err).Error("Failed to render SAS")
			e.warn(fmt.Sprintf("%v: %v", errSASRender, err), err)
		}
		e.sas = sas
		e.updateCache()
	}
	e.setState(Secure)

	name := ""
	if e.record != nil {
		name = e.record.Name
	}
	logger.WithFields(logrus.Fields{
		"peer_zid":    e.peerHello.ZID.String(),
		"role":        e.role.String(),
		"verified":    e.verified,
		"multistream": e.multi != nil,
	}).Info("ZRTP session secure")

	sas, verified := e.sas, e.verified
	e.emit(interfaces.Event{Kind: interfaces.EventPeerVerified, PeerName: name, Verified: verified})
	e.enqueue(func() { e.host.SecretsOn(sas, verified) })
}

// updateCache rotates the retained secrets after a successful DH
// negotiation. The rotation runs inside Cache.Update so changes made to the
// record while the negotiation was in flight are kept.
func (e *Engine) updateCache() {
	if e.cache == nil {
		return
	}
	now := e.opts.TimeProvider.Now()

	expiry := e.opts.CacheExpiry
	if e.peerFlags != nil && e.peerFlags.CacheExpiry < expiry {
		expiry = e.peerFlags.CacheExpiry
	}
	var expires time.Time
	if expiry != 0 && expiry != packet.CacheExpiryForever {
		expires = now.Add(time.Duration(expiry) * time.Second)
	}
	resetVerified := e.cacheMismatch || (e.peerFlags != nil && !e.peerFlags.SASVerified)
	storeMiTM := e.opts.TrustedMiTM && e.opts.Enrollment
	if e.cacheMismatch {
		e.warn("retained secret mismatch, SAS must be verified again", nil)
	}

	rec, err := e.cache.Update(e.peerHello.ZID, func(r *cache.Record) error {
		if expiry != 0 {
			r.SetNewRS1(e.keys.newRS, expires)
		}
		if resetVerified {
			r.ResetSASVerified()
		}
		if storeMiTM {
			r.MiTMKey = crypto.Clone(e.keys.mitmKey)
		}
		r.LastUse = now
		return nil
	})
	if err != nil {
		e.warn("failed to store retained secret", err)
		if e.record != nil && resetVerified {
			e.record.ResetSASVerified()
		}
		if e.record != nil {
			e.verified = e.record.SASVerified()
		}
		return
	}
	e.record = rec
	e.verified = rec.SASVerified()
}

// checkEnrollment raises an enrollment request when a trusted MiTM asks
// for it.
func (e *Engine) checkEnrollment(body *packet.ConfirmBody) {
	if !body.Enrollment || e.multi != nil {
		return
	}
	if !e.peerHello.MiTM {
		e.warn("peer requested enrollment without announcing itself as a PBX", ErrProtocolViolation)
		return
	}
	e.pendingEnrollment = true
	info := fmt.Sprintf("PBX %s requests enrollment", e.peerHello.ZID)
	e.emit(interfaces.Event{Kind: interfaces.EventNeedEnrollment, Message: info})
}

// AcceptEnrollment answers an enrollment request. Accepting stores the
// PBX's trusted MiTM key, which later authenticates its SASrelay messages.
func (e *Engine) AcceptEnrollment(accept bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pendingEnrollment {
		return fmt.Errorf("%w: no enrollment pending", ErrInvalidState)
	}
	if e.keys == nil {
		return fmt.Errorf("%w: enrollment in %s", ErrInvalidState, e.state)
	}
	e.pendingEnrollment = false
	logger := e.logger("AcceptEnrollment").WithFields(logrus.Fields{
		"peer_zid": e.peerHello.ZID.String(),
		"accept":   accept,
	})
	if !accept {
		logger.Info("Enrollment declined")
		return nil
	}
	if e.cache == nil {
		return fmt.Errorf("enrollment needs a peer cache: %w", ErrInvalidOptions)
	}
	mitmKey := e.keys.mitmKey
	rec, err := e.cache.Update(e.peerHello.ZID, func(r *cache.Record) error {
		r.MiTMKey = crypto.Clone(mitmKey)
		return nil
	})
	if err != nil {
		return err
	}
	e.record = rec
	logger.Info("Enrolled with trusted PBX")
	return nil
}
