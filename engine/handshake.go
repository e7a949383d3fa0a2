package engine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/packet"
)

func (e *Engine) handleCommit(msg []byte) {
	logger := e.logger("handleCommit")

	if e.role == Responder && bytes.Equal(msg, e.peerCommitMsg) {
		// The initiator did not get our answer.
		if e.lastResponse != nil && (e.state == WaitDHPart2 || e.state == WaitConfirm2) {
			e.send(e.lastResponse)
		}
		return
	}
	if e.role != NoRole {
		logger.WithField("role", e.role.String()).Debug("Ignoring Commit after roles are fixed")
		return
	}
	switch e.state {
	case Detect, AckDetected, AckSent, WaitCommit, CommitSent:
	default:
		return
	}
	if e.peerHello == nil {
		logger.Debug("Ignoring Commit before the peer Hello")
		return
	}

	commit, err := packet.ParseCommit(msg)
	if err != nil {
		logger.WithError(err).Debug("Dropping malformed Commit")
		return
	}
	if commit.ZID != e.peerHello.ZID {
		e.warn("Commit ZID differs from the peer Hello", ErrProtocolViolation)
		return
	}
	if !bytes.Equal(crypto.SHA256().Sum(commit.H2), e.peerHello.H3) {
		e.warn("Commit H2 does not hash to the peer's H3", ErrProtocolViolation)
		return
	}
	if !e.verifyPeerHelloMAC(commit.H2) {
		e.warn("peer Hello MAC is invalid", ErrProtocolViolation)
		return
	}

	if e.state == CommitSent && !e.loseGlare(commit) {
		logger.Info("Commit contention resolved, staying initiator")
		return
	}

	if code, err := e.checkCommitAlgorithms(commit); err != nil {
		e.fail(code, err)
		return
	}

	e.cancelRetransmit()
	e.role = Responder
	e.peerCommit = commit
	e.peerCommitMsg = crypto.Clone(msg)
	e.peerH2 = commit.H2
	if e.dhKey != nil {
		e.dhKey.Wipe()
		e.dhKey = nil
	}
	e.commitMsg, e.dhPart2Msg = nil, nil
	if err := e.selectAlgorithms(commit.Hash, commit.Cipher, commit.AuthTag, commit.KeyAgreement, commit.SASType); err != nil {
		e.fail(packet.ErrorCriticalSoftware, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"hash":   commit.Hash.Trimmed(),
		"cipher": commit.Cipher.Trimmed(),
		"pubkey": commit.KeyAgreement.Trimmed(),
	}).Info("Accepted Commit as responder")

	if commit.IsMultiStream() {
		e.keys = e.deriveMultiStream(e.helloMsg, msg, e.peerHello.ZID, e.zid)
		e.sendConfirm1()
		return
	}

	e.loadSecrets()
	dh1, err := e.buildDHPart(packet.TypeDHPart1, Responder)
	if err != nil {
		e.fail(packet.ErrorCriticalSoftware, err)
		return
	}
	e.dhPart1Msg = dh1
	e.lastResponse = dh1
	e.send(dh1)
	e.setState(WaitDHPart2)
}

// loseGlare resolves two crossing Commits and reports whether the peer's
// Commit wins. A DH Commit beats a multistream Commit.
func (e *Engine) loseGlare(peer *packet.Commit) bool {
	ownMult := e.keyAgreement == algorithm.Mult
	switch {
	case ownMult && !peer.IsMultiStream():
		return true
	case !ownMult && peer.IsMultiStream():
		return false
	}
	return ResolveGlare(e.helloMsg, e.peerHelloMsg) == Responder
}

// checkCommitAlgorithms verifies that we offered or implicitly support every
// algorithm the initiator chose.
func (e *Engine) checkCommitAlgorithms(c *packet.Commit) (packet.ErrorCode, error) {
	chosen := map[algorithm.Category]algorithm.Name{
		algorithm.Hash:         c.Hash,
		algorithm.Cipher:       c.Cipher,
		algorithm.AuthLength:   c.AuthTag,
		algorithm.KeyAgreement: c.KeyAgreement,
		algorithm.SASType:      c.SASType,
	}
	for _, cat := range algorithm.Categories {
		n := chosen[cat]
		if !algorithm.Known(cat, n) || !e.cfg.Supports(cat, n) {
			return errorCodeFor(cat), fmt.Errorf("%w: %s %q", algorithm.ErrUnsupportedAlgorithm, cat, string(n))
		}
	}
	if c.IsMultiStream() {
		if e.multi == nil {
			return packet.ErrorNoSharedSecret, errors.New("multistream Commit without a secure master stream")
		}
		if e.multi.PeerZID != c.ZID {
			return packet.ErrorNoSharedSecret, fmt.Errorf("multistream Commit from %s, master stream peer is %s", c.ZID, e.multi.PeerZID)
		}
	}
	return 0, nil
}

// handleDHPart1 runs on the initiator: the responder's public value fixes
// the roles and completes the key agreement.
func (e *Engine) handleDHPart1(msg []byte) {
	logger := e.logger("handleDHPart1")
	if e.state != CommitSent || e.keyAgreement == algorithm.Mult {
		return
	}
	part, err := packet.ParseDHPart(msg)
	if err != nil {
		logger.WithError(err).Debug("Dropping malformed DHPart1")
		return
	}
	sha := crypto.SHA256()
	h2 := sha.Sum(part.H1)
	if !bytes.Equal(sha.Sum(h2), e.peerHello.H3) {
		e.warn("DHPart1 H1 does not hash to the peer's H3", ErrProtocolViolation)
		return
	}
	if !e.verifyPeerHelloMAC(h2) {
		e.warn("peer Hello MAC is invalid", ErrProtocolViolation)
		return
	}
	if len(part.PublicValue) != e.group.PublicValueLength() {
		e.fail(packet.ErrorBadPublicValue, fmt.Errorf("%w: %d bytes for %s", crypto.ErrBadPublicValue, len(part.PublicValue), e.group.Name()))
		return
	}

	e.cancelRetransmit()
	e.role = Initiator
	e.peerH2, e.peerH1 = h2, part.H1
	e.dhPart1Msg = crypto.Clone(msg)

	th := totalHash(e.hash, e.peerHelloMsg, e.commitMsg, e.dhPart1Msg, e.dhPart2Msg)
	if err := e.deriveDH(part, Responder, th, e.zid, e.peerHello.ZID); err != nil {
		e.fail(packet.ErrorBadPublicValue, err)
		return
	}

	e.send(e.dhPart2Msg)
	e.setState(WaitConfirm1)
	e.startRetransmit(retransmitHandshake, e.opts.T2, e.dhPart2Msg)
}

// handleDHPart2 runs on the responder.
func (e *Engine) handleDHPart2(msg []byte) {
	logger := e.logger("handleDHPart2")
	if e.role != Responder {
		return
	}
	if e.state == WaitConfirm2 && bytes.Equal(msg, e.dhPart2Msg) {
		e.send(e.lastResponse)
		return
	}
	if e.state != WaitDHPart2 {
		return
	}

	part, err := packet.ParseDHPart(msg)
	if err != nil {
		logger.WithError(err).Debug("Dropping malformed DHPart2")
		return
	}
	sha := crypto.SHA256()
	if !bytes.Equal(sha.Sum(part.H1), e.peerH2) {
		e.warn("DHPart2 H1 does not hash to the Commit H2", ErrProtocolViolation)
		return
	}
	if !sha.VerifyMAC64(e.peerCommit.MAC, part.H1, packet.MACInput(e.peerCommitMsg)) {
		e.warn("Commit MAC is invalid", ErrProtocolViolation)
		return
	}
	if !bytes.Equal(hvi(e.hash, msg, e.helloMsg), e.peerCommit.HVI) {
		e.fail(packet.ErrorHVIMismatch, errors.New("DHPart2 does not match the committed hvi"))
		return
	}
	if len(part.PublicValue) != e.group.PublicValueLength() {
		e.fail(packet.ErrorBadPublicValue, fmt.Errorf("%w: %d bytes for %s", crypto.ErrBadPublicValue, len(part.PublicValue), e.group.Name()))
		return
	}

	e.peerH1 = part.H1
	e.dhPart2Msg = crypto.Clone(msg)
	th := totalHash(e.hash, e.helloMsg, e.peerCommitMsg, e.dhPart1Msg, e.dhPart2Msg)
	if err := e.deriveDH(part, Initiator, th, e.peerHello.ZID, e.zid); err != nil {
		e.fail(packet.ErrorBadPublicValue, err)
		return
	}
	e.sendConfirm1()
}

// deriveDH computes DHResult, picks the shared secrets and derives the
// session keys.
func (e *Engine) deriveDH(peer *packet.DHPart, peerRole Role, th []byte, zidi, zidr packet.ZID) error {
	dhResult, err := e.dhKey.SharedSecret(peer.PublicValue)
	e.dhKey.Wipe()
	e.dhKey = nil
	if err != nil {
		return err
	}
	defer crypto.Wipe(dhResult)

	m := e.secrets.match(e.hash, peer, peerRole, e.peerHello.H3)
	e.cacheMismatch = m.mismatch
	if m.mismatch {
		e.logger("deriveDH").WithField("peer_zid", e.peerHello.ZID.String()).Warn("Retained secret mismatch")
	}

	s0 := computeS0(e.hash, dhResult, zidi, zidr, th, m.s1, m.s2, m.s3)
	defer crypto.Wipe(s0)
	keyLen, err := crypto.CipherKeyLength(string(e.cipher))
	if err != nil {
		return err
	}
	e.keys = deriveKeys(e.hash, s0, kdfContext(zidi, zidr, th), keyLen)

	e.logger("deriveDH").WithFields(logrus.Fields{
		"s1":               m.s1 != nil,
		"s2":               m.s2 != nil,
		"s3":               m.s3 != nil,
		"session_key_size": len(e.keys.sessionKey),
	}).Debug("Derived session keys")
	return nil
}

// deriveMultiStream derives the keys of a multistream session from the
// master stream's session key. total_hash covers the responder's Hello and
// the Commit only.
func (e *Engine) deriveMultiStream(responderHello, commit []byte, zidi, zidr packet.ZID) *sessionKeys {
	th := totalHash(e.hash, responderHello, commit)
	ctx := kdfContext(zidi, zidr, th)
	s0 := multiStreamS0(e.hash, e.multi.SessionKey, ctx)
	defer crypto.Wipe(s0)
	keyLen, _ := crypto.CipherKeyLength(string(e.cipher))
	return deriveKeys(e.hash, s0, ctx, keyLen)
}
