package engine

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/packet"
)

func (e *Engine) handleHello(msg []byte) {
	logger := e.logger("handleHello")

	if e.peerHelloMsg != nil {
		if !bytes.Equal(msg, e.peerHelloMsg) {
			logger.Warn("Ignoring a different Hello from the peer during negotiation")
			return
		}
		// Our HelloACK was lost.
		if e.state.negotiating() {
			e.send(packet.SerializeSimple(packet.TypeHelloACK))
		}
		return
	}
	if !e.state.negotiating() {
		return
	}

	hello, err := packet.ParseHello(msg)
	if err != nil {
		logger.WithError(err).Debug("Dropping malformed Hello")
		return
	}
	if e.peerHelloHash != "" {
		got := hex.EncodeToString(crypto.SHA256().Sum(msg))
		if got != e.peerHelloHash {
			e.warn("peer Hello does not match the hash received over signaling", ErrProtocolViolation)
			return
		}
	}
	if !strings.HasPrefix(hello.Version, "1.") {
		e.fail(packet.ErrorUnsupportedVersion, fmt.Errorf("peer version %q", hello.Version))
		return
	}
	if hello.ZID == e.zid {
		e.fail(packet.ErrorEqualZID, fmt.Errorf("peer uses our ZID %s", e.zid))
		return
	}
	if e.multi != nil && hello.ZID != e.multi.PeerZID {
		e.fail(packet.ErrorNoSharedSecret, fmt.Errorf("multistream peer %s, master stream peer is %s", hello.ZID, e.multi.PeerZID))
		return
	}
	for _, cat := range algorithm.Categories {
		if _, err := algorithm.Negotiate(cat, e.cfg.List(cat), hello.List(cat)); err != nil {
			e.fail(errorCodeFor(cat), err)
			return
		}
	}

	e.peerHello = hello
	e.peerHelloMsg = crypto.Clone(msg)
	logger.WithFields(logrus.Fields{
		"peer_zid":    hello.ZID.String(),
		"peer_client": strings.TrimRight(hello.ClientID, " "),
		"peer_mitm":   hello.MiTM,
		"peer_pasv":   hello.Passive,
	}).Info("Received peer Hello")

	e.send(packet.SerializeSimple(packet.TypeHelloACK))
	switch e.state {
	case Detect:
		e.setState(AckSent)
	case AckDetected:
		e.readyToCommit()
	}
}

func (e *Engine) handleHelloACK() {
	switch e.state {
	case Detect:
		e.cancelRetransmit()
		e.setState(AckDetected)
	case AckSent:
		e.cancelRetransmit()
		e.readyToCommit()
	}
}

// readyToCommit is reached once both Hellos are acknowledged.
func (e *Engine) readyToCommit() {
	if e.opts.Passive {
		e.setState(WaitCommit)
		return
	}
	if err := e.sendCommit(); err != nil {
		e.fail(packet.ErrorCriticalSoftware, err)
	}
}

// negotiate picks the algorithms this endpoint commits to.
func (e *Engine) negotiate() error {
	var chosen [5]algorithm.Name
	for _, cat := range algorithm.Categories {
		n, err := algorithm.Negotiate(cat, e.cfg.List(cat), e.peerHello.List(cat))
		if err != nil {
			return err
		}
		chosen[cat] = n
	}

	ka := chosen[algorithm.KeyAgreement]
	if e.multi != nil {
		if !containsName(e.peerHello.KeyAgreements, algorithm.Mult) {
			return fmt.Errorf("%w: peer does not offer multistream", algorithm.ErrNoCommonAlgorithm)
		}
		ka = algorithm.Mult
	} else if ka == algorithm.Mult {
		// Mult needs a master stream; fall back to the next common DH group.
		prefs := e.cfg.List(algorithm.KeyAgreement)
		var dh []algorithm.Name
		for _, n := range prefs {
			if n.IsDH() {
				dh = append(dh, n)
			}
		}
		n, err := algorithm.Negotiate(algorithm.KeyAgreement, dh, e.peerHello.KeyAgreements)
		if err != nil {
			return err
		}
		ka = n
	}
	return e.selectAlgorithms(chosen[algorithm.Hash], chosen[algorithm.Cipher],
		chosen[algorithm.AuthLength], ka, chosen[algorithm.SASType])
}

func (e *Engine) selectAlgorithms(hash, cipher, auth, ka, sas algorithm.Name) error {
	h, err := crypto.HashFor(string(hash))
	if err != nil {
		return err
	}
	if _, err := crypto.CipherKeyLength(string(cipher)); err != nil {
		return err
	}
	if ka != algorithm.Mult {
		g, err := crypto.DHGroupFor(string(ka))
		if err != nil {
			return err
		}
		e.group = g
	} else {
		e.group = nil
	}
	e.hash = h
	e.cipher, e.authTag, e.keyAgreement, e.sasType = cipher, auth, ka, sas
	return nil
}

func containsName(list []algorithm.Name, n algorithm.Name) bool {
	for _, k := range list {
		if k == n {
			return true
		}
	}
	return false
}

// loadSecrets reads the peer's cache record and the retained secrets that
// are still valid.
func (e *Engine) loadSecrets() {
	crypto.Wipe(e.secrets.rs1, e.secrets.rs2, e.secrets.pbx)
	e.secrets = sharedSecrets{aux: e.auxSecret}
	e.record = nil
	if e.cache == nil {
		return
	}
	rec, err := e.cache.GetRecord(e.peerHello.ZID)
	if err != nil {
		e.warn("peer cache unavailable, continuing without retained secrets", err)
		return
	}
	now := e.opts.TimeProvider.Now()
	if rec.RS1Valid(now) {
		e.secrets.rs1 = crypto.Clone(rec.RS1)
	}
	if rec.RS2Valid(now) {
		e.secrets.rs2 = crypto.Clone(rec.RS2)
	}
	if rec.HasMiTMKey() {
		e.secrets.pbx = crypto.Clone(rec.MiTMKey)
	}
	e.record = rec
	e.verified = rec.SASVerified()
}

// buildDHPart creates our DHPart with a fresh key pair.
func (e *Engine) buildDHPart(t packet.MessageType, role Role) ([]byte, error) {
	if e.dhKey != nil {
		e.dhKey.Wipe()
	}
	key, err := e.group.GenerateKey(e.opts.Rand)
	if err != nil {
		return nil, fmt.Errorf("generate %s key: %w", e.group.Name(), err)
	}
	e.dhKey = key

	ids := e.secrets.ids(e.hash, role, e.h3, e.random)
	part := &packet.DHPart{
		Type:        t,
		H1:          e.h1,
		RS1ID:       ids.rs1,
		RS2ID:       ids.rs2,
		AuxSecretID: ids.aux,
		PBXSecretID: ids.pbx,
		PublicValue: key.PublicValue(),
	}
	msg, err := part.Serialize()
	if err != nil {
		return nil, err
	}
	packet.SetMAC(msg, crypto.SHA256().MAC64(e.h0, packet.MACInput(msg)))
	return msg, nil
}

// sendCommit negotiates algorithms, prepares DHPart2 (which hvi commits to)
// and sends Commit.
func (e *Engine) sendCommit() error {
	if err := e.negotiate(); err != nil {
		return err
	}
	commit := &packet.Commit{
		H2:           e.h2,
		ZID:          e.zid,
		Hash:         algorithm.Name(e.hash.Name()),
		Cipher:       e.cipher,
		AuthTag:      e.authTag,
		KeyAgreement: e.keyAgreement,
		SASType:      e.sasType,
	}

	if e.keyAgreement == algorithm.Mult {
		commit.Nonce = e.random(packet.NonceLength)
	} else {
		e.loadSecrets()
		dh2, err := e.buildDHPart(packet.TypeDHPart2, Initiator)
		if err != nil {
			return err
		}
		e.dhPart2Msg = dh2
		commit.HVI = hvi(e.hash, dh2, e.peerHelloMsg)
	}

	msg, err := commit.Serialize()
	if err != nil {
		return err
	}
	packet.SetMAC(msg, crypto.SHA256().MAC64(e.h1, packet.MACInput(msg)))
	e.commitMsg = msg

	e.logger("sendCommit").WithFields(logrus.Fields{
		"hash":   e.hash.Name(),
		"cipher": e.cipher.Trimmed(),
		"auth":   e.authTag.Trimmed(),
		"pubkey": e.keyAgreement.Trimmed(),
		"sas":    e.sasType.Trimmed(),
	}).Info("Sending Commit")

	e.send(msg)
	e.setState(CommitSent)
	e.startRetransmit(retransmitHandshake, e.opts.T2, msg)
	return nil
}

// verifyPeerHelloMAC checks the peer's Hello once its H2 is known.
func (e *Engine) verifyPeerHelloMAC(h2 []byte) bool {
	return crypto.SHA256().VerifyMAC64(e.peerHello.MAC, h2, packet.MACInput(e.peerHelloMsg))
}

// endpointHash identifies this endpoint in Ping and PingACK.
func (e *Engine) endpointHash() []byte {
	return crypto.SHA256().Sum(e.zid[:])[:packet.EndpointHashLength]
}

func (e *Engine) handlePing(pkt *packet.Packet) {
	ping, err := packet.ParsePing(pkt.Message)
	if err != nil {
		e.logger("handlePing").WithError(err).Debug("Dropping malformed Ping")
		return
	}
	ack := &packet.PingACK{
		SenderEndpointHash:   e.endpointHash(),
		ReceivedEndpointHash: ping.EndpointHash,
		SSRC:                 pkt.SSRC,
	}
	msg, err := ack.Serialize()
	if err != nil {
		e.logger("handlePing").WithError(err).Error("Failed to build PingACK")
		return
	}
	e.send(msg)
}
