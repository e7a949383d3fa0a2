package engine

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/cache"
	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/interfaces"
	"github.com/opd-ai/zrtp/limits"
	"github.com/opd-ai/zrtp/packet"
)

// retransmitKind says what a running retransmission timer protects and
// therefore what happens when it runs out.
type retransmitKind int

const (
	retransmitNone retransmitKind = iota
	retransmitHello
	retransmitHandshake
	retransmitGoClear
	retransmitError
	retransmitRelay
)

type retransmission struct {
	kind     retransmitKind
	token    interfaces.TimerToken
	policy   RetransmitPolicy
	interval time.Duration
	retries  int
	msg      []byte
}

// Engine runs the ZRTP negotiation for one media stream.
//
// All entry points lock the engine. Calls into the Host other than the timer
// methods are queued while the lock is held and delivered in order once it
// is released, so a host may feed packets back into the engine from its
// callbacks.
type Engine struct {
	mu    sync.Mutex
	cfg   *algorithm.Configuration
	host  interfaces.Host
	cache cache.Cache
	opts  *Options

	state State
	role  Role
	zid   packet.ZID

	// Own hash chain and Hello.
	h0, h1, h2, h3 []byte
	hello          *packet.Hello
	helloMsg       []byte
	seq            uint16

	// Peer Hello and the hash images revealed so far.
	peerHello     *packet.Hello
	peerHelloMsg  []byte
	peerHelloHash string
	peerH2        []byte
	peerH1        []byte

	// Negotiated algorithms.
	hash         *crypto.Hash
	cipher       algorithm.Name
	authTag      algorithm.Name
	keyAgreement algorithm.Name
	sasType      algorithm.Name
	group        crypto.DHGroup
	dhKey        crypto.DHPrivateKey

	// Messages kept for hvi, total_hash and deferred MAC checks.
	commitMsg     []byte
	peerCommit    *packet.Commit
	peerCommitMsg []byte
	dhPart1Msg    []byte
	dhPart2Msg    []byte
	peerConfirm   []byte
	lastResponse  []byte

	record        *cache.Record
	secrets       sharedSecrets
	auxSecret     []byte
	cacheMismatch bool

	keys        *sessionKeys
	receiveKeys bool
	sendKeys    bool
	peerFlags   *packet.ConfirmBody
	sas         string
	verified    bool

	multi             *MultiStreamParams
	pendingEnrollment bool

	retx retransmission

	outMu    sync.Mutex
	outbox   []func()
	draining bool
}

// New creates an engine for one stream.
//
// Parameters:
//   - cfg: Algorithms offered in Hello, most preferred first (cloned)
//   - host: Transport, timers and SRTP installation for the stream
//   - c: Peer cache shared by all streams; nil runs without retained secrets
//   - opts: Engine options (nil for NewOptions)
//
// Returns:
//   - *Engine: The engine in state Initial
//   - error: Invalid configuration or options
func New(cfg *algorithm.Configuration, host interfaces.Host, c cache.Cache, opts *Options) (*Engine, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: nil host", ErrInvalidOptions)
	}
	if cfg == nil {
		cfg = algorithm.NewStandardConfiguration()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:   cfg.Clone(),
		host:  host,
		cache: c,
		opts:  opts.normalize(),
	}

	logger := e.logger("New")
	if c != nil {
		e.zid = c.LocalZID()
	}
	if e.zid.IsZero() {
		if _, err := io.ReadFull(e.opts.Rand, e.zid[:]); err != nil {
			return nil, fmt.Errorf("generate ZID: %w", err)
		}
		logger.WithField("zid", e.zid.String()).Warn("Peer cache unavailable, using an ephemeral ZID")
		e.cache = nil
	}

	if err := e.buildHello(); err != nil {
		logger.WithError(err).Error("Failed to build Hello")
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"zid":    e.zid.String(),
		"config": e.cfg.String(),
	}).Debug("Engine created")
	return e, nil
}

func (e *Engine) logger(function string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"function": function,
		"stream":   e.opts.StreamID,
	})
}

func (e *Engine) random(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(e.opts.Rand, b); err != nil {
		// A failing random source leaves zeros, which never match a secret ID.
		e.logger("random").WithError(err).Error("Random source failed")
	}
	return b
}

// buildHello creates the hash chain and the Hello message.
func (e *Engine) buildHello() error {
	e.h0 = make([]byte, packet.HashImageLength)
	if _, err := io.ReadFull(e.opts.Rand, e.h0); err != nil {
		return fmt.Errorf("generate H0: %w", err)
	}
	e.h1, e.h2, e.h3 = hashChain(e.h0)

	e.hello = &packet.Hello{
		Version:       packet.ProtocolVersion,
		ClientID:      e.opts.ClientID,
		H3:            e.h3,
		ZID:           e.zid,
		MiTM:          e.opts.TrustedMiTM,
		Passive:       e.opts.Passive,
		Hashes:        e.cfg.List(algorithm.Hash),
		Ciphers:       e.cfg.List(algorithm.Cipher),
		AuthTags:      e.cfg.List(algorithm.AuthLength),
		KeyAgreements: e.cfg.List(algorithm.KeyAgreement),
		SASTypes:      e.cfg.List(algorithm.SASType),
	}
	msg, err := e.hello.Serialize()
	if err != nil {
		return err
	}
	packet.SetMAC(msg, crypto.SHA256().MAC64(e.h2, packet.MACInput(msg)))
	e.hello.MAC = crypto.Clone(packet.TrailingMAC(msg))
	e.helloMsg = msg
	return nil
}

// renewHello wipes the hash chain and builds a new one with a new Hello.
// Without a working random source the engine cannot start again.
func (e *Engine) renewHello() {
	crypto.Wipe(e.h0, e.h1, e.h2)
	e.h0, e.h1, e.h2, e.h3 = nil, nil, nil, nil
	e.hello, e.helloMsg = nil, nil
	if err := e.buildHello(); err != nil {
		e.logger("renewHello").WithError(err).Error("Failed to build Hello")
		e.hello, e.helloMsg = nil, nil
	}
}

// Start begins the negotiation by sending Hello.
func (e *Engine) Start() error {
	e.mu.Lock()
	err := e.start()
	e.mu.Unlock()
	e.drain()
	return err
}

func (e *Engine) start() error {
	if e.state != Initial {
		return fmt.Errorf("%w: start in %s", ErrInvalidState, e.state)
	}
	if e.helloMsg == nil {
		return fmt.Errorf("%w: no Hello, random source failed", ErrInvalidState)
	}
	e.logger("Start").WithField("multistream", e.multi != nil).Info("Starting ZRTP negotiation")
	e.setState(Detect)
	e.send(e.helloMsg)
	e.startRetransmit(retransmitHello, e.opts.T1, e.helloMsg)
	return nil
}

// Stop aborts any negotiation, removes installed keys and returns the
// engine to Initial.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.logger("Stop").WithField("state", e.state.String()).Info("Stopping ZRTP engine")
	e.cancelRetransmit()
	e.secretsOff(interfaces.Both)
	e.reset()
	if e.multi != nil {
		e.multi.Wipe()
		e.multi = nil
	}
	e.setState(Initial)
	e.mu.Unlock()
	e.drain()
}

// reset forgets the peer and wipes negotiation state. Once a Hello has been
// sent, the hash chain and Hello are replaced so a later Start never reveals
// the same H3 or preimages again.
func (e *Engine) reset() {
	if e.state != Initial {
		e.renewHello()
	}
	if e.dhKey != nil {
		e.dhKey.Wipe()
		e.dhKey = nil
	}
	if e.keys != nil {
		e.keys.wipe()
		e.keys = nil
	}
	crypto.Wipe(e.secrets.rs1, e.secrets.rs2, e.secrets.pbx)
	e.secrets = sharedSecrets{aux: e.auxSecret}
	e.role = NoRole
	e.peerHello, e.peerHelloMsg = nil, nil
	e.peerH2, e.peerH1 = nil, nil
	e.hash, e.group = nil, nil
	e.cipher, e.authTag, e.keyAgreement, e.sasType = "", "", "", ""
	e.commitMsg, e.peerCommit, e.peerCommitMsg = nil, nil, nil
	e.dhPart1Msg, e.dhPart2Msg, e.peerConfirm, e.lastResponse = nil, nil, nil, nil
	e.record = nil
	e.cacheMismatch = false
	e.peerFlags = nil
	e.sas = ""
	e.verified = false
	e.pendingEnrollment = false
}

// HandlePacket processes one ZRTP packet received on the media path.
// Malformed packets are dropped and logged.
func (e *Engine) HandlePacket(data []byte) {
	e.mu.Lock()
	e.handlePacket(data)
	e.mu.Unlock()
	e.drain()
}

func (e *Engine) handlePacket(data []byte) {
	logger := e.logger("HandlePacket")
	pkt, err := packet.Parse(data)
	if err != nil {
		logger.WithError(err).Debug("Dropping malformed ZRTP packet")
		return
	}
	t, _ := packet.MessageTypeOf(pkt.Message)
	logger.WithFields(logrus.Fields{
		"type":  t.Short(),
		"state": e.state.String(),
		"seq":   pkt.Sequence,
	}).Debug("Received ZRTP message")

	if t == packet.TypePing {
		e.handlePing(pkt)
		return
	}
	if e.state == Initial {
		logger.WithField("type", t.Short()).Debug("Engine not started, ignoring message")
		return
	}

	msg := pkt.Message
	switch t {
	case packet.TypeHello:
		e.handleHello(msg)
	case packet.TypeHelloACK:
		e.handleHelloACK()
	case packet.TypeCommit:
		e.handleCommit(msg)
	case packet.TypeDHPart1:
		e.handleDHPart1(msg)
	case packet.TypeDHPart2:
		e.handleDHPart2(msg)
	case packet.TypeConfirm1:
		e.handleConfirm1(msg)
	case packet.TypeConfirm2:
		e.handleConfirm2(msg)
	case packet.TypeConf2ACK:
		e.handleConf2ACK()
	case packet.TypeGoClear:
		e.handleGoClear(msg)
	case packet.TypeClearACK:
		e.handleClearACK()
	case packet.TypeError:
		e.handleError(msg)
	case packet.TypeErrorACK:
		e.handleErrorACK()
	case packet.TypeSASRelay:
		e.handleSASRelay(msg)
	case packet.TypeRelayACK:
		e.handleRelayACK()
	case packet.TypePingACK:
		logger.Debug("Ignoring PingACK")
	}
}

// HandleTimeout is called by the host when a timer started through
// ActivateTimer expires. Tokens of cancelled or replaced timers are ignored.
func (e *Engine) HandleTimeout(token interfaces.TimerToken) {
	e.mu.Lock()
	e.handleTimeout(token)
	e.mu.Unlock()
	e.drain()
}

func (e *Engine) handleTimeout(token interfaces.TimerToken) {
	if token == 0 || token != e.retx.token {
		return
	}
	r := &e.retx
	r.retries++
	if r.retries > r.policy.MaxRetries {
		kind := r.kind
		e.retx = retransmission{}
		e.retransmitExhausted(kind)
		return
	}
	e.logger("HandleTimeout").WithFields(logrus.Fields{
		"retry":    r.retries,
		"interval": r.interval.String(),
	}).Debug("Retransmitting")
	e.send(r.msg)
	r.interval = r.policy.next(r.interval)
	r.token = e.host.ActivateTimer(r.interval)
}

func (e *Engine) retransmitExhausted(kind retransmitKind) {
	switch kind {
	case retransmitHello:
		// The peer does not speak ZRTP; the call continues unencrypted.
		e.warn("no answer to Hello, peer does not support ZRTP", ErrTimeout)
		e.reset()
		e.setState(Initial)
	case retransmitHandshake, retransmitGoClear:
		e.secretsOff(interfaces.Both)
		e.warn(fmt.Sprintf("no answer in state %s", e.state), ErrTimeout)
		e.setState(Error)
		if e.keys != nil {
			e.keys.wipe()
			e.keys = nil
		}
	case retransmitError:
		e.logger("HandleTimeout").Debug("Error message not acknowledged")
	case retransmitRelay:
		e.warn("SASrelay not acknowledged", ErrTimeout)
	}
}

func (e *Engine) startRetransmit(kind retransmitKind, p RetransmitPolicy, msg []byte) {
	e.cancelRetransmit()
	e.retx = retransmission{
		kind:     kind,
		policy:   p,
		interval: p.Initial,
		msg:      msg,
	}
	e.retx.token = e.host.ActivateTimer(p.Initial)
}

func (e *Engine) cancelRetransmit() {
	if e.retx.token != 0 {
		e.host.CancelTimer(e.retx.token)
	}
	e.retx = retransmission{}
}

// send frames msg into a ZRTP packet and queues it for the host.
func (e *Engine) send(msg []byte) {
	p := packet.Packet{Sequence: e.seq, SSRC: e.opts.SSRC, Message: msg}
	e.seq++
	data := p.Serialize()
	t, _ := packet.MessageTypeOf(msg)
	logger := e.logger("send")
	e.enqueue(func() {
		if !e.host.SendZrtpPacket(data) {
			logger.WithField("type", t.Short()).Warn("Host failed to send ZRTP packet")
		}
	})
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	prev := e.state
	e.state = s
	e.logger("setState").WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   s.String(),
		"role": e.role.String(),
	}).Info("ZRTP state change")
	e.emit(interfaces.Event{Kind: interfaces.EventState, State: s.String()})
}

func (e *Engine) emit(ev interfaces.Event) {
	e.enqueue(func() { e.host.Event(ev) })
}

// warn reports a non-fatal problem to the host.
func (e *Engine) warn(message string, err error) {
	entry := e.logger("warn").WithField("state", e.state.String())
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn(message)
	e.emit(interfaces.Event{Kind: interfaces.EventWarning, Message: message, Err: err})
}

// fail aborts the negotiation after a local error: the Error message is
// sent and retransmitted until acknowledged and the call stays in clear.
func (e *Engine) fail(code packet.ErrorCode, cause error) {
	nerr := negotiationError(code, cause)
	e.logger("fail").WithFields(logrus.Fields{
		"code":  code.String(),
		"state": e.state.String(),
	}).Error("ZRTP negotiation failed")

	e.secretsOff(interfaces.Both)
	if e.keys != nil {
		e.keys.wipe()
		e.keys = nil
	}
	msg := packet.SerializeError(code)
	e.send(msg)
	e.startRetransmit(retransmitError, e.opts.T2, msg)
	e.warn(nerr.Error(), nerr)
	e.setState(Error)
}

// secretsOff withdraws installed SRTP keys in the given directions.
func (e *Engine) secretsOff(dir interfaces.EnableDirection) {
	var off interfaces.EnableDirection
	if dir.Has(interfaces.ForReceiver) && e.receiveKeys {
		off |= interfaces.ForReceiver
		e.receiveKeys = false
	}
	if dir.Has(interfaces.ForSender) && e.sendKeys {
		off |= interfaces.ForSender
		e.sendKeys = false
	}
	if off != 0 {
		e.enqueue(func() { e.host.SecretsOff(off) })
	}
}

// secretsReady hands SRTP keys for dir to the host.
func (e *Engine) secretsReady(dir interfaces.EnableDirection) {
	secrets := e.keys.srtpSecrets(string(e.cipher), string(e.authTag), e.role)
	if dir.Has(interfaces.ForReceiver) {
		e.receiveKeys = true
	}
	if dir.Has(interfaces.ForSender) {
		e.sendKeys = true
	}
	logger := e.logger("secretsReady")
	e.enqueue(func() {
		if !e.host.SecretsReady(secrets, dir) {
			logger.WithField("direction", dir.String()).Warn("Host refused SRTP keys")
			e.host.Event(interfaces.Event{
				Kind:    interfaces.EventWarning,
				Message: fmt.Sprintf("SRTP keys for %s not installed", dir),
			})
		}
	})
}

func (e *Engine) enqueue(fn func()) {
	e.outMu.Lock()
	e.outbox = append(e.outbox, fn)
	e.outMu.Unlock()
}

// drain runs queued host calls without holding e.mu. A host call that
// re-enters the engine appends to the queue; the outermost drain delivers it.
func (e *Engine) drain() {
	e.outMu.Lock()
	if e.draining {
		e.outMu.Unlock()
		return
	}
	e.draining = true
	for len(e.outbox) > 0 {
		fn := e.outbox[0]
		e.outbox[0] = nil
		e.outbox = e.outbox[1:]
		e.outMu.Unlock()
		fn()
		e.outMu.Lock()
	}
	e.outbox = nil
	e.draining = false
	e.outMu.Unlock()
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Role returns the role taken in the current negotiation.
func (e *Engine) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// LocalZID returns the ZID this engine announces.
func (e *Engine) LocalZID() packet.ZID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.zid
}

// SAS returns the short authentication string once the engine is Secure.
func (e *Engine) SAS() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sas == "" {
		return "", fmt.Errorf("%w: no SAS in %s", ErrInvalidState, e.state)
	}
	return e.sas, nil
}

// ExportedKey returns the "Exported key" derived for the application.
func (e *Engine) ExportedKey() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Secure || e.keys == nil {
		return nil, fmt.Errorf("%w: exported key in %s", ErrInvalidState, e.state)
	}
	return crypto.Clone(e.keys.exported), nil
}

// SignalingHelloHash returns the value for the a=zrtp-hash SDP attribute:
// the protocol version, a space and the hex SHA-256 of the own Hello.
func (e *Engine) SignalingHelloHash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return packet.ProtocolVersion + " " + hex.EncodeToString(crypto.SHA256().Sum(e.helloMsg))
}

// SetPeerHelloHash sets the peer's Hello hash received over signaling. A
// peer Hello that does not hash to it is dropped.
func (e *Engine) SetPeerHelloHash(value string) error {
	version, digest, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || len(version) != 4 {
		return fmt.Errorf("invalid hello hash %q", value)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != crypto.SHA256().Size() {
		return fmt.Errorf("invalid hello hash %q", value)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peerHelloHash = hex.EncodeToString(raw)
	return nil
}

// SetAuxSecret sets the auxiliary secret (s2) shared out of band, for
// example derived from the signaling channel. It applies to negotiations
// that have not reached the DHPart exchange.
func (e *Engine) SetAuxSecret(secret []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	crypto.Wipe(e.auxSecret)
	e.auxSecret = crypto.Clone(secret)
	e.secrets.aux = e.auxSecret
}

// SASVerified records that the users compared the SAS and it matched.
func (e *Engine) SASVerified() error {
	return e.setVerified(true)
}

// ResetSASVerified clears the verified flag for the peer.
func (e *Engine) ResetSASVerified() error {
	return e.setVerified(false)
}

func (e *Engine) setVerified(v bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peerHello == nil {
		return ErrNoPeer
	}
	e.verified = v
	if e.cache == nil || e.multi != nil {
		return nil
	}
	rec, err := e.cache.Update(e.peerHello.ZID, func(r *cache.Record) error {
		if v {
			r.SetSASVerified()
		} else {
			r.ResetSASVerified()
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.record = rec
	return nil
}

// SetPeerName stores a display name for the current peer in the cache. The
// name is reported with later PeerVerified events for this peer.
func (e *Engine) SetPeerName(name string) error {
	if err := limits.ValidatePeerName(name); err != nil {
		return fmt.Errorf("invalid peer name: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peerHello == nil {
		return ErrNoPeer
	}
	if e.cache == nil {
		return fmt.Errorf("peer names need a peer cache: %w", ErrInvalidOptions)
	}
	rec, err := e.cache.Update(e.peerHello.ZID, func(r *cache.Record) error {
		r.Name = name
		return nil
	})
	if err != nil {
		return err
	}
	e.logger("SetPeerName").WithField("peer_zid", e.peerHello.ZID.String()).Debug("Stored peer name")
	e.record = rec
	return nil
}

// Info summarizes the negotiation for display and diagnostics.
type Info struct {
	State         State
	Role          Role
	LocalZID      packet.ZID
	PeerZID       packet.ZID
	PeerClientID  string
	Hash          algorithm.Name
	Cipher        algorithm.Name
	AuthTag       algorithm.Name
	KeyAgreement  algorithm.Name
	SASType       algorithm.Name
	SAS           string
	Verified      bool
	MultiStream   bool
	CacheMismatch bool
	PeerMiTM      bool
}

// Info returns a snapshot of the negotiation.
func (e *Engine) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	info := Info{
		State:         e.state,
		Role:          e.role,
		LocalZID:      e.zid,
		Cipher:        e.cipher,
		AuthTag:       e.authTag,
		KeyAgreement:  e.keyAgreement,
		SASType:       e.sasType,
		SAS:           e.sas,
		Verified:      e.verified,
		MultiStream:   e.multi != nil,
		CacheMismatch: e.cacheMismatch,
	}
	if e.hash != nil {
		info.Hash = algorithm.Name(e.hash.Name())
	}
	if e.peerHello != nil {
		info.PeerZID = e.peerHello.ZID
		info.PeerClientID = strings.TrimRight(e.peerHello.ClientID, " \x00")
		info.PeerMiTM = e.peerHello.MiTM
	}
	return info
}

// ResolveGlare decides the roles when both endpoints sent a DH Commit: the
// endpoint whose Hello has the larger SHA-256 digest, read as a big-endian
// integer, is the initiator. NoRole is returned for identical Hellos.
func ResolveGlare(ownHello, peerHello []byte) Role {
	sha := crypto.SHA256()
	switch bytes.Compare(sha.Sum(ownHello), sha.Sum(peerHello)) {
	case 1:
		return Initiator
	case -1:
		return Responder
	default:
		return NoRole
	}
}

// errorCodeFor maps an algorithm category to the Error code for an
// unsupported choice.
func errorCodeFor(cat algorithm.Category) packet.ErrorCode {
	switch cat {
	case algorithm.Hash:
		return packet.ErrorUnsupportedHash
	case algorithm.Cipher:
		return packet.ErrorUnsupportedCipher
	case algorithm.AuthLength:
		return packet.ErrorUnsupportedAuthTag
	case algorithm.KeyAgreement:
		return packet.ErrorUnsupportedKeyAgree
	default:
		return packet.ErrorUnsupportedSAS
	}
}

// errSASRender is returned when the negotiated SAS type cannot be rendered.
var errSASRender = errors.New("cannot render SAS")
