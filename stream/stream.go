package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/cache"
	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/engine"
	"github.com/opd-ai/zrtp/interfaces"
	"github.com/opd-ai/zrtp/packet"
	"github.com/opd-ai/zrtp/timer"
)

var _ interfaces.Host = (*Stream)(nil)

// Options configures a Stream.
type Options struct {
	// ID names the stream in logs and listener callbacks.
	ID string

	// Config lists the algorithms offered; nil for the standard set.
	Config *algorithm.Configuration

	// Engine configures the negotiation; nil for engine.NewOptions.
	Engine *engine.Options

	// Timers schedules retransmissions; nil for a timer.Service owned by
	// the stream.
	Timers interfaces.TimerService

	// Listener receives the stream's notifications; nil for none.
	Listener interfaces.Listener
}

// NewOptions returns default options for a stream named id.
func NewOptions(id string) *Options {
	return &Options{ID: id, Engine: engine.NewOptions()}
}

// Statistics counts the packets a stream handled.
type Statistics struct {
	ZRTPSent     uint64
	ZRTPReceived uint64
	Protected    uint64
	Unprotected  uint64
	Clear        uint64
	AuthFailures uint64
}

type counters struct {
	zrtpSent, zrtpReceived atomic.Uint64
	protected, unprotected atomic.Uint64
	clear, authFailures    atomic.Uint64
}

// Stream binds a ZRTP engine to one RTP stream. It implements
// interfaces.Host for the engine: ZRTP packets go out through the
// transport, and the negotiated keys become SRTP contexts that protect the
// stream's media.
//
// The media path reads the SRTP contexts through atomic pointers and never
// waits for the engine.
type Stream struct {
	id        string
	engine    *engine.Engine
	transport interfaces.Transport
	timers    interfaces.TimerService
	ownTimers *timer.Service
	listener  interfaces.Listener

	send atomic.Pointer[srtp.Context]
	recv atomic.Pointer[srtp.Context]

	mu       sync.Mutex
	sas      string
	verified bool
	closed   bool

	stats counters
}

// New creates a stream that sends ZRTP packets through transport and keeps
// peer trust in c.
//
// Parameters:
//   - opts: Stream options (nil for NewOptions(""))
//   - transport: The media path for outbound ZRTP packets
//   - c: The peer cache, shared by all streams of a call (nil for none)
//
// Returns:
//   - *Stream: The stream, not yet started
//   - error: Invalid options
func New(opts *Options, transport interfaces.Transport, c cache.Cache) (*Stream, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", engine.ErrInvalidOptions)
	}
	if opts == nil {
		opts = NewOptions("")
	}

	s := &Stream{
		id:        opts.ID,
		transport: transport,
		timers:    opts.Timers,
		listener:  opts.Listener,
	}
	if s.timers == nil {
		s.ownTimers = timer.New()
		s.timers = s.ownTimers
	}
	if s.listener == nil {
		s.listener = interfaces.NopListener{}
	}

	engineOpts := engine.NewOptions()
	if opts.Engine != nil {
		o := *opts.Engine
		engineOpts = &o
	}
	if engineOpts.StreamID == "" {
		engineOpts.StreamID = opts.ID
	}

	e, err := engine.New(opts.Config, s, c, engineOpts)
	if err != nil {
		if s.ownTimers != nil {
			s.ownTimers.Close()
		}
		return nil, err
	}
	s.engine = e

	s.logger("New").WithField("zid", e.LocalZID().String()).Debug("Stream created")
	return s, nil
}

func (s *Stream) logger(function string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"function": "Stream." + function,
		"stream":   s.id,
	})
}

// ID returns the stream's name.
func (s *Stream) ID() string { return s.id }

// Engine returns the negotiation engine of the stream.
func (s *Stream) Engine() *engine.Engine { return s.engine }

// Start begins the ZRTP negotiation.
func (s *Stream) Start() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.engine.Start()
}

// StartMultiStream begins the negotiation in multistream mode, deriving
// keys from a secure stream of the same call.
func (s *Stream) StartMultiStream(params *engine.MultiStreamParams) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.engine.StartMultiStream(params)
}

// Stop ends the negotiation and removes the SRTP contexts. The stream can
// be started again.
func (s *Stream) Stop() {
	s.engine.Stop()
	s.send.Store(nil)
	s.recv.Store(nil)
	s.mu.Lock()
	s.sas, s.verified = "", false
	s.mu.Unlock()
}

// Close stops the stream and releases its timers.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	if s.ownTimers != nil {
		s.ownTimers.Close()
	}
	s.logger("Close").Debug("Stream closed")
}

func (s *Stream) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// ProcessIncoming handles one packet received on the media path. ZRTP
// packets are consumed by the engine and nil is returned. RTP packets are
// returned decrypted once receive keys are installed, unchanged before.
func (s *Stream) ProcessIncoming(data []byte) ([]byte, error) {
	if packet.IsZRTP(data) {
		s.stats.zrtpReceived.Add(1)
		s.engine.HandlePacket(data)
		return nil, nil
	}

	var header rtp.Header
	if _, err := header.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMedia, err)
	}
	ctx := s.recv.Load()
	if ctx == nil {
		s.stats.clear.Add(1)
		return data, nil
	}
	out, err := ctx.DecryptRTP(nil, data, &header)
	if err != nil {
		s.stats.authFailures.Add(1)
		s.logger("ProcessIncoming").WithFields(logrus.Fields{
			"ssrc":  header.SSRC,
			"seq":   header.SequenceNumber,
			"error": err.Error(),
		}).Debug("Dropping SRTP packet")
		return nil, fmt.Errorf("%w: %v", ErrUnprotect, err)
	}
	s.stats.unprotected.Add(1)
	return out, nil
}

// ProcessOutgoing protects one outbound RTP packet once send keys are
// installed; before that the packet is returned unchanged.
func (s *Stream) ProcessOutgoing(data []byte) ([]byte, error) {
	ctx := s.send.Load()
	if ctx == nil {
		s.stats.clear.Add(1)
		return data, nil
	}
	var header rtp.Header
	out, err := ctx.EncryptRTP(nil, data, &header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtect, err)
	}
	s.stats.protected.Add(1)
	return out, nil
}

// Statistics returns the packet counters.
func (s *Stream) Statistics() Statistics {
	return Statistics{
		ZRTPSent:     s.stats.zrtpSent.Load(),
		ZRTPReceived: s.stats.zrtpReceived.Load(),
		Protected:    s.stats.protected.Load(),
		Unprotected:  s.stats.unprotected.Load(),
		Clear:        s.stats.clear.Load(),
		AuthFailures: s.stats.authFailures.Load(),
	}
}

// IsSecure reports whether media is protected in both directions.
func (s *Stream) IsSecure() bool {
	return s.engine.State() == engine.Secure && s.send.Load() != nil && s.recv.Load() != nil
}

// SAS returns the short authentication string and whether it was verified.
func (s *Stream) SAS() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sas, s.verified
}

// UserConfirmsSAS records that the users compared the SAS.
func (s *Stream) UserConfirmsSAS() error {
	if err := s.engine.SASVerified(); err != nil {
		return err
	}
	s.mu.Lock()
	s.verified = true
	s.mu.Unlock()
	return nil
}

// ResetSAS clears the verified flag, for example after the users found a
// mismatch.
func (s *Stream) ResetSAS() error {
	if err := s.engine.ResetSASVerified(); err != nil {
		return err
	}
	s.mu.Lock()
	s.verified = false
	s.mu.Unlock()
	return nil
}

// SetPeerName names the peer this stream negotiated with. The name is kept
// in the peer cache under the peer's ZID.
func (s *Stream) SetPeerName(name string) error {
	return s.engine.SetPeerName(name)
}

// RequestGoClear asks the peer to continue the call without encryption.
func (s *Stream) RequestGoClear() error {
	return s.engine.RequestGoClear()
}

// AcceptEnrollment answers a PBX enrollment request.
func (s *Stream) AcceptEnrollment(accept bool) error {
	return s.engine.AcceptEnrollment(accept)
}

// SendZrtpPacket implements interfaces.Host.
func (s *Stream) SendZrtpPacket(data []byte) bool {
	s.stats.zrtpSent.Add(1)
	return s.transport.SendZrtpPacket(data)
}

// ActivateTimer implements interfaces.Host.
func (s *Stream) ActivateTimer(d time.Duration) interfaces.TimerToken {
	return s.timers.Schedule(d, func(token interfaces.TimerToken) {
		s.engine.HandleTimeout(token)
	})
}

// CancelTimer implements interfaces.Host.
func (s *Stream) CancelTimer(token interfaces.TimerToken) {
	s.timers.Cancel(token)
}

// SecretsReady implements interfaces.Host by creating the SRTP contexts for
// dir. Key material is wiped once the contexts exist.
func (s *Stream) SecretsReady(secrets *interfaces.SRTPSecrets, dir interfaces.EnableDirection) bool {
	defer crypto.Wipe(secrets.KeyInitiator, secrets.SaltInitiator, secrets.KeyResponder, secrets.SaltResponder)
	logger := s.logger("SecretsReady").WithFields(logrus.Fields{
		"cipher":    secrets.Cipher,
		"auth":      secrets.AuthTag,
		"direction": dir.String(),
	})

	if err := secrets.Validate(); err != nil {
		logger.WithError(err).Error("Rejecting SRTP secrets")
		return false
	}
	profile, err := ProfileFor(secrets.Cipher, secrets.AuthTag)
	if err != nil {
		logger.WithError(err).Warn("Negotiated algorithms cannot protect media, call stays in clear")
		return false
	}

	var send, recv *srtp.Context
	if dir.Has(interfaces.ForSender) {
		key, salt := secrets.SendKey()
		if send, err = srtp.CreateContext(key, salt, profile); err != nil {
			logger.WithError(err).Error("Failed to create SRTP send context")
			return false
		}
	}
	if dir.Has(interfaces.ForReceiver) {
		key, salt := secrets.ReceiveKey()
		if recv, err = srtp.CreateContext(key, salt, profile); err != nil {
			logger.WithError(err).Error("Failed to create SRTP receive context")
			return false
		}
	}
	if send != nil {
		s.send.Store(send)
	}
	if recv != nil {
		s.recv.Store(recv)
	}
	logger.Info("SRTP keys installed")
	return true
}

// SecretsOff implements interfaces.Host.
func (s *Stream) SecretsOff(dir interfaces.EnableDirection) {
	wasOn := s.send.Load() != nil || s.recv.Load() != nil
	if dir.Has(interfaces.ForSender) {
		s.send.Store(nil)
	}
	if dir.Has(interfaces.ForReceiver) {
		s.recv.Store(nil)
	}
	if !wasOn {
		return
	}
	s.logger("SecretsOff").WithField("direction", dir.String()).Info("SRTP keys removed")
	if s.send.Load() == nil && s.recv.Load() == nil {
		s.listener.OnSecureOff(s.id)
	}
}

// SecretsOn implements interfaces.Host.
func (s *Stream) SecretsOn(sas string, verified bool) {
	s.mu.Lock()
	s.sas, s.verified = sas, verified
	s.mu.Unlock()
	s.logger("SecretsOn").WithField("verified", verified).Info("Media secured")
	s.listener.OnSecureOn(s.id, sas, verified)
}

// Event implements interfaces.Host by forwarding to the listener.
func (s *Stream) Event(ev interfaces.Event) {
	switch ev.Kind {
	case interfaces.EventState:
		s.listener.OnNewState(s.id, ev.State)
	case interfaces.EventWarning:
		s.listener.OnWarning(s.id, ev.Message)
	case interfaces.EventNeedEnrollment:
		s.listener.OnNeedEnrollment(s.id, ev.Message)
	case interfaces.EventPeerVerified:
		s.listener.OnPeerVerified(s.id, ev.PeerName, ev.Verified)
	}
}
