package zrtp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/cache"
	"github.com/opd-ai/zrtp/engine"
	"github.com/opd-ai/zrtp/interfaces"
	"github.com/opd-ai/zrtp/stream"
	"github.com/opd-ai/zrtp/timer"
)

var (
	// ErrUnknownStream indicates a stream kind that was never added.
	ErrUnknownStream = errors.New("stream not added")

	// ErrStreamExists indicates a second AddStream for the same kind.
	ErrStreamExists = errors.New("stream already added")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// Kind identifies a media stream of a call.
type Kind int

const (
	// Audio is the master stream of a call. It always runs a DH exchange.
	Audio Kind = iota
	// Video joins the call in multistream mode once audio is secure.
	Video
)

// String returns the stream name used in logs and listener callbacks.
func (k Kind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) valid() bool {
	return k == Audio || k == Video
}

// Options configures a Session.
type Options struct {
	// MultiStream starts video from the secure audio stream instead of a
	// second DH exchange.
	MultiStream bool

	// Config lists the algorithms offered by every stream; nil for the
	// standard set.
	Config *algorithm.Configuration

	// Engine configures the negotiation of every stream; nil for
	// engine.NewOptions. StreamID is set per stream.
	Engine *engine.Options

	// Timers is shared by all streams; nil for a timer.Service owned by the
	// session.
	Timers interfaces.TimerService
}

// NewOptions returns options with multistream enabled.
func NewOptions() *Options {
	return &Options{
		MultiStream: true,
		Engine:      engine.NewOptions(),
	}
}

// Session is one call: an audio stream and an optional video stream that
// share a peer cache and a listener.
//
// With multistream enabled, Start(Video) before audio is secure only marks
// video as pending. The video negotiation begins as soon as audio reports
// its SAS, using the audio stream's session key.
type Session struct {
	opts      Options
	cache     cache.Cache
	listener  interfaces.Listener
	timers    interfaces.TimerService
	ownTimers *timer.Service

	mu           sync.Mutex
	streams      map[Kind]*stream.Stream
	videoPending bool
	closed       bool
}

// NewSession creates a session.
//
// Parameters:
//   - opts: Session options (nil for NewOptions())
//   - c: Peer cache shared by all streams (nil for no caching)
//   - l: Application listener (nil for none)
//
// Returns:
//   - *Session: The session, with no streams
//   - error: Invalid engine options
func NewSession(opts *Options, c cache.Cache, l interfaces.Listener) (*Session, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.Engine != nil {
		if err := opts.Engine.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Config != nil {
		if err := opts.Config.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrInvalidOptions, err)
		}
	}
	if l == nil {
		l = interfaces.NopListener{}
	}

	s := &Session{
		opts:     *opts,
		cache:    c,
		listener: l,
		timers:   opts.Timers,
		streams:  make(map[Kind]*stream.Stream),
	}
	if s.timers == nil {
		s.ownTimers = timer.New()
		s.timers = s.ownTimers
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewSession",
		"multistream": opts.MultiStream,
	}).Debug("Session created")
	return s, nil
}

// AddStream binds a new stream of kind to transport.
func (s *Session) AddStream(kind Kind, transport interfaces.Transport) (*stream.Stream, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if _, ok := s.streams[kind]; ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, kind)
	}

	opts := stream.NewOptions(kind.String())
	opts.Config = s.opts.Config
	opts.Timers = s.timers
	opts.Listener = sessionListener{s}
	if s.opts.Engine != nil {
		eo := *s.opts.Engine
		eo.StreamID = kind.String()
		opts.Engine = &eo
	}

	st, err := stream.New(opts, transport, s.cache)
	if err != nil {
		return nil, err
	}
	s.streams[kind] = st
	return st, nil
}

// Stream returns the stream of kind, or nil when it was not added.
func (s *Session) Stream(kind Kind) *stream.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[kind]
}

func (s *Session) stream(kind Kind) (*stream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	st, ok := s.streams[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, kind)
	}
	return st, nil
}

// Start begins the negotiation of the stream of kind.
//
// Video uses multistream mode when enabled and an audio stream exists. If
// audio is not secure yet, video waits for it and Start returns nil.
func (s *Session) Start(kind Kind) error {
	st, err := s.stream(kind)
	if err != nil {
		return err
	}
	if kind == Audio || !s.opts.MultiStream {
		return st.Start()
	}

	s.mu.Lock()
	audio := s.streams[Audio]
	if audio == nil {
		s.mu.Unlock()
		// No master stream: video negotiates on its own.
		return st.Start()
	}
	if !audio.IsSecure() {
		s.videoPending = true
		s.mu.Unlock()
		s.logger("Start").Debug("Video waits for secure audio")
		return nil
	}
	s.mu.Unlock()
	return s.startMultiStream(audio, st)
}

func (s *Session) startMultiStream(audio, video *stream.Stream) error {
	params, err := audio.Engine().MultiStreamParams()
	if err != nil {
		return err
	}
	defer params.Wipe()
	return video.StartMultiStream(params)
}

// promoteVideo starts pending video once audio is secure.
func (s *Session) promoteVideo() {
	s.mu.Lock()
	if !s.videoPending || s.closed {
		s.mu.Unlock()
		return
	}
	s.videoPending = false
	audio, video := s.streams[Audio], s.streams[Video]
	s.mu.Unlock()

	if err := s.startMultiStream(audio, video); err != nil {
		s.logger("promoteVideo").WithError(err).Warn("Failed to start video in multistream mode")
		s.listener.OnWarning(Video.String(), fmt.Sprintf("multistream start failed: %v", err))
		return
	}
	s.logger("promoteVideo").Info("Video started in multistream mode")
}

// abandonVideo drops a pending video start once audio has stopped or
// failed without turning secure. The application hears about it on the
// video stream and may start video again.
func (s *Session) abandonVideo(audioState string) {
	s.mu.Lock()
	pending := s.videoPending && !s.closed
	s.videoPending = false
	s.mu.Unlock()
	if !pending {
		return
	}
	s.logger("abandonVideo").WithField("audio_state", audioState).Warn("Audio ended before it was secure, video not started")
	s.listener.OnWarning(Video.String(), fmt.Sprintf("audio stream ended in state %s before it was secure, multistream video not started", audioState))
}

// Stop ends the negotiation of the stream of kind and removes its keys.
func (s *Session) Stop(kind Kind) error {
	st, err := s.stream(kind)
	if err != nil {
		return err
	}
	if kind == Video {
		s.mu.Lock()
		s.videoPending = false
		s.mu.Unlock()
	}
	st.Stop()
	return nil
}

// UserConfirmsSAS records that the users compared the SAS shown for kind.
// In multistream mode the SAS belongs to the audio stream, which holds the
// cache entry.
func (s *Session) UserConfirmsSAS(kind Kind) error {
	st, err := s.stream(kind)
	if err != nil {
		return err
	}
	if err := st.UserConfirmsSAS(); err != nil {
		return err
	}
	if kind != Video || !s.opts.MultiStream {
		return nil
	}
	if audio, err := s.stream(Audio); err == nil && audio.IsSecure() {
		return audio.UserConfirmsSAS()
	}
	return nil
}

// SetPeerName stores a display name for the peer of the stream of kind.
func (s *Session) SetPeerName(kind Kind, name string) error {
	st, err := s.stream(kind)
	if err != nil {
		return err
	}
	return st.SetPeerName(name)
}

// IsSecure reports whether the stream of kind protects its media.
func (s *Session) IsSecure(kind Kind) bool {
	st, err := s.stream(kind)
	if err != nil {
		return false
	}
	return st.IsSecure()
}

// Close stops every stream and releases the session's timers.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.videoPending = false
	streams := make([]*stream.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.Close()
	}
	if s.ownTimers != nil {
		s.ownTimers.Close()
	}
	s.logger("Close").Debug("Session closed")
}

func (s *Session) logger(function string) *logrus.Entry {
	return logrus.WithField("function", "Session."+function)
}

// sessionListener forwards stream notifications to the application and
// promotes pending video when audio turns secure.
type sessionListener struct {
	s *Session
}

func (l sessionListener) OnNewState(streamID, state string) {
	l.s.listener.OnNewState(streamID, state)
	if streamID == Audio.String() && (state == engine.Error.String() || state == engine.Initial.String()) {
		l.s.abandonVideo(state)
	}
}

func (l sessionListener) OnNeedEnrollment(streamID, info string) {
	l.s.listener.OnNeedEnrollment(streamID, info)
}

func (l sessionListener) OnPeerVerified(streamID, peerName string, verified bool) {
	l.s.listener.OnPeerVerified(streamID, peerName, verified)
}

func (l sessionListener) OnWarning(streamID, message string) {
	l.s.listener.OnWarning(streamID, message)
}

func (l sessionListener) OnSecureOn(streamID, sas string, verified bool) {
	l.s.listener.OnSecureOn(streamID, sas, verified)
	if streamID == Audio.String() {
		l.s.promoteVideo()
	}
}

func (l sessionListener) OnSecureOff(streamID string) {
	l.s.listener.OnSecureOff(streamID)
}
