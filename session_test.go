package zrtp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/cache"
	"github.com/opd-ai/zrtp/engine"
	"github.com/opd-ai/zrtp/packet"
	zrtptest "github.com/opd-ai/zrtp/testing"
)

type call struct {
	clock        *zrtptest.Clock
	audio, video *zrtptest.Link
	a, b         *Session
	cacheA       *cache.MemoryCache
	cacheB       *cache.MemoryCache
	listenerA    *zrtptest.Listener
}

func openCache(t *testing.T, name string) *cache.MemoryCache {
	t.Helper()
	c := cache.NewMemoryCache(nil)
	_, err := c.Open(name)
	require.NoError(t, err)
	return c
}

// newCall wires two sessions with an audio and a video link each.
func newCall(t *testing.T, multiStream bool) *call {
	t.Helper()
	c := &call{
		clock:     zrtptest.NewClock(),
		audio:     zrtptest.NewLink(),
		video:     zrtptest.NewLink(),
		cacheA:    openCache(t, "a"),
		cacheB:    openCache(t, "b"),
		listenerA: zrtptest.NewListener(),
	}
	c.a = c.session(t, multiStream, c.cacheA, c.listenerA, c.audio.A(), c.video.A())
	c.b = c.session(t, multiStream, c.cacheB, zrtptest.NewListener(), c.audio.B(), c.video.B())
	return c
}

func (c *call) session(t *testing.T, multiStream bool, pc cache.Cache, l *zrtptest.Listener, audio, video *zrtptest.Port) *Session {
	t.Helper()
	opts := NewOptions()
	opts.MultiStream = multiStream
	opts.Timers = c.clock
	s, err := NewSession(opts, pc, l)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	for kind, port := range map[Kind]*zrtptest.Port{Audio: audio, Video: video} {
		st, err := s.AddStream(kind, port)
		require.NoError(t, err)
		port.Attach(func(data []byte) { _, _ = st.ProcessIncoming(data) })
	}
	return s
}

func (c *call) startAll(t *testing.T) {
	t.Helper()
	for _, s := range []*Session{c.a, c.b} {
		require.NoError(t, s.Start(Audio))
		require.NoError(t, s.Start(Video))
	}
	c.clock.Advance(30 * time.Second)
}

func dhParts(l *zrtptest.Link) int {
	n := 0
	for _, side := range []zrtptest.Side{zrtptest.SideA, zrtptest.SideB} {
		n += l.Count(side, packet.TypeDHPart1) + l.Count(side, packet.TypeDHPart2)
	}
	return n
}

func TestVideoJoinsInMultiStreamMode(t *testing.T) {
	c := newCall(t, true)
	c.startAll(t)

	for _, s := range []*Session{c.a, c.b} {
		require.True(t, s.IsSecure(Audio))
		require.True(t, s.IsSecure(Video))
	}

	audioSAS, _ := c.a.Stream(Audio).SAS()
	videoSAS, _ := c.b.Stream(Video).SAS()
	assert.NotEmpty(t, audioSAS)
	assert.Equal(t, audioSAS, videoSAS)

	info := c.a.Stream(Video).Engine().Info()
	assert.True(t, info.MultiStream)
	assert.Equal(t, algorithm.Mult, info.KeyAgreement)
	assert.Zero(t, dhParts(c.video))
	assert.NotZero(t, dhParts(c.audio))

	assert.Len(t, c.listenerA.Calls("audio", "secure"), 1)
	assert.Len(t, c.listenerA.Calls("video", "secure"), 1)
}

func TestVideoWithoutMultiStream(t *testing.T) {
	c := newCall(t, false)
	c.startAll(t)

	require.True(t, c.a.IsSecure(Video))
	require.True(t, c.b.IsSecure(Video))
	assert.False(t, c.a.Stream(Video).Engine().Info().MultiStream)
	assert.NotZero(t, dhParts(c.video))
}

func TestVideoAloneRunsDH(t *testing.T) {
	clock := zrtptest.NewClock()
	link := zrtptest.NewLink()
	var sessions []*Session
	for i, port := range []*zrtptest.Port{link.A(), link.B()} {
		opts := NewOptions()
		opts.Timers = clock
		s, err := NewSession(opts, openCache(t, string(rune('a'+i))), nil)
		require.NoError(t, err)
		t.Cleanup(s.Close)
		st, err := s.AddStream(Video, port)
		require.NoError(t, err)
		port.Attach(func(data []byte) { _, _ = st.ProcessIncoming(data) })
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		require.NoError(t, s.Start(Video))
	}
	clock.Advance(30 * time.Second)

	assert.True(t, sessions[0].IsSecure(Video))
	assert.True(t, sessions[1].IsSecure(Video))
	assert.NotZero(t, dhParts(link))
}

func TestConfirmingVideoSASVerifiesPeer(t *testing.T) {
	c := newCall(t, true)
	c.startAll(t)
	require.True(t, c.a.IsSecure(Video))

	require.NoError(t, c.a.UserConfirmsSAS(Video))
	_, verified := c.a.Stream(Audio).SAS()
	assert.True(t, verified)

	rec, err := c.cacheA.GetRecord(c.cacheB.LocalZID())
	require.NoError(t, err)
	assert.True(t, rec.SASVerified())
}

func TestSessionSetPeerName(t *testing.T) {
	c := newCall(t, true)
	c.startAll(t)
	require.True(t, c.a.IsSecure(Video))

	require.NoError(t, c.a.SetPeerName(Video, "Carol"))
	name, err := c.cacheA.GetPeerName(c.cacheB.LocalZID())
	require.NoError(t, err)
	assert.Equal(t, "Carol", name)

	rec, err := c.cacheA.GetRecord(c.cacheB.LocalZID())
	require.NoError(t, err)
	assert.NotEmpty(t, rec.RS1)
}

func TestStopVideoCancelsPending(t *testing.T) {
	c := newCall(t, true)
	require.NoError(t, c.a.Start(Video))
	require.NoError(t, c.a.Stop(Video))
	require.NoError(t, c.b.Start(Video))

	require.NoError(t, c.a.Start(Audio))
	require.NoError(t, c.b.Start(Audio))
	c.clock.Advance(30 * time.Second)

	assert.True(t, c.a.IsSecure(Audio))
	assert.False(t, c.a.IsSecure(Video))
	assert.Equal(t, engine.Initial, c.a.Stream(Video).Engine().State())
}

func TestAudioFailureAbandonsPendingVideo(t *testing.T) {
	c := newCall(t, true)
	c.audio.SetFilter(func(zrtptest.Side, []byte) []byte { return nil })
	c.startAll(t)

	assert.False(t, c.a.IsSecure(Audio))
	assert.Equal(t, engine.Initial, c.a.Stream(Audio).Engine().State())
	warnings := c.listenerA.Calls("video", "warning")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Value, "video not started")

	// Audio succeeding later no longer drags video along.
	c.audio.SetFilter(nil)
	require.NoError(t, c.a.Start(Audio))
	require.NoError(t, c.b.Start(Audio))
	c.clock.Advance(30 * time.Second)

	require.True(t, c.a.IsSecure(Audio))
	assert.Equal(t, engine.Initial, c.a.Stream(Video).Engine().State())
	assert.Empty(t, c.listenerA.Calls("video", "secure"))

	// Starting video again joins the secure audio stream.
	require.NoError(t, c.a.Start(Video))
	require.NoError(t, c.b.Start(Video))
	c.clock.Advance(30 * time.Second)
	assert.True(t, c.a.IsSecure(Video))
	assert.Zero(t, dhParts(c.video))
}

func TestStoppingAudioAbandonsPendingVideo(t *testing.T) {
	c := newCall(t, true)
	require.NoError(t, c.a.Start(Audio))
	require.NoError(t, c.a.Start(Video))
	require.NoError(t, c.a.Stop(Audio))

	assert.Len(t, c.listenerA.Calls("video", "warning"), 1)
}

func TestSessionErrors(t *testing.T) {
	s, err := NewSession(nil, nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(Audio), ErrUnknownStream)
	assert.Nil(t, s.Stream(Video))
	assert.False(t, s.IsSecure(Audio))

	link := zrtptest.NewLink()
	_, err = s.AddStream(Kind(7), link.A())
	assert.ErrorIs(t, err, ErrUnknownStream)
	_, err = s.AddStream(Audio, link.A())
	require.NoError(t, err)
	_, err = s.AddStream(Audio, link.B())
	assert.ErrorIs(t, err, ErrStreamExists)
	_, err = s.AddStream(Video, nil)
	assert.ErrorIs(t, err, engine.ErrInvalidOptions)

	s.Close()
	s.Close()
	assert.ErrorIs(t, s.Start(Audio), ErrSessionClosed)
	_, err = s.AddStream(Video, link.B())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestNewSessionValidates(t *testing.T) {
	opts := NewOptions()
	opts.Engine.Enrollment = true
	_, err := NewSession(opts, nil, nil)
	assert.ErrorIs(t, err, engine.ErrInvalidOptions)

	opts = NewOptions()
	opts.Config = algorithm.NewConfiguration()
	_, err = NewSession(opts, nil, nil)
	assert.ErrorIs(t, err, engine.ErrInvalidOptions)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "audio", Audio.String())
	assert.Equal(t, "video", Video.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
