package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/cache"
	"github.com/opd-ai/zrtp/interfaces"
	"github.com/opd-ai/zrtp/packet"
	zrtptest "github.com/opd-ai/zrtp/testing"
)

type endpoint struct {
	e     *Engine
	host  *zrtptest.Host
	cache cache.Cache
	port  *zrtptest.Port
}

type harness struct {
	link  *zrtptest.Link
	clock *zrtptest.Clock
	a, b  *endpoint
}

func memoryCache(t *testing.T) cache.Cache {
	t.Helper()
	c := cache.NewMemoryCache(nil)
	_, err := c.Open("test")
	require.NoError(t, err)
	return c
}

func testOptions(streamID string) *Options {
	o := NewOptions()
	o.StreamID = streamID
	o.AllowClear = true
	return o
}

func newEndpoint(t *testing.T, port *zrtptest.Port, clock *zrtptest.Clock, c cache.Cache, cfg *algorithm.Configuration, opts *Options) *endpoint {
	t.Helper()
	host := zrtptest.NewHost(port, clock)
	e, err := New(cfg, host, c, opts)
	require.NoError(t, err)
	host.OnTimeout(e.HandleTimeout)
	port.Attach(e.HandlePacket)
	return &endpoint{e: e, host: host, cache: c, port: port}
}

// newHarness connects two engines with fresh memory caches.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, memoryCache(t), memoryCache(t), nil, nil, testOptions("a"), testOptions("b"))
}

func newHarnessWith(t *testing.T, cacheA, cacheB cache.Cache, cfgA, cfgB *algorithm.Configuration, optsA, optsB *Options) *harness {
	t.Helper()
	link := zrtptest.NewLink()
	clock := zrtptest.NewClock()
	return &harness{
		link:  link,
		clock: clock,
		a:     newEndpoint(t, link.A(), clock, cacheA, cfgA, optsA),
		b:     newEndpoint(t, link.B(), clock, cacheB, cfgB, optsB),
	}
}

// run starts both engines and lets the retransmission timers play out.
func (h *harness) run(t *testing.T) {
	t.Helper()
	require.NoError(t, h.a.e.Start())
	require.NoError(t, h.b.e.Start())
	h.clock.Advance(30 * time.Second)
}

func (h *harness) requireSecure(t *testing.T) {
	t.Helper()
	require.Equal(t, Secure, h.a.e.State(), "a states: %v", h.a.host.States())
	require.Equal(t, Secure, h.b.e.State(), "b states: %v", h.b.host.States())
}

// initiator returns the endpoints by role. The responder is known as soon
// as it accepts a Commit, the initiator only once it sees DHPart1.
func (h *harness) initiator() (initiator, responder *endpoint) {
	if h.a.e.Role() == Responder {
		return h.b, h.a
	}
	return h.a, h.b
}

func hasWarning(host *zrtptest.Host, target error) bool {
	for _, ev := range host.Warnings() {
		if errors.Is(ev.Err, target) {
			return true
		}
	}
	return false
}

func remoteCode(host *zrtptest.Host) (packet.ErrorCode, bool) {
	for _, ev := range host.Warnings() {
		var nerr *NegotiationError
		if errors.As(ev.Err, &nerr) {
			return nerr.Code, nerr.Remote
		}
	}
	return 0, false
}

func frame(msg []byte) []byte {
	p := &packet.Packet{Sequence: 99, SSRC: 0x1234, Message: msg}
	return p.Serialize()
}

// tamper flips one byte of every message of type t at offset off.
func tamper(t packet.MessageType, off int) zrtptest.Filter {
	return func(_ zrtptest.Side, data []byte) []byte {
		msg := zrtptest.Message(data)
		if msg == nil {
			return data
		}
		if mt, _ := packet.MessageTypeOf(msg); mt != t {
			return data
		}
		msg[off] ^= 0x01
		return zrtptest.Reframe(data, msg)
	}
}

// drop discards every message of type t.
func drop(t packet.MessageType) zrtptest.Filter {
	return func(_ zrtptest.Side, data []byte) []byte {
		msg := zrtptest.Message(data)
		if msg == nil {
			return data
		}
		if mt, _ := packet.MessageTypeOf(msg); mt == t {
			return nil
		}
		return data
	}
}

func record(t *testing.T, c cache.Cache, zid packet.ZID) *cache.Record {
	t.Helper()
	rec, err := c.GetRecord(zid)
	require.NoError(t, err)
	return rec
}

var _ interfaces.Host = (*zrtptest.Host)(nil)
