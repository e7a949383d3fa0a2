package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/zrtp/cache"
	"github.com/opd-ai/zrtp/interfaces"
	"github.com/opd-ai/zrtp/packet"
	zrtptest "github.com/opd-ai/zrtp/testing"
)

// onFirst runs fn once, when the first message of type t crosses the link.
func onFirst(t packet.MessageType, fn func()) zrtptest.Filter {
	done := false
	return func(_ zrtptest.Side, data []byte) []byte {
		if done {
			return data
		}
		if msg := zrtptest.Message(data); msg != nil {
			if mt, _ := packet.MessageTypeOf(msg); mt == t {
				done = true
				fn()
			}
		}
		return data
	}
}

func TestCacheChangesDuringNegotiationSurvive(t *testing.T) {
	cacheA, cacheB := memoryCache(t), memoryCache(t)
	h := newHarnessWith(t, cacheA, cacheB, nil, nil, testOptions("a"), testOptions("b"))
	zidA, zidB := h.a.e.LocalZID(), h.b.e.LocalZID()
	other := bytes.Repeat([]byte{0x5a}, cache.RetainedSecretLength)

	// Both engines have loaded their records from Hello by the time DHPart2
	// is on the wire. Another stream now names the peer and stores a secret.
	h.link.SetFilter(onFirst(packet.TypeDHPart2, func() {
		require.NoError(t, cacheA.PutPeerName(zidB, "Alice"))
		_, err := cacheB.Update(zidA, func(r *cache.Record) error {
			r.SetNewRS1(other, time.Time{})
			return nil
		})
		require.NoError(t, err)
	}))
	h.run(t)
	h.requireSecure(t)

	recA := record(t, cacheA, zidB)
	assert.Equal(t, "Alice", recA.Name)
	assert.NotEmpty(t, recA.RS1)

	recB := record(t, cacheB, zidA)
	assert.Equal(t, recA.RS1, recB.RS1)
	assert.Equal(t, other, recB.RS2, "secret stored mid-negotiation rotates into RS2")

	var names []string
	for _, ev := range h.a.host.Events() {
		if ev.Kind == interfaces.EventPeerVerified {
			names = append(names, ev.PeerName)
		}
	}
	assert.Equal(t, []string{"Alice"}, names)
}

func TestSASVerifiedKeepsConcurrentName(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.requireSecure(t)
	zidB := h.b.e.LocalZID()

	require.NoError(t, h.a.cache.PutPeerName(zidB, "Bob"))
	require.NoError(t, h.a.e.SASVerified())

	rec := record(t, h.a.cache, zidB)
	assert.Equal(t, "Bob", rec.Name)
	assert.True(t, rec.SASVerified())
	assert.NotEmpty(t, rec.RS1)
}
