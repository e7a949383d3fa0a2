package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/cache"
	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/interfaces"
	"github.com/opd-ai/zrtp/limits"
	"github.com/opd-ai/zrtp/packet"
	zrtptest "github.com/opd-ai/zrtp/testing"
)

func TestNegotiationReachesSecure(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.requireSecure(t)

	sasA, verifiedA, callsA := h.a.host.SAS()
	sasB, verifiedB, callsB := h.b.host.SAS()
	assert.NotEmpty(t, sasA)
	assert.Equal(t, sasA, sasB)
	assert.False(t, verifiedA)
	assert.False(t, verifiedB)
	assert.Equal(t, 1, callsA)
	assert.Equal(t, 1, callsB)

	assert.Equal(t, interfaces.Both, h.a.host.Active())
	assert.Equal(t, interfaces.Both, h.b.host.Active())

	initiator, responder := h.initiator()
	assert.Equal(t, Responder, responder.e.Role())
	si, sr := initiator.host.Secrets(), responder.host.Secrets()
	require.NotNil(t, si)
	require.NotNil(t, sr)
	assert.True(t, si.Initiator)
	assert.False(t, sr.Initiator)
	assert.Equal(t, si.KeyInitiator, sr.KeyInitiator)
	assert.Equal(t, si.SaltInitiator, sr.SaltInitiator)
	assert.Equal(t, si.KeyResponder, sr.KeyResponder)
	assert.Equal(t, si.SaltResponder, sr.SaltResponder)
	assert.NotEqual(t, si.KeyInitiator, si.KeyResponder)
	assert.Len(t, si.SaltInitiator, 14)

	ka, err := h.a.e.ExportedKey()
	require.NoError(t, err)
	kb, err := h.b.e.ExportedKey()
	require.NoError(t, err)
	assert.Equal(t, ka, kb)

	infoA := h.a.e.Info()
	assert.Equal(t, h.b.e.LocalZID(), infoA.PeerZID)
	assert.Equal(t, DefaultClientID, infoA.PeerClientID)
	assert.Equal(t, sasA, infoA.SAS)
	assert.False(t, infoA.MultiStream)

	assert.Zero(t, h.clock.Pending(), "no retransmission may stay armed once secure")
}

func TestGlareWinnerIsInitiator(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.requireSecure(t)

	want := ResolveGlare(h.a.e.helloMsg, h.b.e.helloMsg)
	require.NotEqual(t, NoRole, want)
	assert.Equal(t, want, h.a.e.Role())
	assert.Equal(t, ResolveGlare(h.b.e.helloMsg, h.a.e.helloMsg), h.b.e.Role())
}

func TestResolveGlare(t *testing.T) {
	x := []byte("first hello")
	y := []byte("second hello")

	rx := ResolveGlare(x, y)
	ry := ResolveGlare(y, x)
	assert.NotEqual(t, NoRole, rx)
	assert.NotEqual(t, rx, ry)
	assert.Equal(t, rx, ResolveGlare(x, y))
	assert.Equal(t, NoRole, ResolveGlare(x, x))
}

func TestCacheRotationAcrossCalls(t *testing.T) {
	cacheA, cacheB := memoryCache(t), memoryCache(t)

	first := newHarnessWith(t, cacheA, cacheB, nil, nil, testOptions("a"), testOptions("b"))
	first.run(t)
	first.requireSecure(t)
	zidA, zidB := first.a.e.LocalZID(), first.b.e.LocalZID()

	recA := record(t, cacheA, zidB)
	recB := record(t, cacheB, zidA)
	require.NotEmpty(t, recA.RS1)
	assert.Equal(t, recA.RS1, recB.RS1)
	assert.Empty(t, recA.RS2)
	firstRS := crypto.Clone(recA.RS1)

	require.NoError(t, first.a.e.SASVerified())
	require.NoError(t, first.b.e.SASVerified())
	assert.True(t, record(t, cacheA, zidB).SASVerified())

	second := newHarnessWith(t, cacheA, cacheB, nil, nil, testOptions("a"), testOptions("b"))
	second.run(t)
	second.requireSecure(t)

	assert.False(t, second.a.e.Info().CacheMismatch)
	assert.True(t, second.a.e.Info().Verified)
	_, verified, _ := second.b.host.SAS()
	assert.True(t, verified)

	recA = record(t, cacheA, zidB)
	recB = record(t, cacheB, zidA)
	assert.Equal(t, firstRS, recA.RS2)
	assert.Equal(t, recA.RS1, recB.RS1)
	assert.NotEqual(t, firstRS, recA.RS1)
}

func TestCacheMismatchResetsVerified(t *testing.T) {
	cacheA, cacheB := memoryCache(t), memoryCache(t)

	first := newHarnessWith(t, cacheA, cacheB, nil, nil, testOptions("a"), testOptions("b"))
	first.run(t)
	first.requireSecure(t)
	require.NoError(t, first.a.e.SASVerified())
	require.NoError(t, first.b.e.SASVerified())

	// B loses its retained secrets but keeps its ZID.
	zidA := first.a.e.LocalZID()
	rec := record(t, cacheB, zidA)
	rec.RS1, rec.RS2 = nil, nil
	require.NoError(t, cacheB.SaveRecord(rec))

	second := newHarnessWith(t, cacheA, cacheB, nil, nil, testOptions("a"), testOptions("b"))
	second.run(t)
	second.requireSecure(t)

	assert.True(t, second.a.e.Info().CacheMismatch)
	assert.False(t, second.a.e.Info().Verified)
	assert.False(t, record(t, cacheA, second.b.e.LocalZID()).SASVerified())
}

func TestBadConfirmMACAborts(t *testing.T) {
	h := newHarness(t)
	h.link.SetFilter(tamper(packet.TypeConfirm1, 40))
	h.run(t)

	assert.Equal(t, Error, h.a.e.State())
	assert.Equal(t, Error, h.b.e.State())
	assert.Zero(t, h.a.host.Active())
	assert.Zero(t, h.b.host.Active())
	assert.Nil(t, h.a.host.Secrets())
	assert.Nil(t, h.b.host.Secrets())

	initiator, responder := h.initiator()
	code, remote := remoteCode(initiator.host)
	assert.Equal(t, packet.ErrorBadConfirmMAC, code)
	assert.False(t, remote)
	code, remote = remoteCode(responder.host)
	assert.Equal(t, packet.ErrorBadConfirmMAC, code)
	assert.True(t, remote)

	assert.Empty(t, record(t, h.a.cache, h.b.e.LocalZID()).RS1)
	assert.Empty(t, record(t, h.b.cache, h.a.e.LocalZID()).RS1)

	_, err := h.a.e.SAS()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTamperedHelloIsDropped(t *testing.T) {
	h := newHarness(t)
	// A corrupted packet fails its CRC and is discarded on arrival.
	h.link.SetFilter(func(from zrtptest.Side, data []byte) []byte {
		if from == zrtptest.SideA {
			data[len(data)-1] ^= 0xff
		}
		return data
	})
	h.run(t)

	assert.NotEqual(t, Secure, h.a.e.State())
	assert.NotEqual(t, Secure, h.b.e.State())
	assert.True(t, h.b.e.Info().PeerZID.IsZero())
}

func TestHelloTimeout(t *testing.T) {
	link := zrtptest.NewLink()
	clock := zrtptest.NewClock()
	a := newEndpoint(t, link.A(), clock, memoryCache(t), nil, testOptions("a"))

	require.NoError(t, a.e.Start())
	assert.Equal(t, Detect, a.e.State())
	clock.Advance(time.Minute)

	assert.Equal(t, Initial, a.e.State())
	assert.True(t, hasWarning(a.host, ErrTimeout))
	assert.Equal(t, 1+T1.MaxRetries, link.Count(zrtptest.SideA, packet.TypeHello))
	assert.Zero(t, clock.Pending())
}

func TestHandshakeTimeout(t *testing.T) {
	h := newHarness(t)
	h.link.SetFilter(drop(packet.TypeDHPart1))
	h.run(t)

	initiator, responder := h.initiator()
	assert.Equal(t, Error, initiator.e.State())
	assert.True(t, hasWarning(initiator.host, ErrTimeout))
	assert.Equal(t, WaitDHPart2, responder.e.State())
	assert.Zero(t, initiator.host.Active())
}

func TestAlgorithmMismatch(t *testing.T) {
	cfgA := algorithm.NewStandardConfiguration()
	cfgA.Clear(algorithm.Hash)
	require.NoError(t, cfgA.Add(algorithm.Hash, algorithm.S384))
	cfgB := algorithm.NewStandardConfiguration()
	cfgB.Clear(algorithm.Hash)
	require.NoError(t, cfgB.Add(algorithm.Hash, algorithm.S256))

	h := newHarnessWith(t, memoryCache(t), memoryCache(t), cfgA, cfgB, testOptions("a"), testOptions("b"))
	h.run(t)

	assert.Equal(t, Error, h.a.e.State())
	assert.Equal(t, Error, h.b.e.State())
	code, remote := remoteCode(h.a.host)
	assert.Equal(t, packet.ErrorUnsupportedHash, code)
	assert.False(t, remote)
	code, remote = remoteCode(h.b.host)
	assert.Equal(t, packet.ErrorUnsupportedHash, code)
	assert.True(t, remote)
	assert.Zero(t, h.clock.Pending(), "ErrorACK stops the Error retransmission")
}

func TestNegotiatesCommonAlgorithms(t *testing.T) {
	cfgA := algorithm.NewMandatoryConfiguration()
	cfgB := algorithm.NewStandardConfiguration()

	h := newHarnessWith(t, memoryCache(t), memoryCache(t), cfgA, cfgB, testOptions("a"), testOptions("b"))
	h.run(t)
	h.requireSecure(t)

	info := h.a.e.Info()
	assert.Equal(t, info.Hash, h.b.e.Info().Hash)
	assert.Equal(t, algorithm.DH3k, info.KeyAgreement)
	assert.Equal(t, algorithm.AES1, info.Cipher)
	assert.Equal(t, algorithm.B32, info.SASType)
}

func TestPassiveEndpointWaitsForCommit(t *testing.T) {
	optsB := testOptions("b")
	optsB.Passive = true
	h := newHarnessWith(t, memoryCache(t), memoryCache(t), nil, nil, testOptions("a"), optsB)
	h.run(t)
	h.requireSecure(t)

	assert.Equal(t, Initiator, h.a.e.Role())
	assert.Equal(t, Responder, h.b.e.Role())
	assert.Zero(t, h.link.Count(zrtptest.SideB, packet.TypeCommit))
}

func TestSignalingHelloHash(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.a.e.SetPeerHelloHash(h.b.e.SignalingHelloHash()))
	require.NoError(t, h.b.e.SetPeerHelloHash(h.a.e.SignalingHelloHash()))
	h.run(t)
	h.requireSecure(t)

	assert.Error(t, h.a.e.SetPeerHelloHash("1.10 zz"))
	assert.Error(t, h.a.e.SetPeerHelloHash("no-version"))
}

func TestSignalingHelloHashMismatch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.a.e.SetPeerHelloHash(h.a.e.SignalingHelloHash()))
	h.run(t)

	assert.NotEqual(t, Secure, h.a.e.State())
	assert.True(t, hasWarning(h.a.host, ErrProtocolViolation))
	assert.True(t, h.a.e.Info().PeerZID.IsZero())
}

func TestGoClear(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.requireSecure(t)

	bogus, err := packet.SerializeGoClear(make([]byte, packet.MACLength))
	require.NoError(t, err)
	h.a.e.HandlePacket(frame(bogus))
	assert.Equal(t, Secure, h.a.e.State())
	assert.Equal(t, interfaces.Both, h.a.host.Active())
	assert.True(t, hasWarning(h.a.host, ErrProtocolViolation))

	require.NoError(t, h.b.e.RequestGoClear())
	assert.Equal(t, Clear, h.a.e.State())
	assert.Equal(t, Clear, h.b.e.State())
	assert.Zero(t, h.a.host.Active())
	assert.Zero(t, h.b.host.Active())
	assert.Zero(t, h.clock.Pending())

	assert.ErrorIs(t, h.b.e.RequestGoClear(), ErrInvalidState)
}

func TestGoClearNotAllowed(t *testing.T) {
	optsA := testOptions("a")
	optsA.AllowClear = false
	h := newHarnessWith(t, memoryCache(t), memoryCache(t), nil, nil, optsA, testOptions("b"))
	h.run(t)
	h.requireSecure(t)

	assert.ErrorIs(t, h.a.e.RequestGoClear(), ErrProtocolViolation)
	assert.ErrorIs(t, h.b.e.RequestGoClear(), ErrProtocolViolation)
	assert.Equal(t, Secure, h.b.e.State())
}

func TestGoClearBeforeKeys(t *testing.T) {
	link := zrtptest.NewLink()
	clock := zrtptest.NewClock()
	a := newEndpoint(t, link.A(), clock, memoryCache(t), nil, testOptions("a"))
	require.NoError(t, a.e.Start())

	msg, err := packet.SerializeGoClear(make([]byte, packet.MACLength))
	require.NoError(t, err)
	a.e.HandlePacket(frame(msg))
	assert.Equal(t, Clear, a.e.State())
	assert.Equal(t, 1, link.Count(zrtptest.SideA, packet.TypeClearACK))
}

func TestPing(t *testing.T) {
	link := zrtptest.NewLink()
	clock := zrtptest.NewClock()
	a := newEndpoint(t, link.A(), clock, memoryCache(t), nil, testOptions("a"))

	var acks []*packet.PingACK
	link.B().Attach(func(data []byte) {
		pkt, err := packet.Parse(data)
		require.NoError(t, err)
		ack, err := packet.ParsePingACK(pkt.Message)
		require.NoError(t, err)
		acks = append(acks, ack)
	})

	ping := &packet.Ping{EndpointHash: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	msg, err := ping.Serialize()
	require.NoError(t, err)
	a.e.HandlePacket(frame(msg))

	require.Len(t, acks, 1)
	assert.Equal(t, ping.EndpointHash, acks[0].ReceivedEndpointHash)
	assert.Equal(t, uint32(0x1234), acks[0].SSRC)
	assert.Len(t, acks[0].SenderEndpointHash, 8)
	assert.Equal(t, Initial, a.e.State())
}

func TestStopWipesKeys(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.requireSecure(t)

	h.a.e.Stop()
	assert.Equal(t, Initial, h.a.e.State())
	assert.Zero(t, h.a.host.Active())
	_, err := h.a.e.ExportedKey()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRestartUsesNewHashChain(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.requireSecure(t)

	firstHash := h.a.e.SignalingHelloHash()
	h.a.e.mu.Lock()
	firstH3, firstHello := crypto.Clone(h.a.e.h3), crypto.Clone(h.a.e.helloMsg)
	h.a.e.mu.Unlock()

	h.a.e.Stop()
	h.b.e.Stop()

	h.a.e.mu.Lock()
	assert.NotEqual(t, firstH3, h.a.e.h3)
	assert.NotEqual(t, firstHello, h.a.e.helloMsg)
	assert.Equal(t, h.a.e.h3, crypto.SHA256().Sum(h.a.e.h2))
	h.a.e.mu.Unlock()
	assert.NotEqual(t, firstHash, h.a.e.SignalingHelloHash())

	h.run(t)
	h.requireSecure(t)
}

func TestStopBeforeStartKeepsHello(t *testing.T) {
	h := newHarness(t)
	before := h.a.e.SignalingHelloHash()
	h.a.e.Stop()
	assert.Equal(t, before, h.a.e.SignalingHelloHash())
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.a.e.Start())
	assert.ErrorIs(t, h.a.e.Start(), ErrInvalidState)
}

func TestRefusedSecretsWarn(t *testing.T) {
	h := newHarness(t)
	h.a.host.RefuseSecrets(true)
	h.run(t)

	assert.Zero(t, h.a.host.Active())
	assert.NotEmpty(t, h.a.host.Warnings())
}

func TestSASVerifiedNeedsPeer(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.a.e.SASVerified(), ErrNoPeer)
	_, err := h.a.e.SAS()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSetPeerName(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.a.e.SetPeerName("Bob"), ErrNoPeer)

	h.run(t)
	h.requireSecure(t)
	assert.ErrorIs(t, h.a.e.SetPeerName(""), limits.ErrEmpty)
	require.NoError(t, h.a.e.SetPeerName("Bob"))

	rec := record(t, h.a.cache, h.b.e.LocalZID())
	assert.Equal(t, "Bob", rec.Name)
	assert.NotEmpty(t, rec.RS1, "naming keeps the retained secret")

	noCache := newHarnessWith(t, nil, nil, nil, nil, testOptions("a"), testOptions("b"))
	noCache.run(t)
	noCache.requireSecure(t)
	assert.ErrorIs(t, noCache.a.e.SetPeerName("Bob"), ErrInvalidOptions)
}

func TestWithoutCache(t *testing.T) {
	h := newHarnessWith(t, nil, nil, nil, nil, testOptions("a"), testOptions("b"))
	h.run(t)
	h.requireSecure(t)

	require.NoError(t, h.a.e.SASVerified())
	assert.True(t, h.a.e.Info().Verified)
}

func TestEngineWithFileCache(t *testing.T) {
	fc := cache.NewFileCache(cache.NewOptions())
	_, err := fc.Open(filepath.Join(t.TempDir(), "a.json"))
	require.NoError(t, err)
	defer fc.Close()

	h := newHarnessWith(t, fc, memoryCache(t), nil, nil, testOptions("a"), testOptions("b"))
	h.run(t)
	h.requireSecure(t)

	assert.Equal(t, fc.LocalZID(), h.a.e.LocalZID())
	assert.NotEmpty(t, record(t, fc, h.b.e.LocalZID()).RS1)
}
