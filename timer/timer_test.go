package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/zrtp/interfaces"
)

func TestService_Fires(t *testing.T) {
	s := New()
	defer s.Close()

	fired := make(chan interfaces.TimerToken, 1)
	token := s.Schedule(5*time.Millisecond, func(tok interfaces.TimerToken) { fired <- tok })
	require.NotZero(t, token)

	select {
	case got := <-fired:
		assert.Equal(t, token, got)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestService_TokensAreUnique(t *testing.T) {
	s := New()
	defer s.Close()

	a := s.Schedule(time.Hour, func(interfaces.TimerToken) {})
	b := s.Schedule(time.Hour, func(interfaces.TimerToken) {})
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, s.Pending())
}

func TestService_CancelledTimerDoesNotFire(t *testing.T) {
	s := New()
	defer s.Close()

	var count atomic.Int32
	token := s.Schedule(20*time.Millisecond, func(interfaces.TimerToken) { count.Add(1) })
	s.Cancel(token)
	s.Cancel(token)
	s.Cancel(12345)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, count.Load())
	assert.Zero(t, s.Pending())
}

func TestService_Close(t *testing.T) {
	s := New()

	var count atomic.Int32
	s.Schedule(10*time.Millisecond, func(interfaces.TimerToken) { count.Add(1) })
	s.Close()

	assert.Zero(t, s.Schedule(time.Millisecond, func(interfaces.TimerToken) { count.Add(1) }))
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, count.Load())
}
