package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/zrtp/algorithm"
	zrtptest "github.com/opd-ai/zrtp/testing"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(o *Options)
		ok     bool
	}{
		{"defaults", func(o *Options) {}, true},
		{"long client id", func(o *Options) { o.ClientID = strings.Repeat("x", 17) }, false},
		{"enrollment without PBX", func(o *Options) { o.Enrollment = true }, false},
		{"PBX enrollment", func(o *Options) { o.Enrollment, o.TrustedMiTM = true, true }, true},
		{"zero retries", func(o *Options) { o.T2.MaxRetries = 0 }, false},
		{"cap below initial", func(o *Options) { o.T1.Cap = time.Millisecond }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.modify(o)
			err := o.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidOptions)
			}
		})
	}
}

func TestRetransmitPolicyDoubling(t *testing.T) {
	d := T1.Initial
	var seen []time.Duration
	for i := 0; i < 4; i++ {
		seen = append(seen, d)
		d = T1.next(d)
	}
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond, 200 * time.Millisecond}, seen)
	assert.Equal(t, 1200*time.Millisecond, T2.next(time.Second))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	host := zrtptest.NewHost(zrtptest.NewLink().A(), zrtptest.NewClock())
	_, err = New(algorithm.NewConfiguration(), host, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	e, err := New(nil, host, nil, nil)
	require.NoError(t, err)
	assert.False(t, e.LocalZID().IsZero(), "an ephemeral ZID is used without a cache")
	assert.Equal(t, Initial, e.State())
	assert.Equal(t, NoRole, e.Role())
}

func TestStateAndRoleNames(t *testing.T) {
	assert.Equal(t, "Secure", Secure.String())
	assert.Equal(t, "WaitConfAck", WaitConfAck.String())
	assert.Equal(t, "State(99)", State(99).String())
	assert.Equal(t, "Initiator", Initiator.String())

	assert.True(t, AckSent.negotiating())
	assert.False(t, Secure.negotiating())
	assert.False(t, Initial.negotiating())
}
