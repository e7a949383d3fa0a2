package engine

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/limits"
	"github.com/opd-ai/zrtp/packet"
)

// DefaultClientID identifies this implementation in Hello.
const DefaultClientID = "zrtp-go"

var (
	// ErrInvalidOptions indicates an option set that fails validation.
	ErrInvalidOptions = errors.New("invalid engine options")
)

// RetransmitPolicy describes one retransmission timer: the first interval,
// the interval cap the doubling stops at, and how many retransmissions are
// attempted before giving up.
type RetransmitPolicy struct {
	Initial    time.Duration
	Cap        time.Duration
	MaxRetries int
}

// T1 is the Hello retransmission timer.
var T1 = RetransmitPolicy{Initial: 50 * time.Millisecond, Cap: 200 * time.Millisecond, MaxRetries: 20}

// T2 is the retransmission timer for Commit, DHPart2, Confirm2, GoClear,
// Error and SASrelay.
var T2 = RetransmitPolicy{Initial: 150 * time.Millisecond, Cap: 1200 * time.Millisecond, MaxRetries: 10}

// Validate checks that the policy is usable.
func (p RetransmitPolicy) Validate() error {
	if p.Initial <= 0 || p.Cap < p.Initial {
		return fmt.Errorf("%w: timer interval %v capped at %v", ErrInvalidOptions, p.Initial, p.Cap)
	}
	if p.MaxRetries <= 0 {
		return fmt.Errorf("%w: timer retries %d", ErrInvalidOptions, p.MaxRetries)
	}
	return nil
}

// next returns the interval following d.
func (p RetransmitPolicy) next(d time.Duration) time.Duration {
	d *= 2
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Options configures an Engine.
type Options struct {
	// StreamID names the stream in logs and events.
	StreamID string

	// ClientID is advertised in Hello, padded to 16 bytes.
	ClientID string

	// SSRC is put in the header of every ZRTP packet sent.
	SSRC uint32

	// T1 and T2 are the retransmission timers.
	T1 RetransmitPolicy
	T2 RetransmitPolicy

	// CacheExpiry is the retained secret lifetime in seconds announced in
	// Confirm. packet.CacheExpiryForever never expires; 0 disables caching.
	CacheExpiry uint32

	// AllowClear sets the A flag: the peer may request GoClear.
	AllowClear bool

	// Disclosure sets the D flag.
	Disclosure bool

	// Passive never sends Commit; the peer must initiate.
	Passive bool

	// TrustedMiTM marks this endpoint as a PBX (M flag in Hello).
	TrustedMiTM bool

	// Enrollment makes a PBX ask its peers to enroll (E flag in Confirm).
	Enrollment bool

	// TimeProvider stamps cache records; defaults to the system clock.
	TimeProvider crypto.TimeProvider

	// Rand supplies key material; defaults to crypto/rand.
	Rand io.Reader
}

// NewOptions returns options with the RFC 6189 timer values and caching
// enabled without expiry.
func NewOptions() *Options {
	return &Options{
		ClientID:     DefaultClientID,
		T1:           T1,
		T2:           T2,
		CacheExpiry:  packet.CacheExpiryForever,
		TimeProvider: crypto.DefaultTimeProvider{},
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	if len(o.ClientID) > limits.ClientIDLength {
		return fmt.Errorf("%w: client id %q longer than %d bytes", ErrInvalidOptions, o.ClientID, limits.ClientIDLength)
	}
	if err := o.T1.Validate(); err != nil {
		return fmt.Errorf("T1: %w", err)
	}
	if err := o.T2.Validate(); err != nil {
		return fmt.Errorf("T2: %w", err)
	}
	if o.Enrollment && !o.TrustedMiTM {
		return fmt.Errorf("%w: enrollment requires TrustedMiTM", ErrInvalidOptions)
	}
	return nil
}

func (o *Options) normalize() *Options {
	out := *o
	if out.ClientID == "" {
		out.ClientID = DefaultClientID
	}
	if out.T1 == (RetransmitPolicy{}) {
		out.T1 = T1
	}
	if out.T2 == (RetransmitPolicy{}) {
		out.T2 = T2
	}
	if out.TimeProvider == nil {
		out.TimeProvider = crypto.DefaultTimeProvider{}
	}
	out.Rand = crypto.RandomSource(out.Rand)
	return &out
}
