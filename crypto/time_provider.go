package crypto

import (
	"crypto/rand"
	"io"
	"time"
)

// TimeProvider abstracts wall-clock time for cache expiry and timestamps.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// FixedTimeProvider always returns the same instant.
type FixedTimeProvider struct {
	T time.Time
}

// Now returns the fixed instant.
func (f FixedTimeProvider) Now() time.Time { return f.T }

// RandomSource returns r, or crypto/rand.Reader when r is nil.
func RandomSource(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}
