package cache

import (
	"errors"
	"io"

	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/packet"
)

var (
	// ErrCacheUnavailable wraps every cache failure. Negotiation treats it as
	// "no retained secret" and continues without key continuity.
	ErrCacheUnavailable = errors.New("peer cache unavailable")

	// ErrNotOpen is returned by record operations before Open succeeded.
	ErrNotOpen = errors.New("peer cache not open")
)

// OpenResult reports the outcome of Open.
type OpenResult int

const (
	// OpenFailed means the cache could not be opened.
	OpenFailed OpenResult = -1
	// AlreadyOpen means the cache was open before the call.
	AlreadyOpen OpenResult = 0
	// Opened means the call opened the cache.
	Opened OpenResult = 1
)

// Code returns the numeric result: 1 opened, 0 already open, -1 failed.
func (r OpenResult) Code() int { return int(r) }

func (r OpenResult) String() string {
	switch r {
	case Opened:
		return "opened"
	case AlreadyOpen:
		return "already open"
	default:
		return "failed"
	}
}

// Cache is the per-process store of peer trust state. One instance is
// shared by all sessions; implementations serialize access internally.
type Cache interface {
	// Open opens or creates the cache identified by name.
	Open(name string) (OpenResult, error)

	// LocalZID returns this endpoint's ZID. It is zero before Open.
	LocalZID() packet.ZID

	// GetRecord returns a copy of the record for zid, creating an empty
	// record stamped secure-since now when none exists.
	GetRecord(zid packet.ZID) (*Record, error)

	// SaveRecord stores rec, replacing any record with the same ZID.
	SaveRecord(rec *Record) error

	// Update runs fn on the record for zid, creating it when absent, and
	// stores the result. The whole read-modify-write holds the cache lock,
	// so concurrent updates from other streams are never lost. Nothing is
	// stored when fn fails. The returned record is a copy.
	Update(zid packet.ZID, fn func(*Record) error) (*Record, error)

	// GetPeerName returns the display name for zid, or "" if none is set.
	GetPeerName(zid packet.ZID) (string, error)

	// PutPeerName sets the display name for zid.
	PutPeerName(zid packet.ZID, name string) error

	// Records returns copies of all records ordered by ZID.
	Records() ([]*Record, error)

	// Cleanup deletes every record and generates a new local ZID.
	Cleanup() error

	// Close releases the cache. Further record operations fail with ErrNotOpen.
	Close() error
}

// Options configures a cache implementation.
type Options struct {
	// TimeProvider stamps records; defaults to the system clock.
	TimeProvider crypto.TimeProvider

	// Rand generates ZIDs and seal nonces; defaults to crypto/rand.
	Rand io.Reader

	// Passphrase seals a FileCache at rest when non-empty.
	Passphrase []byte
}

// NewOptions returns the default cache options.
func NewOptions() *Options {
	return &Options{TimeProvider: crypto.DefaultTimeProvider{}}
}

func (o *Options) normalize() *Options {
	out := NewOptions()
	if o == nil {
		return out
	}
	if o.TimeProvider != nil {
		out.TimeProvider = o.TimeProvider
	}
	out.Rand = o.Rand
	out.Passphrase = crypto.Clone(o.Passphrase)
	return out
}

func newZID(r io.Reader) (packet.ZID, error) {
	var zid packet.ZID
	if _, err := io.ReadFull(crypto.RandomSource(r), zid[:]); err != nil {
		return zid, err
	}
	return zid, nil
}
