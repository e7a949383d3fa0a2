package cache

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/limits"
	"github.com/opd-ai/zrtp/packet"
)

// table is the record set shared by the cache implementations. It does no
// locking of its own.
type table struct {
	zid     packet.ZID
	records map[packet.ZID]*Record
}

func newTable(zid packet.ZID) *table {
	return &table{zid: zid, records: make(map[packet.ZID]*Record)}
}

// lookup returns the stored record for zid, creating it when absent.
func (t *table) lookup(zid packet.ZID, opts *Options) (rec *Record, created bool) {
	if rec, ok := t.records[zid]; ok {
		return rec, false
	}
	rec = NewRecord(zid, opts.TimeProvider.Now())
	t.records[zid] = rec
	return rec, true
}

func (t *table) store(rec *Record) {
	if old, ok := t.records[rec.ZID]; ok && old != rec {
		old.wipe()
	}
	t.records[rec.ZID] = rec.Clone()
}

// update applies fn to a copy of the record for zid and stores the copy
// when fn succeeds. A record created for the call is dropped again on
// failure. The returned record is a copy owned by the caller.
func (t *table) update(zid packet.ZID, opts *Options, fn func(*Record) error) (rec *Record, changed bool, err error) {
	stored, created := t.lookup(zid, opts)
	work := stored.Clone()
	if err := fn(work); err != nil {
		work.wipe()
		if created {
			delete(t.records, zid)
		}
		return nil, false, err
	}
	work.ZID = zid
	t.store(work)
	return work, true, nil
}

func (t *table) list() []*Record {
	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ZID[:], out[j].ZID[:]) < 0
	})
	return out
}

func (t *table) wipe() {
	for zid, rec := range t.records {
		rec.wipe()
		delete(t.records, zid)
	}
}

// MemoryCache keeps peer records in memory only. It serves tests and
// endpoints that run without key continuity across restarts.
type MemoryCache struct {
	mu    sync.Mutex
	opts  *Options
	name  string
	table *table
}

// NewMemoryCache creates an unopened in-memory cache.
func NewMemoryCache(opts *Options) *MemoryCache {
	return &MemoryCache{opts: opts.normalize()}
}

// Open generates the local ZID on first call. Calling it again returns
// AlreadyOpen.
func (c *MemoryCache) Open(name string) (OpenResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.table != nil {
		return AlreadyOpen, nil
	}
	zid, err := newZID(c.opts.Rand)
	if err != nil {
		return OpenFailed, fmt.Errorf("%w: generate ZID: %v", ErrCacheUnavailable, err)
	}
	c.name = name
	c.table = newTable(zid)

	logrus.WithFields(logrus.Fields{
		"function": "MemoryCache.Open",
		"name":     name,
		"zid":      zid.String(),
	}).Info("Opened in-memory peer cache")

	return Opened, nil
}

// LocalZID returns the local ZID, or the zero ZID before Open.
func (c *MemoryCache) LocalZID() packet.ZID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return packet.ZID{}
	}
	return c.table.zid
}

// GetRecord returns a copy of the record for zid, creating it if needed.
func (c *MemoryCache) GetRecord(zid packet.ZID) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, ErrNotOpen)
	}
	rec, _ := c.table.lookup(zid, c.opts)
	return rec.Clone(), nil
}

// SaveRecord stores a copy of rec.
func (c *MemoryCache) SaveRecord(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrCacheUnavailable)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, ErrNotOpen)
	}
	c.table.store(rec)
	return nil
}

// Update applies fn to the record for zid under the cache lock, creating
// the record if needed. The record is stored only when fn returns nil.
func (c *MemoryCache) Update(zid packet.ZID, fn func(*Record) error) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, ErrNotOpen)
	}
	rec, _, err := c.table.update(zid, c.opts, fn)
	return rec, err
}

// GetPeerName returns the display name stored for zid.
func (c *MemoryCache) GetPeerName(zid packet.ZID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return "", fmt.Errorf("%w: %w", ErrCacheUnavailable, ErrNotOpen)
	}
	if rec, ok := c.table.records[zid]; ok {
		return rec.Name, nil
	}
	return "", nil
}

// PutPeerName sets the display name for zid.
func (c *MemoryCache) PutPeerName(zid packet.ZID, name string) error {
	if err := limits.ValidatePeerName(name); err != nil {
		return fmt.Errorf("invalid peer name: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, ErrNotOpen)
	}
	rec, _ := c.table.lookup(zid, c.opts)
	rec.Name = name
	return nil
}

// Records returns copies of all records.
func (c *MemoryCache) Records() ([]*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, ErrNotOpen)
	}
	return c.table.list(), nil
}

// Cleanup wipes all records and generates a new local ZID.
func (c *MemoryCache) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, ErrNotOpen)
	}
	zid, err := newZID(c.opts.Rand)
	if err != nil {
		return fmt.Errorf("%w: generate ZID: %v", ErrCacheUnavailable, err)
	}
	c.table.wipe()
	c.table.zid = zid

	logrus.WithFields(logrus.Fields{
		"function": "MemoryCache.Cleanup",
		"zid":      zid.String(),
	}).Warn("Peer cache wiped, local ZID regenerated")
	return nil
}

// Close drops all records.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table != nil {
		c.table.wipe()
		c.table = nil
	}
	return nil
}
