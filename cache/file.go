package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/limits"
	"github.com/opd-ai/zrtp/packet"
)

const documentVersion = 1

// document is the on-disk JSON layout of a FileCache.
type document struct {
	Version int        `json:"version"`
	ZID     packet.ZID `json:"zid"`
	Records []*Record  `json:"records"`
}

// FileCache persists peer records in a single JSON document. Every change is
// written through a temporary file and renamed into place. When a passphrase
// is configured the document is sealed with AES-GCM.
type FileCache struct {
	mu     sync.Mutex
	opts   *Options
	path   string
	table  *table
	sealer *crypto.Sealer
}

// NewFileCache creates an unopened file-backed cache.
//
// Parameters:
//   - opts: Time source, random source and optional passphrase (nil for defaults)
//
// Returns:
//   - *FileCache: The cache; call Open with the file path before use
func NewFileCache(opts *Options) *FileCache {
	return &FileCache{opts: opts.normalize()}
}

// Open loads the cache file at name, creating it with a fresh local ZID when
// it does not exist.
func (c *FileCache) Open(name string) (OpenResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.table != nil {
		return AlreadyOpen, nil
	}
	if name == "" {
		return OpenFailed, fmt.Errorf("%w: empty cache path", ErrCacheUnavailable)
	}

	logger := logrus.WithFields(logrus.Fields{
		"function": "FileCache.Open",
		"path":     name,
		"sealed":   len(c.opts.Passphrase) > 0,
	})

	raw, err := readFile(name)
	if err != nil {
		logger.WithError(err).Error("Failed to read peer cache")
		return OpenFailed, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	c.path = name
	if raw == nil {
		if err := c.create(); err != nil {
			c.reset()
			logger.WithError(err).Error("Failed to create peer cache")
			return OpenFailed, err
		}
		logger.WithField("zid", c.table.zid.String()).Info("Created new peer cache")
		return Opened, nil
	}

	if err := c.load(raw); err != nil {
		c.reset()
		logger.WithError(err).Error("Failed to load peer cache")
		return OpenFailed, err
	}
	logger.WithFields(logrus.Fields{
		"zid":     c.table.zid.String(),
		"records": len(c.table.records),
	}).Info("Opened peer cache")
	return Opened, nil
}

func (c *FileCache) create() error {
	zid, err := newZID(c.opts.Rand)
	if err != nil {
		return fmt.Errorf("%w: generate ZID: %v", ErrCacheUnavailable, err)
	}
	if len(c.opts.Passphrase) > 0 {
		c.sealer, err = crypto.NewSealer(c.opts.Passphrase, nil, c.opts.Rand)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	c.table = newTable(zid)
	return c.persist()
}

func (c *FileCache) load(raw []byte) error {
	if err := limits.ValidateSize(raw, limits.MaxCacheFileSize); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if len(c.opts.Passphrase) > 0 {
		salt, err := crypto.SealedSalt(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		c.sealer, err = crypto.NewSealer(c.opts.Passphrase, salt, c.opts.Rand)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		raw, err = c.sealer.Open(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrCacheUnavailable, err)
	}
	if doc.Version > documentVersion {
		return fmt.Errorf("%w: unsupported cache version %d", ErrCacheUnavailable, doc.Version)
	}
	if doc.ZID.IsZero() {
		return fmt.Errorf("%w: cache has no local ZID", ErrCacheUnavailable)
	}

	c.table = newTable(doc.ZID)
	for _, rec := range doc.Records {
		if rec == nil || rec.ZID.IsZero() {
			continue
		}
		c.table.records[rec.ZID] = rec
	}
	return nil
}

// persist writes the current table. Callers hold c.mu.
func (c *FileCache) persist() error {
	doc := document{Version: documentVersion, ZID: c.table.zid, Records: c.table.list()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrCacheUnavailable, err)
	}
	if c.sealer != nil {
		plain := data
		data, err = c.sealer.Seal(plain)
		crypto.Wipe(plain)
		if err != nil {
			return fmt.Errorf("%w: seal: %v", ErrCacheUnavailable, err)
		}
	}
	if err := writeFile(c.path, data, 0o600); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "FileCache.persist",
			"path":     c.path,
			"error":    err.Error(),
		}).Error("Failed to write peer cache")
		return fmt.Errorf("%w: write: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (c *FileCache) reset() {
	if c.sealer != nil {
		c.sealer.Close()
		c.sealer = nil
	}
	c.table = nil
	c.path = ""
}

func (c *FileCache) checkOpen() error {
	if c.table == nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, ErrNotOpen)
	}
	return nil
}

// Path returns the file backing the cache, or "" before Open.
func (c *FileCache) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// LocalZID returns the local ZID, or the zero ZID before Open.
func (c *FileCache) LocalZID() packet.ZID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table == nil {
		return packet.ZID{}
	}
	return c.table.zid
}

// GetRecord returns a copy of the record for zid. A newly created record is
// written to disk immediately.
func (c *FileCache) GetRecord(zid packet.ZID) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	rec, created := c.table.lookup(zid, c.opts)
	if created {
		if err := c.persist(); err != nil {
			return rec.Clone(), err
		}
	}
	return rec.Clone(), nil
}

// SaveRecord stores a copy of rec and writes the cache.
func (c *FileCache) SaveRecord(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrCacheUnavailable)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.table.store(rec)
	return c.persist()
}

// Update applies fn to the record for zid under the cache lock, creating
// the record if needed, and writes the cache when fn returns nil.
func (c *FileCache) Update(zid packet.ZID, fn func(*Record) error) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	rec, changed, err := c.table.update(zid, c.opts, fn)
	if err != nil || !changed {
		return rec, err
	}
	return rec, c.persist()
}

// GetPeerName returns the display name stored for zid.
func (c *FileCache) GetPeerName(zid packet.ZID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	if rec, ok := c.table.records[zid]; ok {
		return rec.Name, nil
	}
	return "", nil
}

// PutPeerName sets the display name for zid and writes the cache.
func (c *FileCache) PutPeerName(zid packet.ZID, name string) error {
	if err := limits.ValidatePeerName(name); err != nil {
		return fmt.Errorf("invalid peer name: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	rec, _ := c.table.lookup(zid, c.opts)
	rec.Name = name
	return c.persist()
}

// Records returns copies of all records.
func (c *FileCache) Records() ([]*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.table.list(), nil
}

// Cleanup wipes all records, generates a new local ZID and writes the cache.
func (c *FileCache) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	zid, err := newZID(c.opts.Rand)
	if err != nil {
		return fmt.Errorf("%w: generate ZID: %v", ErrCacheUnavailable, err)
	}
	c.table.wipe()
	c.table.zid = zid

	logrus.WithFields(logrus.Fields{
		"function": "FileCache.Cleanup",
		"path":     c.path,
		"zid":      zid.String(),
	}).Warn("Peer cache wiped, local ZID regenerated")
	return c.persist()
}

// Close wipes in-memory secrets. The file stays on disk.
func (c *FileCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table != nil {
		c.table.wipe()
	}
	c.reset()
	return nil
}

// readFile reads path, returning nil data for a missing file. Files larger
// than the cache limit are refused before being read.
func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limits.MaxCacheFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("cache file %s is empty", path)
	}
	return data, nil
}

// writeFile writes b via a temporary file in the same directory, then
// atomically replaces path.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
