// Package cache stores ZRTP peer trust state.
//
// Each remote endpoint is identified by its 96-bit ZID. The cache keeps, per
// peer, up to two retained secrets (RS1, RS2) from earlier successful
// negotiations, the SAS-verified flag, timestamps, an optional display name
// and the trusted-MiTM key of enrolled PBXs. It also owns the local ZID.
//
// Two implementations are provided. [MemoryCache] holds everything in memory
// and is the natural choice for tests. [FileCache] persists a JSON document
// and can seal it with a passphrase:
//
//	c := cache.NewFileCache(&cache.Options{Passphrase: []byte(pass)})
//	if _, err := c.Open("/var/lib/zrtp/peers.json"); err != nil {
//		// run without key continuity
//	}
//	defer c.Close()
//
// A process opens one cache and hands it to every session. All methods are
// safe for concurrent use. Failures wrap [ErrCacheUnavailable].
package cache
