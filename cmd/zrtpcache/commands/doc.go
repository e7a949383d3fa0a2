// Package commands implements the zrtpcache command line: inspecting the
// local ZID, listing the peers of a ZRTP cache, naming and verifying them,
// and wiping the cache.
package commands
