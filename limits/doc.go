// Package limits centralises the size limits used across the ZRTP packages.
//
// The packet codec refuses anything longer than [MaxPacketLength], the peer
// cache refuses display names longer than [MaxPeerNameLength] and cache
// documents larger than [MaxCacheFileSize], and every Hello carries a client
// identifier padded to [ClientIDLength] bytes.
package limits
