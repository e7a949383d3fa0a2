// Package engine implements the ZRTP negotiation state machine for one media
// stream.
//
// An Engine exchanges Hello, Commit, DHPart and Confirm messages with its
// peer, derives the SRTP master keys and the short authentication string,
// and keeps the peer's retained secrets in a cache.Cache up to date. It does
// no I/O of its own: packets, timers and key installation go through the
// interfaces.Host supplied by the caller.
//
// # Driving an engine
//
//	e, err := engine.New(nil, host, peerCache, opts)
//	if err != nil {
//	    return err
//	}
//	if err := e.Start(); err != nil {
//	    return err
//	}
//
//	// for every ZRTP packet received on the media path
//	e.HandlePacket(data)
//
//	// for every timer started through host.ActivateTimer
//	e.HandleTimeout(token)
//
// Once both sides reach Secure, the host has received SecretsReady for both
// directions and SecretsOn with the SAS to display.
//
// # Concurrency
//
// All exported methods are safe for concurrent use. Host callbacks other than
// ActivateTimer and CancelTimer are made after the engine's lock is
// released, so a host may call back into the engine, and two engines may be
// wired to each other synchronously as the testing package does.
//
// # Roles
//
// Both endpoints may send Commit. When two DH Commits cross, the endpoint
// whose Hello has the larger SHA-256 digest stays initiator (see
// ResolveGlare); a DH Commit always beats a multistream Commit.
//
// # Multistream
//
// After the first stream of a call is Secure, MultiStreamParams returns what
// further streams need. Engines started with StartMultiStream skip the DH
// exchange, share the first stream's SAS and do not touch the cache.
package engine
