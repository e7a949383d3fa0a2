// Package zrtp implements ZRTP (RFC 6189) key agreement for RTP media.
//
// ZRTP negotiates SRTP keys in the media path itself: the two endpoints
// exchange ZRTP packets alongside RTP, run an ephemeral Diffie-Hellman
// exchange, and show their users a short authentication string (SAS) to
// compare. Secrets retained from earlier calls, kept in a per-peer cache,
// make a man-in-the-middle detectable even when users skip the comparison.
//
// The module is split into layers:
//
//   - packet encodes and parses ZRTP messages and frames.
//   - algorithm describes the offered hash, cipher, auth tag, key agreement
//     and SAS algorithms and negotiates a common set.
//   - crypto holds the primitives (KDF, DH groups, CFB, HMAC, SAS rendering).
//   - cache stores the local ZID and per-peer retained secrets.
//   - engine runs the negotiation state machine for one stream.
//   - stream binds an engine to an RTP stream and installs SRTP contexts.
//   - Session, in this package, ties the audio and video streams of a call
//     together.
//
// # Getting Started
//
//	peers := cache.NewFileCache(cache.NewOptions())
//	if _, err := peers.Open("zrtp-cache.json"); err != nil {
//	    log.Fatal(err)
//	}
//	defer peers.Close()
//
//	session, err := zrtp.NewSession(zrtp.NewOptions(), peers, myListener)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	audio, err := session.AddStream(zrtp.Audio, audioTransport)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := session.Start(zrtp.Audio); err != nil {
//	    log.Fatal(err)
//	}
//
//	// on the media path
//	plain, err := audio.ProcessIncoming(received)
//	protected, err := audio.ProcessOutgoing(outgoing)
//
// The listener's OnSecureOn callback carries the SAS to display. Once the
// users confirm it, call UserConfirmsSAS so later calls with the same peer
// start verified.
//
// # Multistream
//
// With Options.MultiStream set, a video stream started before audio is
// secure waits and then joins the call in multistream mode, reusing the
// audio stream's session key and SAS without a second DH exchange.
package zrtp
