// Package interfaces defines the boundaries between the ZRTP engine, the
// media layer that hosts it and the application.
//
// [Host] is implemented by whatever carries a ZRTP negotiation: it sends
// ZRTP packets on the media path, schedules timers and installs SRTP keys.
// Package stream provides the implementation used with RTP media.
//
// [TimerService] is the timer primitive behind a Host. Package timer backs
// it with the runtime clock; package testing provides a manual clock for
// deterministic tests.
//
// [Listener] is implemented by the application to follow each stream:
//
//	type ui struct{ interfaces.NopListener }
//
//	func (ui) OnNewState(streamID, state string) {
//		log.Printf("%s: %s", streamID, state)
//	}
//
// # Thread Safety
//
// Implementations of these interfaces must be safe for concurrent use:
// packet arrival and timer expiry reach the engine from different goroutines.
package interfaces
