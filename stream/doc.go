// Package stream binds a ZRTP negotiation to one RTP media stream.
//
// A Stream owns an engine.Engine and acts as its host. The application
// feeds every packet received on the media path to ProcessIncoming, which
// hands ZRTP packets to the engine and decrypts SRTP once keys exist, and
// passes every outbound RTP packet through ProcessOutgoing:
//
//	s, err := stream.New(stream.NewOptions("audio"), transport, peerCache)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	if err := s.Start(); err != nil {
//	    return err
//	}
//
//	payload, err := s.ProcessIncoming(data)
//	if errors.Is(err, stream.ErrUnprotect) {
//	    // drop the packet
//	}
//
// Until the negotiation installs keys, media passes unchanged. SRTP uses the
// pion/srtp contexts for AES-CM with HMAC-SHA1 tags; a negotiation that
// settles on a cipher without an SRTP profile leaves the call in clear and
// reports a warning.
package stream
