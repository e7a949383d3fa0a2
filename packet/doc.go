// Package packet implements the ZRTP wire format.
//
// A ZRTP packet travels on the media path next to RTP. It consists of a
// 12-byte header (first byte 0x10, sequence number, the magic cookie "ZRTP"
// and the sender SSRC), one ZRTP message and a trailing CRC-32C:
//
//	pkt := &packet.Packet{Sequence: seq, SSRC: ssrc, Message: msg}
//	wire := pkt.Serialize()
//
//	in, err := packet.Parse(wire)
//	if errors.Is(err, packet.ErrInvalidPacket) {
//		// not ZRTP, or corrupted: drop it
//	}
//
// Every message starts with the preamble 0x505a, its length in 32-bit words
// and an 8-byte ASCII type block. The message structs ([Hello], [Commit],
// [DHPart], [Confirm], [SASRelay], [Ping], [PingACK]) each have a Serialize
// method and a matching Parse function. Header-only acknowledgements are
// built with [SerializeSimple].
//
// Messages that carry a trailing MAC are serialized with the MAC zeroed when
// none is set; callers compute the MAC over [MACInput] and store it with
// [SetMAC].
package packet
