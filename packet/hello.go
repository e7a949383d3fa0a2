package packet

import (
	"fmt"

	"github.com/opd-ai/zrtp/algorithm"
	"github.com/opd-ai/zrtp/limits"
)

// ProtocolVersion is the ZRTP version advertised in Hello and Ping.
const ProtocolVersion = "1.10"

// helloFixedWords covers the header, version, client id, H3, ZID, the flags
// word and the MAC.
const helloFixedWords = 3 + 1 + 4 + 8 + 3 + 1 + 2

// Hello advertises an endpoint's identity and algorithm preferences.
//
// Wire format (32-bit words):
//
//	[HEADER(3)][VERSION(1)][CLIENT_ID(4)][H3(8)][ZID(3)]
//	[0|S|M|P|unused(8)|hc|cc|ac|kc|sc (1)]
//	[HASH(hc)][CIPHER(cc)][AUTH(ac)][PUBKEY(kc)][SAS(sc)][MAC(2)]
//
// The algorithm blocks always appear in this order; each count is a 4-bit
// nibble in the flags word.
type Hello struct {
	Version       string
	ClientID      string
	H3            []byte
	ZID           ZID
	SigCapable    bool
	MiTM          bool
	Passive       bool
	Hashes        []algorithm.Name
	Ciphers       []algorithm.Name
	AuthTags      []algorithm.Name
	KeyAgreements []algorithm.Name
	SASTypes      []algorithm.Name
	MAC           []byte
}

// Lists returns the algorithm lists in wire order.
func (h *Hello) Lists() [][]algorithm.Name {
	return [][]algorithm.Name{h.Hashes, h.Ciphers, h.AuthTags, h.KeyAgreements, h.SASTypes}
}

// List returns the list for one category.
func (h *Hello) List(c algorithm.Category) []algorithm.Name {
	return h.Lists()[c]
}

// Serialize encodes the Hello. A nil MAC is encoded as zeros so the caller
// can compute it over MACInput and patch it in with SetMAC.
func (h *Hello) Serialize() ([]byte, error) {
	lists := h.Lists()
	total := 0
	for i, l := range lists {
		if len(l) > algorithm.MaxPerCategory {
			return nil, fmt.Errorf("hello lists %d %s algorithms, limit is %d", len(l), algorithm.Category(i), algorithm.MaxPerCategory)
		}
		total += len(l)
	}

	msg := newMessage(TypeHello, helloFixedWords+total)
	version := h.Version
	if version == "" {
		version = ProtocolVersion
	}
	if len(version) != 4 {
		return nil, fmt.Errorf("hello version must be 4 characters, got %q", version)
	}
	copy(msg[12:16], version)
	clientID := limits.ClientID(h.ClientID)
	copy(msg[16:32], clientID[:])
	if err := putFixed(msg[32:64], h.H3, "H3"); err != nil {
		return nil, err
	}
	copy(msg[64:76], h.ZID[:])

	var flags byte
	if h.SigCapable {
		flags |= 0x40
	}
	if h.MiTM {
		flags |= 0x20
	}
	if h.Passive {
		flags |= 0x10
	}
	msg[76] = flags
	msg[77] = byte(len(h.Hashes))
	msg[78] = byte(len(h.Ciphers))<<4 | byte(len(h.AuthTags))
	msg[79] = byte(len(h.KeyAgreements))<<4 | byte(len(h.SASTypes))

	off := 80
	for _, l := range lists {
		for _, n := range l {
			w := n.Wire()
			copy(msg[off:off+4], w[:])
			off += 4
		}
	}
	if h.MAC != nil {
		if err := putFixed(msg[off:off+MACLength], h.MAC, "MAC"); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// ParseHello decodes a Hello message. Offsets into the variable region are
// computed from the nibble counts.
func ParseHello(msg []byte) (*Hello, error) {
	if err := expect(msg, TypeHello, helloFixedWords); err != nil {
		return nil, err
	}

	counts := []int{
		int(msg[77] & 0x0f),
		int(msg[78] >> 4),
		int(msg[78] & 0x0f),
		int(msg[79] >> 4),
		int(msg[79] & 0x0f),
	}
	total := 0
	for _, c := range counts {
		if c > algorithm.MaxPerCategory {
			return nil, fmt.Errorf("%w: hello algorithm count %d exceeds %d", ErrInvalidPacket, c, algorithm.MaxPerCategory)
		}
		total += c
	}
	if len(msg) != (helloFixedWords+total)*4 {
		return nil, fmt.Errorf("%w: hello length %d does not match algorithm counts", ErrInvalidPacket, len(msg))
	}

	h := &Hello{
		Version:    string(msg[12:16]),
		ClientID:   string(msg[16:32]),
		H3:         cloneBytes(msg[32:64]),
		SigCapable: msg[76]&0x40 != 0,
		MiTM:       msg[76]&0x20 != 0,
		Passive:    msg[76]&0x10 != 0,
	}
	copy(h.ZID[:], msg[64:76])

	off := 80
	lists := make([][]algorithm.Name, len(counts))
	for i, c := range counts {
		lists[i] = make([]algorithm.Name, 0, c)
		for j := 0; j < c; j++ {
			lists[i] = append(lists[i], algorithm.FromWire(msg[off:off+4]))
			off += 4
		}
	}
	h.Hashes, h.Ciphers, h.AuthTags, h.KeyAgreements, h.SASTypes = lists[0], lists[1], lists[2], lists[3], lists[4]
	h.MAC = cloneBytes(msg[off : off+MACLength])
	return h, nil
}
