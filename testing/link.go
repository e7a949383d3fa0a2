package testing

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/zrtp/packet"
)

// Side names one end of a Link.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// Filter inspects a packet travelling from one side. It returns the bytes
// to deliver, which may be modified, or nil to drop the packet.
type Filter func(from Side, data []byte) []byte

// DeliveryRecord represents one packet sent over a Link, for test
// verification.
type DeliveryRecord struct {
	From    Side
	Type    packet.MessageType
	Size    int
	Dropped bool
}

// Link is an in-memory media path between two endpoints. Packets are
// delivered synchronously to the receiver attached to the other port.
type Link struct {
	mu          sync.RWMutex
	a, b        *Port
	filter      Filter
	deliveryLog []DeliveryRecord
}

// Port is one end of a Link. It implements interfaces.Transport.
type Port struct {
	side    Side
	link    *Link
	mu      sync.RWMutex
	receive func([]byte)
}

// NewLink creates a connected pair of ports.
func NewLink() *Link {
	logrus.WithFields(logrus.Fields{
		"function": "NewLink",
	}).Debug("Creating simulated media link")

	l := &Link{deliveryLog: make([]DeliveryRecord, 0)}
	l.a = &Port{side: SideA, link: l}
	l.b = &Port{side: SideB, link: l}
	return l
}

// A returns the first port.
func (l *Link) A() *Port { return l.a }

// B returns the second port.
func (l *Link) B() *Port { return l.b }

// SetFilter installs a filter applied to every packet; nil removes it.
func (l *Link) SetFilter(f Filter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = f
}

// GetDeliveryLog returns a copy of the delivery log.
func (l *Link) GetDeliveryLog() []DeliveryRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	log := make([]DeliveryRecord, len(l.deliveryLog))
	copy(log, l.deliveryLog)
	return log
}

// ClearDeliveryLog empties the delivery log.
func (l *Link) ClearDeliveryLog() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliveryLog = make([]DeliveryRecord, 0)
}

// Count returns how many packets of type t were sent from side, including
// dropped ones.
func (l *Link) Count(from Side, t packet.MessageType) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, r := range l.deliveryLog {
		if r.From == from && r.Type == t {
			n++
		}
	}
	return n
}

// Attach sets the function that receives packets arriving at this port.
func (p *Port) Attach(receive func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receive = receive
}

// Side returns which end of the link the port is.
func (p *Port) Side() Side { return p.side }

// SendZrtpPacket delivers data to the other port. It reports false only
// when nothing is attached on the other side.
func (p *Port) SendZrtpPacket(data []byte) bool {
	return p.link.deliver(p.side, data)
}

// SendRTP delivers a media packet to the other port through the same path.
func (p *Port) SendRTP(data []byte) bool {
	return p.link.deliver(p.side, data)
}

func (l *Link) deliver(from Side, data []byte) bool {
	to := l.b
	if from == SideB {
		to = l.a
	}

	l.mu.Lock()
	filter := l.filter
	l.mu.Unlock()

	out := append([]byte(nil), data...)
	if filter != nil {
		out = filter(from, out)
	}

	record := DeliveryRecord{From: from, Size: len(data), Dropped: out == nil}
	if pkt, err := packet.Parse(data); err == nil {
		record.Type, _ = packet.MessageTypeOf(pkt.Message)
	}
	l.mu.Lock()
	l.deliveryLog = append(l.deliveryLog, record)
	l.mu.Unlock()

	if out == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Link.deliver",
			"from":     string(from),
			"type":     record.Type.Short(),
		}).Debug("Simulated link dropped packet")
		return true
	}

	to.mu.RLock()
	receive := to.receive
	to.mu.RUnlock()
	if receive == nil {
		return false
	}
	receive(out)
	return true
}

// Message returns the ZRTP message carried by data, or nil for anything
// that is not a valid ZRTP packet. Filters use it to look at traffic.
func Message(data []byte) []byte {
	pkt, err := packet.Parse(data)
	if err != nil {
		return nil
	}
	return pkt.Message
}

// Reframe rebuilds a ZRTP packet around a modified message, with a valid CRC.
func Reframe(data, msg []byte) []byte {
	pkt, err := packet.Parse(data)
	if err != nil {
		return data
	}
	pkt.Message = msg
	return pkt.Serialize()
}
