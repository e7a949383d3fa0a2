// Package testing provides in-memory doubles for exercising ZRTP engines
// and streams without a network or wall-clock timers.
//
// # Overview
//
// A [Link] joins two ports; a packet sent on one port is delivered
// synchronously to the receiver attached to the other. A [Filter] can drop
// or rewrite packets in flight, and every packet is recorded in the
// delivery log. [Clock] implements interfaces.TimerService with a manual
// clock, and [Host] implements interfaces.Host on top of both while
// recording events, installed keys and the SAS.
//
// # Usage
//
//	link := testing.NewLink()
//	clock := testing.NewClock()
//	hostA := testing.NewHost(link.A(), clock)
//	a, _ := engine.New(nil, hostA, nil, nil)
//	hostA.OnTimeout(a.HandleTimeout)
//	link.A().Attach(a.HandlePacket)
//
//	// ... same for side B, then:
//	_ = a.Start()
//	_ = b.Start()
//	clock.Advance(time.Second)
//
// # Thread Safety
//
// All types are safe for concurrent use. Delivery and timer callbacks run
// on the goroutine that sent the packet or advanced the clock.
package testing
