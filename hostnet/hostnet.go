// Package hostnet is the single point of contact with the real host
// network stack: it owns one *net.UDPConn per kernel instance and bridges
// inbound datagrams to miniroute's receive path, and outbound packets from
// miniroute to the wire.
//
// Everything above this package (miniroute, minimsg, minisocket) works
// entirely in terms of netaddr.Address and byte slices; hostnet is the only
// place that touches net.UDPConn or a raw file descriptor.
package hostnet

import (
	"math/rand"
	"net"
	"sync"

	"github.com/joeycumines/minikernel/klog"
	"github.com/joeycumines/minikernel/netaddr"
)

var log = klog.Default().With("hostnet")

// SetLogger overrides the subsystem logger used by hostnet.
func SetLogger(l klog.Logger) { log = l.With("hostnet") }

// MaxDatagram is the largest UDP payload this bridge will read or write in
// one call; large enough for the biggest route packet (header plus a
// maximum-size minisocket segment).
const MaxDatagram = 8192

// Handler processes one inbound datagram. It is invoked on the reader
// goroutine and must not block; subsystems that need to do kernel-thread
// work (semaphore P, etc.) should hand the payload to their own control
// thread instead of processing it inline.
type Handler func(src netaddr.Address, payload []byte)

// Conn bridges a local UDP socket to the kernel's address space.
type Conn struct {
	udp     *net.UDPConn
	handler Handler
	local   netaddr.Address

	stop func()

	faultMu sync.Mutex
	fault   *faultInjector
}

// faultInjector simulates an unreliable wire for testing the reliable
// protocols layered above miniroute (spec §8 testable property 7: "loss_rate
// ... duplication_rate ... applied to the simulated network"). It is nil on
// every production Conn; tests opt in with SetFaultInjection.
type faultInjector struct {
	rng             *rand.Rand
	lossRate        float64
	duplicationRate float64
}

// SetFaultInjection makes WriteTo drop outbound datagrams with probability
// lossRate and duplicate them (send twice) with probability duplicationRate,
// using a seeded generator for reproducible test runs. Passing lossRate <= 0
// and duplicationRate <= 0 disables injection again.
func (c *Conn) SetFaultInjection(lossRate, duplicationRate float64, seed int64) {
	c.faultMu.Lock()
	defer c.faultMu.Unlock()
	if lossRate <= 0 && duplicationRate <= 0 {
		c.fault = nil
		return
	}
	c.fault = &faultInjector{rng: rand.New(rand.NewSource(seed)), lossRate: lossRate, duplicationRate: duplicationRate}
}

// Listen opens a UDP socket on the given port (0 picks an ephemeral one)
// and returns a Conn ready to Start.
func Listen(port int) (*Conn, error) {
	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, err
	}
	local := toAddress(udp.LocalAddr().(*net.UDPAddr))
	return &Conn{udp: udp, local: local}, nil
}

// LocalAddr returns the address this bridge is bound to.
func (c *Conn) LocalAddr() netaddr.Address { return c.local }

// Start begins delivering inbound datagrams to handler. The reader runs on
// a platform-specific implementation: epoll-driven on Linux (hostnet_linux.go),
// a plain blocking read loop elsewhere (hostnet_other.go).
func (c *Conn) Start(handler Handler) error {
	c.handler = handler
	stop, err := startReader(c)
	if err != nil {
		return err
	}
	c.stop = stop
	return nil
}

// WriteTo sends payload to dst over the host UDP socket, applying any
// configured fault injection (see SetFaultInjection) first.
func (c *Conn) WriteTo(dst netaddr.Address, payload []byte) error {
	addr := &net.UDPAddr{IP: net.IPv4(dst.IP[0], dst.IP[1], dst.IP[2], dst.IP[3]), Port: int(dst.Port)}

	if drop, dup := c.rollFault(); drop {
		return nil
	} else if dup {
		if _, err := c.udp.WriteToUDP(payload, addr); err != nil {
			return err
		}
		_, err := c.udp.WriteToUDP(payload, addr)
		return err
	}

	_, err := c.udp.WriteToUDP(payload, addr)
	return err
}

// rollFault reports whether the next write should be silently dropped, and
// independently whether it should be sent twice, per the configured fault
// injector (nil means no injection, i.e. a perfectly reliable wire).
func (c *Conn) rollFault() (drop, dup bool) {
	c.faultMu.Lock()
	defer c.faultMu.Unlock()
	if c.fault == nil {
		return false, false
	}
	return c.fault.rng.Float64() < c.fault.lossRate, c.fault.rng.Float64() < c.fault.duplicationRate
}

// Close stops the reader and closes the underlying socket.
func (c *Conn) Close() error {
	if c.stop != nil {
		c.stop()
	}
	return c.udp.Close()
}

func (c *Conn) deliver(from *net.UDPAddr, payload []byte) {
	src := toAddress(from)
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.handler(src, cp)
}

func toAddress(a *net.UDPAddr) netaddr.Address {
	var addr netaddr.Address
	ip4 := a.IP.To4()
	if ip4 != nil {
		copy(addr.IP[:], ip4)
	}
	addr.Port = uint32(a.Port)
	return addr
}
