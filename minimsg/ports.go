package minimsg

import (
	"errors"
	"sync"

	"github.com/joeycumines/minikernel/klog"
	"github.com/joeycumines/minikernel/miniroute"
	"github.com/joeycumines/minikernel/netaddr"
	"github.com/joeycumines/minikernel/queue"
	"github.com/joeycumines/minikernel/semaphore"
)

var log = klog.Default().With("minimsg")

// SetLogger overrides the subsystem logger used by minimsg.
func SetLogger(l klog.Logger) { log = l.With("minimsg") }

const (
	UnboundMin = 0
	UnboundMax = 32767
	BoundMin   = 32768
	BoundMax   = 65535
)

var (
	ErrPortOutOfRange = errors.New("minimsg: port number out of range")
	ErrNoMorePorts    = errors.New("minimsg: no bound port numbers available")
	ErrUnknownPort    = errors.New("minimsg: unknown port")
	ErrNotBound       = errors.New("minimsg: port is not a bound port")
	ErrNotUnbound     = errors.New("minimsg: port is not an unbound port")
)

type datagram struct {
	payload []byte
	srcAddr netaddr.Address
	srcPort uint16
}

type unboundPort struct {
	mu    sync.Mutex
	queue *queue.Queue[datagram]
	ready *semaphore.Semaphore
}

type boundPort struct {
	remoteAddr netaddr.Address
	remotePort uint16
}

// Ports owns every miniport (spec §3 "Miniport (datagram): tagged union")
// multiplexed over a single miniroute.Network, mirroring the source's
// port_mutex-protected global port array (spec §5).
type Ports struct {
	net *miniroute.Network

	mu        sync.Mutex
	unbound   map[uint16]*unboundPort
	bound     map[uint16]*boundPort
	nextBound uint16
}

// Self returns the network address packets sent from this table will carry
// as their source.
func (p *Ports) Self() netaddr.Address { return p.net.Self() }

// New creates a Ports table wired to net's DATA dispatch for Protocol.
func New(net *miniroute.Network) *Ports {
	p := &Ports{
		net:       net,
		unbound:   make(map[uint16]*unboundPort),
		bound:     make(map[uint16]*boundPort),
		nextBound: BoundMin,
	}
	net.RegisterProtocol(Protocol, p.onPacket)
	return p
}

// CreateUnbound returns the unique listening port numbered n, creating its
// queue and readiness semaphore on first call (spec §4.6: "multiple
// requests to create the same unbound port should return the same
// miniport reference").
func (p *Ports) CreateUnbound(n uint16) (uint16, error) {
	if n > UnboundMax {
		return 0, ErrPortOutOfRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.unbound[n]; !ok {
		p.unbound[n] = &unboundPort{queue: queue.New[datagram](), ready: semaphore.New(0)}
	}
	return n, nil
}

// CreateBound allocates the next free bound port number for sending to
// (addr, remoteUnbound), incrementing from the last assignment and
// wrapping to BoundMin on overflow (spec §4.6).
func (p *Ports) CreateBound(addr netaddr.Address, remoteUnbound uint16) (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.nextBound
	for {
		candidate := p.nextBound
		p.nextBound++
		if p.nextBound < BoundMin {
			p.nextBound = BoundMin
		}
		if _, taken := p.bound[candidate]; !taken {
			p.bound[candidate] = &boundPort{remoteAddr: addr, remotePort: remoteUnbound}
			return candidate, nil
		}
		if p.nextBound == start {
			return 0, ErrNoMorePorts
		}
	}
}

// Destroy frees port's resources, whichever kind it is (spec §4.6).
// Destruction concurrent with use is undefined, per spec §3's lifecycle
// note; callers are expected to quiesce a port before destroying it.
func (p *Ports) Destroy(port uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.unbound, port)
	delete(p.bound, port)
}

// Send constructs a datagram header and hands [header|payload] to the
// routing layer (spec §4.6). It returns the number of payload bytes sent.
func (p *Ports) Send(localUnbound, localBound uint16, payload []byte) (int, error) {
	if len(payload) > MaxMsgSize {
		return -1, ErrTooLarge
	}
	p.mu.Lock()
	if _, ok := p.unbound[localUnbound]; !ok {
		p.mu.Unlock()
		return -1, ErrNotUnbound
	}
	bp, ok := p.bound[localBound]
	p.mu.Unlock()
	if !ok {
		return -1, ErrNotBound
	}

	h := Header{SrcAddr: p.net.Self(), SrcPort: localUnbound, DstAddr: bp.remoteAddr, DstPort: bp.remotePort}
	buf := h.pack(payload)
	if err := p.net.Send(bp.remoteAddr, buf); err != nil {
		return -1, err
	}
	return len(payload), nil
}

// Receive blocks the calling kernel thread until a datagram arrives on
// localUnbound, then returns its payload plus a freshly synthesised bound
// port addressed back to the sender (spec §4.6).
func (p *Ports) Receive(localUnbound uint16) ([]byte, uint16, error) {
	p.mu.Lock()
	up, ok := p.unbound[localUnbound]
	p.mu.Unlock()
	if !ok {
		return nil, 0, ErrUnknownPort
	}

	up.ready.P()

	up.mu.Lock()
	d, ok := up.queue.PopFront()
	up.mu.Unlock()
	if !ok {
		// The port was destroyed and drained concurrently; undefined by
		// spec, but fail safely rather than block forever or panic.
		return nil, 0, ErrUnknownPort
	}

	replyPort, err := p.CreateBound(d.srcAddr, d.srcPort)
	if err != nil {
		return nil, 0, err
	}
	return d.payload, replyPort, nil
}

// onPacket is miniroute's RX callback for Protocol: it runs off the
// scheduler, outside any kernel thread (spec §4.5's "the control thread
// performs heavy processing outside interrupt context" — here the work is
// trivial enough to do inline, matching the source's RX path description
// directly: "look up destination unbounded port; if absent, drop; else
// enqueue ... and V the readiness semaphore").
func (p *Ports) onPacket(_ []netaddr.Address, payload []byte) {
	h, body, err := parseHeader(payload)
	if err != nil {
		log.Warn("dropping malformed datagram", "err", err)
		return
	}
	p.mu.Lock()
	up, ok := p.unbound[h.DstPort]
	p.mu.Unlock()
	if !ok {
		return
	}
	cp := make([]byte, len(body))
	copy(cp, body)

	up.mu.Lock()
	up.queue.Append(datagram{payload: cp, srcAddr: h.SrcAddr, srcPort: h.SrcPort})
	up.mu.Unlock()

	up.ready.V()
}
