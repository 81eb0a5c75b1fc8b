// Package miniroute implements the source-routed, discovery-based network
// layer from spec §4.8: on-demand path discovery with a route cache,
// TTL-bounded forwarding, and path reversal for replies.
package miniroute

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joeycumines/minikernel/alarm"
	"github.com/joeycumines/minikernel/hostnet"
	"github.com/joeycumines/minikernel/klog"
	"github.com/joeycumines/minikernel/minithread"
	"github.com/joeycumines/minikernel/netaddr"
	"github.com/joeycumines/minikernel/taslock"
)

var log = klog.Default().With("miniroute")

// SetLogger overrides the subsystem logger used by miniroute.
func SetLogger(l klog.Logger) { log = l.With("miniroute") }

const (
	routeCacheCapacity     = 20
	routeCacheLifetime     = 3 * time.Second
	discoveryCacheCapacity = 65521 // bucket-count nod to the source, used here as the entry cap
	discoveryCacheLifetime = 30 * time.Second
	discoveryTimeout       = 12 * time.Second
)

var (
	// ErrDiscoveryTimeout is returned by Send when no REPLY arrives within
	// discoveryTimeout.
	ErrDiscoveryTimeout = errors.New("miniroute: discovery timed out")
	// ErrNoRoute is returned when TTL or path-membership checks fail during
	// forwarding and nothing can be done locally.
	ErrNoRoute = errors.New("miniroute: no route to destination")
)

// Handler is how upper layers (minimsg, minisocket) receive DATA payloads
// addressed to this node. path is the full resolved hop list, for replies
// that want to route back along it without a fresh discovery.
type Handler func(path []netaddr.Address, payload []byte)

// Network is one node's routing-layer instance: one host UDP bridge, one
// route cache, one discovery-history cache, one discovery-collapsing group.
type Network struct {
	conn *hostnet.Conn
	self netaddr.Address

	routes  *routeCache
	history *discoveryCache

	nextID atomic.Uint32

	sf      singleflight.Group
	pendMu  sync.Mutex
	pending map[netaddr.Address]*pendingDiscovery

	handlersMu sync.RWMutex
	handlers   map[byte]Handler

	peersMu sync.Mutex
	peers   map[netaddr.Address]struct{}
}

// New wires a Network on top of an already-listening hostnet.Conn.
func New(conn *hostnet.Conn) *Network {
	n := &Network{
		conn:     conn,
		self:     conn.LocalAddr(),
		routes:   newRouteCache(routeCacheCapacity, ticksFor(routeCacheLifetime)),
		history:  newDiscoveryCache(discoveryCacheCapacity, ticksFor(discoveryCacheLifetime)),
		pending:  make(map[netaddr.Address]*pendingDiscovery),
		handlers: make(map[byte]Handler),
		peers:    make(map[netaddr.Address]struct{}),
	}
	if err := conn.Start(n.onPacket); err != nil {
		log.Error("failed to start network bridge", "err", err)
	}
	return n
}

func ticksFor(d time.Duration) uint64 {
	if alarm.TickPeriod <= 0 {
		return uint64(d / time.Millisecond)
	}
	n := int64(d) / int64(alarm.TickPeriod)
	if n < 1 {
		n = 1
	}
	return uint64(n)
}

// Self returns this node's address.
func (n *Network) Self() netaddr.Address { return n.self }

// RegisterProtocol installs the handler invoked for DATA payloads whose
// first byte equals proto (the upper-layer protocol discriminant minimsg
// and minisocket each stamp into their own headers, per spec §6).
func (n *Network) RegisterProtocol(proto byte, h Handler) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	n.handlers[proto] = h
}

// Send resolves a path to dest (consulting the cache, or running discovery)
// and transmits payload as a DATA packet along it. It blocks the calling
// kernel thread cooperatively (never the whole process) while discovery is
// in flight.
func (n *Network) Send(dest netaddr.Address, payload []byte) error {
	if dest.Equal(n.self) {
		path := []netaddr.Address{n.self}
		return n.sendData(path, dest, payload)
	}

	path, ok := n.routes.lookup(dest, minithread.Ticks())
	if !ok {
		var err error
		path, err = n.resolve(dest)
		if err != nil {
			return err
		}
	}
	return n.sendData(path, dest, payload)
}

func (n *Network) sendData(path []netaddr.Address, dest netaddr.Address, payload []byte) error {
	if len(path) < 2 {
		// Loopback: path is just [self].
		n.dispatch(path, payload)
		return nil
	}
	h := Header{Type: Data, Dest: dest, TTL: MaxRouteLength, Path: path}
	buf, err := Pack(h, payload)
	if err != nil {
		return err
	}
	return n.conn.WriteTo(path[1], buf)
}

// pendingDiscovery is a broadcast-style future: every caller collapsed
// against the same destination waits on it, and its completion wakes every
// one of them, however many there turn out to be (ordinary semaphore P/V
// pairs one-to-one V-per-P and can't express that, so this is a small
// dedicated primitive built from the same taslock+queue idiom).
type pendingDiscovery struct {
	id uint32

	lock    taslock.Lock
	done    bool
	path    []netaddr.Address
	err     error
	waiters *waiterQueue

	alarmID alarm.ID
}

func newPendingDiscovery(id uint32) *pendingDiscovery {
	return &pendingDiscovery{id: id, waiters: newWaiterQueue()}
}

func (p *pendingDiscovery) wait() ([]netaddr.Address, error) {
	p.lock.Acquire()
	if p.done {
		path, err := p.path, p.err
		p.lock.Clear()
		return path, err
	}
	self := minithread.Self()
	p.waiters.append(self)
	minithread.UnlockAndStop(&p.lock)
	// Woken by complete(): re-read under the lock for a consistent view.
	p.lock.Acquire()
	path, err := p.path, p.err
	p.lock.Clear()
	return path, err
}

func (p *pendingDiscovery) complete(path []netaddr.Address, err error) {
	p.lock.Acquire()
	if p.done {
		p.lock.Clear()
		return
	}
	p.done = true
	p.path = path
	p.err = err
	woken := p.waiters.drain()
	p.lock.Clear()
	for _, w := range woken {
		minithread.Start(w)
	}
}

// resolve runs (or joins) discovery for dest and blocks until it completes.
func (n *Network) resolve(dest netaddr.Address) ([]netaddr.Address, error) {
	v, err, _ := n.sf.Do(dest.String(), func() (any, error) {
		return n.startOrJoinDiscovery(dest)
	})
	if err != nil {
		return nil, err
	}
	return v.(*pendingDiscovery).wait()
}

// startOrJoinDiscovery does only the fast, non-blocking part of discovery
// (check for an in-flight one, else register one and broadcast) so that
// singleflight's internal per-key serialisation never itself blocks a
// cooperative kernel thread for the full discovery timeout.
func (n *Network) startOrJoinDiscovery(dest netaddr.Address) (*pendingDiscovery, error) {
	n.pendMu.Lock()
	if pd, ok := n.pending[dest]; ok {
		n.pendMu.Unlock()
		return pd, nil
	}
	id := n.nextID.Add(1)
	pd := newPendingDiscovery(id)
	n.pending[dest] = pd
	n.pendMu.Unlock()

	pd.alarmID = alarm.Register(discoveryTimeout, func() {
		n.pendMu.Lock()
		delete(n.pending, dest)
		n.pendMu.Unlock()
		pd.complete(nil, ErrDiscoveryTimeout)
	})

	h := Header{Type: Discovery, Dest: dest, ID: id, TTL: MaxRouteLength, Path: []netaddr.Address{n.self}}
	buf, err := Pack(h, nil)
	if err != nil {
		pd.complete(nil, err)
		return pd, nil
	}
	n.broadcast(buf)
	return pd, nil
}

// broadcast sends buf to every peer registered with AddPeer, and nothing
// else (cached routes are not consulted): this node has no link-layer broadcast
// primitive over UDP, so discovery relies on at least one neighbour address
// having been supplied out of band (AddPeer) to bootstrap the mesh.
func (n *Network) broadcast(buf []byte) {
	for _, peer := range n.peersSnapshot() {
		if err := n.conn.WriteTo(peer, buf); err != nil {
			log.Warn("broadcast write failed", "peer", peer, "err", err)
		}
	}
}

// AddPeer registers addr as a neighbour this node can reach directly over
// UDP. There is no link-layer broadcast over plain UDP, so discovery
// broadcasts are sent to every known peer instead; a real deployment seeds
// this from static configuration or a rendezvous service (out of scope,
// per spec's external-collaborators list).
func (n *Network) AddPeer(addr netaddr.Address) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	n.peers[addr] = struct{}{}
}

func (n *Network) peersSnapshot() []netaddr.Address {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	out := make([]netaddr.Address, 0, len(n.peers))
	for p := range n.peers {
		out = append(out, p)
	}
	return out
}
