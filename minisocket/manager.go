package minisocket

import (
	"errors"
	"sync"

	"github.com/joeycumines/minikernel/intr"
	"github.com/joeycumines/minikernel/klog"
	"github.com/joeycumines/minikernel/miniroute"
	"github.com/joeycumines/minikernel/minithread"
	"github.com/joeycumines/minikernel/netaddr"
)

var log = klog.Default().With("minisocket")

// SetLogger overrides the subsystem logger used by minisocket.
func SetLogger(l klog.Logger) { log = l.With("minisocket") }

const (
	minPort = 0
	maxPort = 65535
)

// Manager owns every Socket multiplexed over a single miniroute.Network,
// mirroring the original's port_array_mutex-protected minisocket[] table
// (minisocket_private.h), generalised to the full client/server lifecycle.
type Manager struct {
	net *miniroute.Network

	mu       sync.Mutex
	sockets  map[uint16]*Socket
	nextPort uint16

	cleanup *cleanupQueue
	ctrl    *intr.Controller
}

// New creates a Manager wired to net's DATA dispatch for Protocol, and
// starts its cleanup control thread (spec §4.7's teardown cleanup thread).
func New(net *miniroute.Network) *Manager {
	m := &Manager{
		net:      net,
		sockets:  make(map[uint16]*Socket),
		nextPort: 32768,
		cleanup:  newCleanupQueue(),
		ctrl:     intr.NewController(64),
	}
	net.RegisterProtocol(Protocol, m.onPacket)
	minithread.Fork(func(any) { m.ctrl.Run() }, nil)
	minithread.Fork(func(any) { m.cleanup.run(m.finishClose) }, nil)
	return m
}

// Self returns the network address sockets created by this manager will
// carry as their local address.
func (m *Manager) Self() netaddr.Address { return m.net.Self() }

// ServerCreate listens on port, blocking the calling kernel thread until a
// client completes the handshake, re-entering LISTEN on every exhausted
// SYNACK retry (spec §4.7's LISTEN/SYNRECEIVED re-listen loop).
func (m *Manager) ServerCreate(port uint16) (*Socket, error) {
	m.mu.Lock()
	if _, exists := m.sockets[port]; exists {
		m.mu.Unlock()
		return nil, ErrPortInUse
	}
	sock := newSocket(m, port)
	sock.setState(Listen)
	m.sockets[port] = sock
	m.mu.Unlock()

	for {
		sock.handshakeSem.P()

		sock.sendMu.Lock()
		sock.seq = 1
		h := sock.synAckHeader()
		err := sock.transmit(h, nil)
		sock.sendMu.Unlock()

		if err != nil {
			sock.setState(Listen)
			continue
		}
		sock.setState(Established)
		return sock, nil
	}
}

// ClientCreate connects to (addr, port), blocking until the handshake
// completes or all SYN retries are exhausted (spec §4.7's SYNSENT row).
func (m *Manager) ClientCreate(addr netaddr.Address, port uint16) (*Socket, error) {
	local, err := m.allocatePort()
	if err != nil {
		return nil, err
	}

	sock := newSocket(m, local)
	sock.remoteAddr = addr
	sock.remotePort = port
	sock.setState(SynSent)

	m.mu.Lock()
	m.sockets[local] = sock
	m.mu.Unlock()

	sock.sendMu.Lock()
	sock.seq = 1
	h := sock.synHeader()
	err = sock.transmit(h, nil)
	sock.sendMu.Unlock()

	if err != nil {
		m.mu.Lock()
		delete(m.sockets, local)
		m.mu.Unlock()
		sock.setState(Closed)
		// A synthetic FIN carries which of the two reasons applies (spec
		// §4.7: "SYNSENT | FIN / no reply | surface NOSERVER/BUSY"); an
		// exhausted retry schedule with no reply at all is treated as
		// NOSERVER, since nothing ever answered.
		if errors.Is(err, ErrBusy) {
			return nil, ErrBusy
		}
		return nil, ErrNoServer
	}

	sock.setState(Established)
	return sock, nil
}

func (m *Manager) allocatePort() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.nextPort
	for {
		candidate := m.nextPort
		if candidate < 32768 {
			candidate = 32768
		}
		m.nextPort = candidate + 1
		if m.nextPort == 0 {
			m.nextPort = 32768
		}
		if _, taken := m.sockets[candidate]; !taken {
			return candidate, nil
		}
		if m.nextPort == start {
			return 0, ErrOutOfPorts
		}
	}
}

func (m *Manager) lookup(port uint16) (*Socket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sock, ok := m.sockets[port]
	return sock, ok
}

func (m *Manager) remove(port uint16) {
	m.mu.Lock()
	delete(m.sockets, port)
	m.mu.Unlock()
}

// finishClose is invoked by the cleanup control thread once a socket has
// drained its in-progress receives: it sets CLOSED and forgets the socket
// (spec §4.7: "A cleanup thread waits until no receive is in progress, sets
// CLOSED, and destroys the socket").
func (m *Manager) finishClose(sock *Socket) {
	sock.dataMu.Lock()
	for sock.receiveWaiters > 0 {
		sock.dataMu.Unlock()
		minithread.Yield()
		sock.dataMu.Lock()
	}
	sock.dataMu.Unlock()

	sock.setState(Closed)
	m.remove(sock.localPort)
}
