package miniroute

import (
	"github.com/joeycumines/minikernel/alarm"
	"github.com/joeycumines/minikernel/minithread"
	"github.com/joeycumines/minikernel/netaddr"
)

// onPacket is the hostnet.Handler registered against the UDP bridge: it
// runs on the bridge's reader goroutine (outside the cooperative scheduler,
// exactly like the source's interrupt-context handlers) and must stay
// fast and non-blocking. All it does is parse the route header and
// dispatch to the three cases in spec §4.8; nothing here calls
// semaphore.P, so it never needs to run as a minithread.
func (n *Network) onPacket(src netaddr.Address, payload []byte) {
	h, body, err := Unpack(payload)
	if err != nil {
		log.Warn("dropping unparsable packet", "src", src, "err", err)
		return
	}
	switch h.Type {
	case Data, Reply:
		if h.Dest.Equal(n.self) {
			if h.Type == Reply {
				n.handleReply(h)
				return
			}
			n.dispatch(h.Path, body)
			return
		}
		n.forward(h, body)
	case Discovery:
		if h.Dest.Equal(n.self) {
			n.completeDiscovery(h)
			return
		}
		n.forwardDiscovery(h, body)
	}
}

// dispatch hands a DATA payload to the upper-layer handler registered for
// its embedded protocol byte (spec §6: every minimsg/minisocket header
// starts with a 1-byte protocol field).
func (n *Network) dispatch(path []netaddr.Address, payload []byte) {
	if len(payload) == 0 {
		return
	}
	proto := payload[0]
	n.handlersMu.RLock()
	h, ok := n.handlers[proto]
	n.handlersMu.RUnlock()
	if !ok {
		log.Warn("no handler registered for protocol", "proto", proto)
		return
	}
	h(path, payload)
}

// forward relays a DATA or REPLY packet one hop further along its path
// (spec §4.8 "Forwarding"): find self in the path, decrement TTL, forward
// to the next hop; drop on TTL=0 or self-not-in-path.
func (n *Network) forward(h Header, body []byte) {
	if h.TTL == 0 {
		return
	}
	idx := indexOf(h.Path, n.self)
	if idx < 0 || idx+1 >= len(h.Path) {
		return
	}
	h.TTL--
	buf, err := Pack(h, body)
	if err != nil {
		log.Warn("forward pack failed", "err", err)
		return
	}
	if err := n.conn.WriteTo(h.Path[idx+1], buf); err != nil {
		log.Warn("forward write failed", "err", err)
	}
}

// forwardDiscovery implements spec §4.8 "Discovery handling": drop
// already-seen (origin, id) pairs, else extend the path by self and
// re-broadcast.
func (n *Network) forwardDiscovery(h Header, body []byte) {
	if h.TTL == 0 || len(h.Path) == 0 {
		return
	}
	origin := h.Path[0]
	now := minithread.Ticks()
	if n.history.seen(origin, h.ID, now) {
		return
	}
	h.TTL--
	h.Path = append(append([]netaddr.Address(nil), h.Path...), n.self)
	buf, err := Pack(h, body)
	if err != nil {
		log.Warn("discovery forward pack failed", "err", err)
		return
	}
	n.broadcast(buf)
}

// completeDiscovery implements spec §4.8 "Discovery completion": this node
// is the destination. Reverse the path, cache it, and reply along the
// reverse path.
func (n *Network) completeDiscovery(h Header) {
	path := append(append([]netaddr.Address(nil), h.Path...), n.self)
	reversed := reversePath(path)
	n.routes.put(h.Path[0], reversed, minithread.Ticks())

	reply := Header{Type: Reply, Dest: h.Path[0], ID: h.ID, TTL: MaxRouteLength, Path: reversed}
	buf, err := Pack(reply, nil)
	if err != nil {
		log.Warn("reply pack failed", "err", err)
		return
	}
	if len(reversed) < 2 {
		return
	}
	if err := n.conn.WriteTo(reversed[1], buf); err != nil {
		log.Warn("reply write failed", "err", err)
	}
}

// handleReply implements spec §4.8 "Reply handling": reverse the received
// path, install it, cancel the discovery alarm, and wake the waiting
// sender(s).
func (n *Network) handleReply(h Header) {
	reversed := reversePath(h.Path)
	if len(reversed) == 0 {
		return
	}
	dest := reversed[len(reversed)-1]
	n.routes.put(dest, reversed, minithread.Ticks())

	n.pendMu.Lock()
	pd, ok := n.pending[dest]
	if ok {
		delete(n.pending, dest)
	}
	n.pendMu.Unlock()
	if !ok {
		return
	}
	alarm.Deregister(pd.alarmID)
	pd.complete(reversed, nil)
}

func indexOf(path []netaddr.Address, addr netaddr.Address) int {
	for i, a := range path {
		if a.Equal(addr) {
			return i
		}
	}
	return -1
}

func reversePath(path []netaddr.Address) []netaddr.Address {
	out := make([]netaddr.Address, len(path))
	for i, a := range path {
		out[len(path)-1-i] = a
	}
	return out
}
