package minisocket

import (
	"time"

	"github.com/joeycumines/minikernel/metrics"
	"github.com/joeycumines/minikernel/netaddr"
)

// FinTimeout is the TIME_WAIT linger duration before a socket that received
// a peer FIN is finally reclaimed (spec §4.7's MINISOCKET_FIN_TIMEOUT,
// unspecified in the distilled spec). It is shorter than the full default
// retransmission schedule (about 12.7s); a FIN that arrives for a port with
// no socket is dropped (onPacket answers only a SYN), so a late
// retransmitted FIN cannot reopen a reclaimed port. See DESIGN.md.
var FinTimeout = 2 * time.Second

func (m *Manager) onPacket(_ []netaddr.Address, payload []byte) {
	h, body, err := parseHeader(payload)
	if err != nil {
		log.Warn("dropping malformed reliable packet", "err", err)
		return
	}
	sock, ok := m.lookup(h.DstPort)
	if !ok {
		if h.Type == Syn {
			// No listener ever existed at this port: a synthetic FIN tells
			// the client to stop retrying instead of exhausting its full
			// backoff schedule. Posted to the control thread for the same
			// reason as sendPlainAck.
			reply := Header{SrcAddr: m.net.Self(), SrcPort: h.DstPort, DstAddr: h.SrcAddr, DstPort: h.SrcPort, Type: Fin, Ack: finReasonNoServer}
			m.ctrl.Post(func() { _ = m.net.Send(h.SrcAddr, reply.pack(nil)) })
		}
		return
	}
	sock.handlePacket(h, body)
}

func (s *Socket) handlePacket(h Header, body []byte) {
	s.stateMu.Lock()
	st := s.state

	switch st {
	case Listen:
		if h.Type != Syn {
			s.stateMu.Unlock()
			return
		}
		s.remoteAddr = h.SrcAddr
		s.remotePort = h.SrcPort
		s.peerAck = h.Seq
		s.state = SynReceived
		s.stateMu.Unlock()
		s.handshakeSem.V()

	case SynReceived:
		if h.Type != Ack || !s.fromPeerLocked(h) {
			s.stateMu.Unlock()
			return
		}
		w := s.pending
		s.stateMu.Unlock()
		if w != nil {
			w.ack()
		}

	case SynSent:
		if h.Type == SynAck && s.fromPeerLocked(h) {
			s.peerAck = h.Seq
			w := s.pending
			s.stateMu.Unlock()
			if w != nil {
				w.ack()
			}
			// "SYNSENT | SYNACK | send ACK | ESTABLISHED": complete the
			// three-way handshake. Best effort: a lost ACK is recovered
			// when the peer's own SYNACK retransmission arrives again.
			s.sendPlainAck(h.Seq)
			return
		}
		if h.Type == Fin {
			w := s.pending
			reason := h.Ack
			s.stateMu.Unlock()
			if w != nil {
				if reason == finReasonBusy {
					w.cancel(ErrBusy)
				} else {
					w.cancel(ErrNoServer)
				}
			}
			return
		}
		s.stateMu.Unlock()

	case Established:
		s.stateMu.Unlock()
		s.handleEstablished(h, body)

	case LastAck:
		if h.Type != Ack || !s.fromPeerLocked(h) {
			s.stateMu.Unlock()
			return
		}
		w := s.pending
		s.stateMu.Unlock()
		if w != nil {
			w.ack()
		}

	default:
		s.stateMu.Unlock()
	}
}

// fromPeerLocked reports whether h originates from this socket's connected
// peer. Callers must hold stateMu.
func (s *Socket) fromPeerLocked(h Header) bool {
	return h.SrcAddr.Equal(s.remoteAddr) && h.SrcPort == s.remotePort
}

func (s *Socket) handleEstablished(h Header, body []byte) {
	if !s.fromPeerLocked(h) {
		if h.Type == Syn {
			// "Server busy" for an unknown-source SYN in a non-LISTEN state
			// (spec §4.7, testable property 8): this socket is already
			// ESTABLISHED with someone else, so tell the new would-be
			// client to stop retrying rather than let it time out to
			// NOSERVER after its whole ~12.7s retry schedule.
			s.sendBusy(h)
		}
		return
	}

	switch h.Type {
	case Fin:
		s.handlePeerFin()

	case Ack:
		if len(body) == 0 {
			// A bare ACK: resolves our outstanding data/FIN retransmission.
			s.stateMu.Lock()
			w := s.pending
			s.stateMu.Unlock()
			if w != nil {
				w.ack()
			}
			return
		}

		s.stateMu.Lock()
		inOrder := h.Seq == s.peerAck+1
		if inOrder {
			s.peerAck = h.Seq
		}
		ackNum := s.peerAck
		s.stateMu.Unlock()

		if inOrder {
			cp := make([]byte, len(body))
			copy(cp, body)
			s.dataMu.Lock()
			s.dataQueue.Append(cp)
			s.dataMu.Unlock()
			s.receiveSem.V()
		}
		// Acknowledge either way: in-order data gets a fresh ack, and
		// reordered/duplicate data is acked so the peer stops retrying it
		// (spec §4.7: "Duplicate/out-of-order packets are acknowledged ...
		// but discarded").
		s.sendPlainAck(ackNum)
	}
}

// sendPlainAck fires off an unretried acknowledgement. It is called from
// packet-handling context (the hostnet reader goroutine, not a minithread),
// so the actual network write is posted to the manager's control thread
// rather than issued inline: miniroute.Network.Send can itself block a
// minithread cooperatively if a route still needs discovery, and that block
// must be attributed to a real kernel thread, never to a raw reader
// goroutine masquerading as "whichever thread happens to be current" (see
// DESIGN.md).
func (s *Socket) sendPlainAck(ackNum uint32) {
	s.stateMu.Lock()
	h := Header{SrcAddr: s.mgr.net.Self(), SrcPort: s.localPort, DstAddr: s.remoteAddr, DstPort: s.remotePort, Type: Ack, Seq: s.seq, Ack: ackNum}
	s.stateMu.Unlock()
	s.mgr.ctrl.Post(func() {
		if err := s.sendRaw(h, nil); err != nil {
			log.Warn("failed to send ack", "err", err)
		}
	})
}

// sendBusy replies to a SYN from someone other than our connected peer with
// a synthetic FIN carrying the busy marker, addressed back to the SYN's
// sender rather than to our own remote peer. Posted to the control thread
// for the same reason as sendPlainAck.
func (s *Socket) sendBusy(h Header) {
	metrics.Minisocket.BusyReplies.Inc()
	reply := Header{SrcAddr: s.mgr.net.Self(), SrcPort: h.DstPort, DstAddr: h.SrcAddr, DstPort: h.SrcPort, Type: Fin, Ack: finReasonBusy}
	s.mgr.ctrl.Post(func() {
		if err := s.mgr.net.Send(h.SrcAddr, reply.pack(nil)); err != nil {
			log.Warn("failed to send busy reply", "err", err)
		}
	})
}

// handlePeerFin implements spec §4.7's "ESTABLISHED | FIN from peer | ack,
// linger | TIMEWAIT" row: acknowledge, wake pending receives with an error,
// and enqueue for cleanup after FinTimeout.
func (s *Socket) handlePeerFin() {
	s.stateMu.Lock()
	if s.state != Established {
		s.stateMu.Unlock()
		return
	}
	s.state = TimeWait
	ackNum := s.peerAck
	s.stateMu.Unlock()

	s.sendPlainAck(ackNum)
	s.failReceives(ErrClosed)
	s.mgr.cleanup.enqueueAfter(s, FinTimeout)
}

// failReceives wakes every thread currently blocked in Receive with err, per
// spec §4.7's "wakes all receive waiters with an error" teardown step.
func (s *Socket) failReceives(err error) {
	s.dataMu.Lock()
	s.closeErr = err
	waiters := s.receiveWaiters
	s.dataMu.Unlock()
	for i := 0; i < waiters; i++ {
		s.receiveSem.V()
	}
}
