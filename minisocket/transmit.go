package minisocket

import (
	"time"

	"github.com/joeycumines/minikernel/alarm"
	"github.com/joeycumines/minikernel/metrics"
)

// RetryDelays is the exponential-backoff schedule from spec §4.7: "delays
// 100, 200, 400, 800, 1600, 3200, 6400 ms (7 tries)". It is a var rather
// than a const so tests can shrink it instead of waiting out the full
// real-time schedule.
var RetryDelays = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
	3200 * time.Millisecond,
	6400 * time.Millisecond,
}

func (s *Socket) synHeader() Header {
	return Header{SrcAddr: s.mgr.net.Self(), SrcPort: s.localPort, DstAddr: s.remoteAddr, DstPort: s.remotePort, Type: Syn, Seq: s.seq}
}

func (s *Socket) synAckHeader() Header {
	return Header{SrcAddr: s.mgr.net.Self(), SrcPort: s.localPort, DstAddr: s.remoteAddr, DstPort: s.remotePort, Type: SynAck, Seq: s.seq, Ack: s.peerAck}
}

func (s *Socket) ackHeader() Header {
	return Header{SrcAddr: s.mgr.net.Self(), SrcPort: s.localPort, DstAddr: s.remoteAddr, DstPort: s.remotePort, Type: Ack, Seq: s.seq, Ack: s.peerAck}
}

func (s *Socket) dataHeader(seq uint32) Header {
	return Header{SrcAddr: s.mgr.net.Self(), SrcPort: s.localPort, DstAddr: s.remoteAddr, DstPort: s.remotePort, Type: Ack, Seq: seq, Ack: s.peerAck}
}

func (s *Socket) finHeader() Header {
	return Header{SrcAddr: s.mgr.net.Self(), SrcPort: s.localPort, DstAddr: s.remoteAddr, DstPort: s.remotePort, Type: Fin, Seq: s.seq, Ack: s.peerAck}
}

func (s *Socket) sendRaw(h Header, payload []byte) error {
	return s.mgr.net.Send(h.DstAddr, h.pack(payload))
}

// transmit sends h with payload, retrying with exponential backoff until an
// RX-side ack()/cancel() resolves the outstanding retryWaiter or all
// retries are exhausted (spec §4.7). The caller must hold sendMu so that
// concurrent transmits on the same socket never install conflicting
// pending waiters.
func (s *Socket) transmit(h Header, payload []byte) error {
	for attempt, delay := range RetryDelays {
		if attempt > 0 {
			metrics.Minisocket.Retransmits.Inc()
		}
		s.recordRetry(delay)
		w := newRetryWaiter()

		s.stateMu.Lock()
		s.pending = w
		s.stateMu.Unlock()

		w.alarmID = alarm.Register(delay, func() { w.timeout() })

		if err := s.sendRaw(h, payload); err != nil {
			alarm.Deregister(w.alarmID)
			s.clearPending(w)
			return err
		}

		status := w.wait()
		s.clearPending(w)

		switch status {
		case retryAcked:
			return nil
		case retryCanceled:
			if w.cancelErr != nil {
				return w.cancelErr
			}
			return ErrClosed
		}
		// retryTimedOut: loop to the next backoff step.
	}
	return ErrSendError
}

func (s *Socket) clearPending(w *retryWaiter) {
	s.stateMu.Lock()
	if s.pending == w {
		s.pending = nil
	}
	s.stateMu.Unlock()
}
