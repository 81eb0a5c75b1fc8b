package minisocket

// MaxChunkSize bounds a single transmitted segment, matching minimsg's
// MaxMsgSize ceiling (the same underlying miniroute DATA payload limit);
// Send segments larger payloads into chunks of at most this size.
const MaxChunkSize = 4096

// Send reliably transmits payload, blocking until every segment has been
// acknowledged or an error/timeout occurs (spec §4.7's Send paragraph). It
// holds sendMu for the whole call so messages from one socket are never
// interleaved with each other, and increments the sequence number exactly
// once per chunk.
func (s *Socket) Send(payload []byte) (int, error) {
	if s.State() != Established {
		return 0, ErrClosed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sent := 0
	for sent < len(payload) || (len(payload) == 0 && sent == 0) {
		end := sent + MaxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[sent:end]

		s.seq++
		h := s.dataHeader(s.seq)
		if err := s.transmit(h, chunk); err != nil {
			return sent, err
		}
		sent = end
		if len(payload) == 0 {
			break
		}
	}
	return sent, nil
}

// Receive blocks until at least one byte is available, then copies as much
// of the oldest buffered chunk as fits in buf (spec §4.7's Receive
// paragraph). A chunk only partially consumed by one call is retained
// (tracked via a read offset rather than the source's in-place buffer
// rewrite; see DESIGN.md) for the next.
func (s *Socket) Receive(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	s.dataMu.Lock()
	s.receiveWaiters++
	s.dataMu.Unlock()
	defer func() {
		s.dataMu.Lock()
		s.receiveWaiters--
		s.dataMu.Unlock()
	}()

	s.dataMu.Lock()
	if len(s.pendingChunk) == 0 {
		s.dataMu.Unlock()
		s.receiveSem.P()
		s.dataMu.Lock()
	}

	if len(s.pendingChunk) == 0 {
		chunk, ok := s.dataQueue.PopFront()
		if !ok {
			err := s.closeErr
			s.dataMu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return 0, err
		}
		s.pendingChunk = chunk
	}

	n := copy(buf, s.pendingChunk)
	s.pendingChunk = s.pendingChunk[n:]
	s.dataMu.Unlock()
	return n, nil
}

// Close tears the connection down (spec §4.7's Teardown paragraph): it
// wakes every blocked Receive with an error, transmits a FIN with retries,
// and hands the socket to the cleanup queue regardless of whether the FIN
// was ever acknowledged. Close never fails and is safe to call more than
// once.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		s.stateMu.Lock()
		if s.state != Established {
			s.state = Closed
			s.stateMu.Unlock()
			s.mgr.remove(s.localPort)
			return
		}
		s.state = LastAck
		s.stateMu.Unlock()

		s.failReceives(ErrClosed)

		s.sendMu.Lock()
		s.seq++
		h := s.finHeader()
		_ = s.transmit(h, nil)
		s.sendMu.Unlock()

		s.mgr.cleanup.enqueue(s)
	})
}
