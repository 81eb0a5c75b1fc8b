package minisocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/minikernel/alarm"
	"github.com/joeycumines/minikernel/netaddr"
	"github.com/joeycumines/minikernel/queue"
	"github.com/joeycumines/minikernel/ringbuf"
	"github.com/joeycumines/minikernel/semaphore"
)

// retryHistoryCapacity bounds how many past backoff delays a socket
// remembers (spec §4.7 retries up to 7 times; rounded up to a power of 2
// for ringbuf.Ring).
const retryHistoryCapacity = 8

// State is a minisocket's position in the spec §4.7 state table.
type State int32

const (
	Closed State = iota
	Listen
	SynSent
	SynReceived
	Established
	LastAck
	TimeWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Listen:
		return "LISTEN"
	case SynSent:
		return "SYNSENT"
	case SynReceived:
		return "SYNRECEIVED"
	case Established:
		return "ESTABLISHED"
	case LastAck:
		return "LASTACK"
	case TimeWait:
		return "TIMEWAIT"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrClosed     = errors.New("minisocket: socket is closed")
	ErrNoServer   = errors.New("minisocket: no server listening at that port")
	ErrBusy       = errors.New("minisocket: server already connected to another client")
	ErrSendError  = errors.New("minisocket: send failed after exhausting retries")
	ErrPortInUse  = errors.New("minisocket: port already in use")
	ErrOutOfPorts = errors.New("minisocket: no client ports available")
)

// retryStatus is the "alarm status" from spec §4.7's retransmission
// paragraph: a per-attempt outcome distinguishing a real acknowledgement
// from a timer wakeup or an externally cancelled wait (e.g. close()).
type retryStatus int32

const (
	retryPending retryStatus = iota
	retryAcked
	retryTimedOut
	retryCanceled
)

// retryWaiter bridges a single retransmission attempt's alarm and its
// matching acknowledgement: whichever happens first flips status exactly
// once and wakes the transmitting thread, mirroring spec §4.7 verbatim
// ("Each attempt arms an alarm that Vs a per-socket retry semaphore; if the
// corresponding ACK arrives first, the alarm is cancelled and success is
// signalled through a per-socket alarm status").
type retryWaiter struct {
	sem       *semaphore.Semaphore
	status    atomic.Int32
	alarmID   alarm.ID
	cancelErr error // set before the status CAS's paired sem.V(), so safe to read after wait() returns
}

func newRetryWaiter() *retryWaiter {
	return &retryWaiter{sem: semaphore.New(0)}
}

func (w *retryWaiter) ack() bool {
	if w.status.CompareAndSwap(int32(retryPending), int32(retryAcked)) {
		alarm.Deregister(w.alarmID)
		w.sem.V()
		return true
	}
	return false
}

// cancel resolves a pending retry as failed with err, used when a reply
// other than the expected ACK (e.g. a synthetic FIN) arrives instead.
func (w *retryWaiter) cancel(err error) {
	if w.status.CompareAndSwap(int32(retryPending), int32(retryCanceled)) {
		w.cancelErr = err
		alarm.Deregister(w.alarmID)
		w.sem.V()
	}
}

func (w *retryWaiter) timeout() {
	if w.status.CompareAndSwap(int32(retryPending), int32(retryTimedOut)) {
		w.sem.V()
	}
}

func (w *retryWaiter) wait() retryStatus {
	w.sem.P()
	return retryStatus(w.status.Load())
}

// Socket is a single reliable connection endpoint (the original's
// minisocket_private.h's struct minisocket, generalised to the full state
// table spec.md describes instead of the source's unfinished skeleton).
type Socket struct {
	mgr        *Manager
	localPort  uint16
	remoteAddr netaddr.Address
	remotePort uint16

	stateMu sync.Mutex
	state   State
	pending *retryWaiter // the in-flight handshake/FIN retry waiter, if any

	sendMu sync.Mutex
	seq    uint32
	peerAck uint32

	dataMu         sync.Mutex
	dataQueue      *queue.Queue[[]byte]
	pendingChunk   []byte
	receiveSem     *semaphore.Semaphore
	receiveWaiters int
	closeErr       error

	// handshakeSem is V'd once per inbound SYN while state == Listen,
	// waking ServerCreate's accept loop; it has no role once ESTABLISHED.
	handshakeSem *semaphore.Semaphore

	// history records the backoff delay used by each retransmission
	// attempt, oldest first, for diagnostics (spec §4.7's retransmission
	// schedule).
	historyMu sync.Mutex
	history   *ringbuf.Ring[time.Duration]

	closeOnce sync.Once
}

func newSocket(mgr *Manager, localPort uint16) *Socket {
	return &Socket{
		mgr:          mgr,
		localPort:    localPort,
		dataQueue:    queue.New[[]byte](),
		receiveSem:   semaphore.New(0),
		handshakeSem: semaphore.New(0),
		history:      ringbuf.New[time.Duration](retryHistoryCapacity),
	}
}

// RetryHistory returns the backoff delays used by this socket's most recent
// retransmission attempts, oldest first.
func (s *Socket) RetryHistory() []time.Duration {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return s.history.Slice()
}

func (s *Socket) recordRetry(delay time.Duration) {
	s.historyMu.Lock()
	s.history.Push(delay)
	s.historyMu.Unlock()
}

// State returns the socket's current state, for diagnostics and tests.
func (s *Socket) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Socket) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}
