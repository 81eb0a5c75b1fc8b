// Package semaphore implements counting semaphores over a test-and-set
// lock, integrated with the minithread scheduler (spec §4.3).
package semaphore

import (
	"time"

	"github.com/joeycumines/minikernel/alarm"
	"github.com/joeycumines/minikernel/klog"
	"github.com/joeycumines/minikernel/metrics"
	"github.com/joeycumines/minikernel/minithread"
	"github.com/joeycumines/minikernel/queue"
	"github.com/joeycumines/minikernel/taslock"
)

var log = klog.Default().With("semaphore")

// SetLogger overrides the subsystem logger used by semaphore.
func SetLogger(l klog.Logger) { log = l.With("semaphore") }

// Semaphore is a counting semaphore. The invariant from spec §3 holds:
// when count < 0, |count| equals the number of threads in waiters.
type Semaphore struct {
	lock    taslock.Lock
	count   int
	waiters *queue.Queue[*minithread.Thread]
}

// New returns a semaphore initialised to count.
func New(count int) *Semaphore {
	return &Semaphore{count: count, waiters: queue.New[*minithread.Thread]()}
}

// P decrements the semaphore, blocking the caller if the result is
// negative. It never returns until it has observed the decrement and
// either proceeded (count >= 0 after decrement) or been released by a
// matching V, in FIFO order relative to other waiters.
func (s *Semaphore) P() {
	s.lock.Acquire()
	s.count--
	if s.count < 0 {
		self := minithread.Self()
		s.waiters.Append(self)
		metrics.Semaphores.Blocks.Inc()
		metrics.Semaphores.WaitQueueDepth.Add(1)
		// UnlockAndStop clears s.lock and blocks atomically with respect to
		// this thread's placement on the wait queue: no V can observe the
		// queue non-empty without the lock, so no wakeup can be lost
		// between the append above and the block below.
		minithread.UnlockAndStop(&s.lock)
		return
	}
	s.lock.Clear()
}

// V increments the semaphore, waking the longest-waiting blocked thread (if
// any) in FIFO order.
func (s *Semaphore) V() {
	s.lock.Acquire()
	s.count++
	if s.count <= 0 {
		waiter, ok := s.waiters.PopFront()
		if !ok {
			// Should not happen given the semaphore invariant, but guard
			// against it rather than starting a thread that doesn't exist.
			s.lock.Clear()
			return
		}
		metrics.Semaphores.WaitQueueDepth.Add(-1)
		s.lock.Clear()
		minithread.Start(waiter)
		return
	}
	s.lock.Clear()
}

// Count returns the current count for diagnostics/tests. It is not part of
// the kernel-facing API.
func (s *Semaphore) Count() int {
	s.lock.Acquire()
	c := s.count
	s.lock.Clear()
	return c
}

// SleepWithTimeout blocks the calling thread for at least d, returning no
// earlier than d (within one quantum, per testable property 4), without
// blocking any other thread. Each call allocates a private rendezvous
// semaphore; since a thread can only be asleep once at a time, this is
// observably identical to the TCB owning a single permanent "personal
// sleep rendezvous" semaphore (spec §3), while avoiding an import cycle
// between minithread and semaphore (see DESIGN.md).
func SleepWithTimeout(d time.Duration) {
	rendezvous := New(0)
	id := alarm.Register(d, func() { rendezvous.V() })
	rendezvous.P()
	alarm.Deregister(id) // no-op if it already fired
}
