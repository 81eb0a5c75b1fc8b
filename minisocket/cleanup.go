package minisocket

import (
	"sync"
	"time"

	"github.com/joeycumines/minikernel/alarm"
	"github.com/joeycumines/minikernel/queue"
	"github.com/joeycumines/minikernel/semaphore"
)

// cleanupQueue is spec §4.7's teardown cleanup queue: sockets land here
// either immediately (close(), once its FIN has been sent) or after
// FinTimeout (a peer-initiated TIMEWAIT), and a single dedicated kernel
// thread (Manager.New forks it via cleanup.run) retires them one at a time.
type cleanupQueue struct {
	mu    sync.Mutex
	items *queue.Queue[*Socket]
	sem   *semaphore.Semaphore
}

func newCleanupQueue() *cleanupQueue {
	return &cleanupQueue{items: queue.New[*Socket](), sem: semaphore.New(0)}
}

func (c *cleanupQueue) enqueue(s *Socket) {
	c.mu.Lock()
	c.items.Append(s)
	c.mu.Unlock()
	c.sem.V()
}

// enqueueAfter arms an alarm that enqueues s once d has elapsed, for
// TIMEWAIT's linger period.
func (c *cleanupQueue) enqueueAfter(s *Socket, d time.Duration) {
	alarm.Register(d, func() { c.enqueue(s) })
}

// run drains the queue forever, handing each socket to finish. It is meant
// to be the body of a dedicated minithread (Manager.New forks it), and only
// ever blocks via sem.P(), never a raw Go primitive.
func (c *cleanupQueue) run(finish func(*Socket)) {
	for {
		c.sem.P()
		c.mu.Lock()
		sock, ok := c.items.PopFront()
		c.mu.Unlock()
		if !ok {
			continue
		}
		finish(sock)
	}
}
