package miniroute

import (
	"github.com/joeycumines/minikernel/minithread"
	"github.com/joeycumines/minikernel/queue"
)

// waiterQueue is a thin wrapper over queue.Queue for the one thing
// pendingDiscovery needs: append a thread, then later drain all of them at
// once (a broadcast wake, unlike a semaphore's one-at-a-time FIFO release).
type waiterQueue struct {
	q *queue.Queue[*minithread.Thread]
}

func newWaiterQueue() *waiterQueue {
	return &waiterQueue{q: queue.New[*minithread.Thread]()}
}

func (w *waiterQueue) append(t *minithread.Thread) { w.q.Append(t) }

func (w *waiterQueue) drain() []*minithread.Thread { return w.q.Drain() }
