// Package alarm implements the tick-driven alarm queue described in
// spec §4.4: register/deregister by id, fire-on-clock-tick, sorted by
// absolute fire tick.
//
// The original source keeps a sorted doubly linked list. Following the
// re-architecture guidance (arena + stable indices rather than raw
// pointers) and grounded on go-eventloop's own timerHeap (loop.go), this is
// backed by container/heap instead: the same tick-ordering contract with
// O(log n) insert/remove and no hand-rolled pointer chasing.
package alarm

import (
	"container/heap"
	"sync"
	"time"

	"github.com/joeycumines/minikernel/klog"
	"github.com/joeycumines/minikernel/minithread"
)

var log = klog.Default().With("alarm")

// SetLogger overrides the subsystem logger used by alarm.
func SetLogger(l klog.Logger) { log = l.With("alarm") }

// TickPeriod is the wall-clock duration of one scheduler tick; it is the
// conversion factor register_alarm uses to turn a millisecond delay into an
// absolute tick count. It is configured once by the intr package's clock
// driver at startup.
var TickPeriod = 10 * time.Millisecond

// ID identifies a registered alarm for Deregister.
type ID uint64

type entry struct {
	id       ID
	fireTick uint64
	seq      uint64 // insertion order, breaks fireTick ties deterministically
	fn       func()
	index    int // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].fireTick != h[j].fireTick {
		return h[i].fireTick < h[j].fireTick
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

var (
	mu      sync.Mutex
	pq      entryHeap
	byID    = map[ID]*entry{}
	nextID  ID
	nextSeq uint64
)

// Register computes ticks + ceil(delay / TickPeriod) (never firing on the
// current tick; if the computed fire tick equals the current tick, it is
// advanced by one) and schedules fn to run on the next clock tick at or
// after that point. fn runs on the clock-interrupt context and must be
// non-blocking; the canonical callback is a semaphore's V method.
func Register(delay time.Duration, fn func()) ID {
	mu.Lock()
	defer mu.Unlock()

	now := minithread.Ticks()
	delta := ceilDiv(delay, TickPeriod)
	fire := now + delta
	if fire <= now {
		fire = now + 1
	}

	nextID++
	id := nextID
	nextSeq++
	e := &entry{id: id, fireTick: fire, seq: nextSeq, fn: fn}
	byID[id] = e
	heap.Push(&pq, e)
	return id
}

func ceilDiv(d, period time.Duration) uint64 {
	if period <= 0 {
		period = time.Millisecond
	}
	if d <= 0 {
		return 1
	}
	n := int64(d) / int64(period)
	if int64(d)%int64(period) != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return uint64(n)
}

// Deregister removes the alarm identified by id. It is a no-op (not an
// error) if id is unknown or has already fired.
func Deregister(id ID) {
	mu.Lock()
	defer mu.Unlock()
	e, ok := byID[id]
	if !ok {
		return
	}
	delete(byID, id)
	if e.index >= 0 && e.index < len(pq) {
		heap.Remove(&pq, e.index)
	}
}

// Service fires every alarm whose fire tick is <= ticks, in fire-tick
// order. It is called once per simulated clock tick by the intr package.
func Service(ticks uint64) {
	for {
		mu.Lock()
		if len(pq) == 0 || pq[0].fireTick > ticks {
			mu.Unlock()
			return
		}
		e := heap.Pop(&pq).(*entry)
		delete(byID, e.id)
		mu.Unlock()

		log.Debug("alarm fired", "id", e.id, "tick", ticks)
		e.fn()
	}
}

// Pending returns the number of alarms still outstanding; useful for tests.
func Pending() int {
	mu.Lock()
	defer mu.Unlock()
	return len(pq)
}
