// Package intr models the interrupt layer from spec §4.5: a process-wide
// interrupt level that gates whether asynchronous sources (clock, network,
// disk, keyboard) may run their handlers, plus the clock driver that ticks
// the scheduler and services the alarm queue.
//
// The original source preempts a running thread from inside a real signal
// handler by hand-building a synthetic stack frame. That mechanism has no
// safe equivalent against an arbitrary running goroutine, so per the
// re-architecture guidance this package keeps the behavioural contract
// (handlers deferred while disabled; quantum-driven demotion) without the
// signal trampoline: the clock driver runs on its own goroutine and the
// "preemption" it performs is limited to what the cooperative scheduler
// already does lazily at the next Yield (see minithread/scheduler.go). The
// clock driver is the only source that consults the interrupt level: it
// skips a tick while the level is Disabled. Disk, network and keyboard
// events are delivered whatever the level.
package intr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/minikernel/alarm"
	"github.com/joeycumines/minikernel/klog"
	"github.com/joeycumines/minikernel/minithread"
	"github.com/joeycumines/minikernel/semaphore"
	"github.com/joeycumines/minikernel/taslock"
)

var log = klog.Default().With("intr")

// SetLogger overrides the subsystem logger used by intr.
func SetLogger(l klog.Logger) { log = l.With("intr") }

// Level is the process-wide interrupt mask.
type Level int32

const (
	Enabled Level = iota
	Disabled
)

func (l Level) String() string {
	if l == Disabled {
		return "DISABLED"
	}
	return "ENABLED"
}

var level atomic.Int32

// SetLevel installs level as the new process-wide interrupt mask and returns
// the previous one, mirroring the original kernel's set_interrupt_level.
func SetLevel(l Level) Level {
	old := Level(level.Swap(int32(l)))
	return old
}

// GetLevel returns the current interrupt mask without changing it.
func GetLevel() Level { return Level(level.Load()) }

// Disable masks interrupts and returns the previous level, for the common
// "disable, mutate, restore" pattern used around wait-queue mutations.
func Disable() Level { return SetLevel(Disabled) }

// Enable unmasks interrupts.
func Enable() { SetLevel(Enabled) }

// Restore resets the interrupt mask to a level previously returned by
// Disable or SetLevel.
func Restore(l Level) { SetLevel(l) }

// Clock drives the simulated clock interrupt: once per TickPeriod it
// advances the scheduler's tick counter and services due alarms, both
// skipped for that tick while the interrupt level is Disabled (spec
// §4.5: "the clock handler increments ticks, fires expired alarms, and, if
// the quantum has expired, yields" — the yield itself happens lazily, the
// next time the running thread reaches a scheduling point).
type Clock struct {
	period time.Duration

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	running bool
}

// NewClock returns a Clock that ticks every period. period also becomes
// alarm.TickPeriod, the conversion factor register_alarm uses to turn
// millisecond delays into tick counts.
func NewClock(period time.Duration) *Clock {
	alarm.TickPeriod = period
	return &Clock{period: period}
}

// Start begins the clock driver goroutine. Calling Start twice without an
// intervening Stop is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.ticker = time.NewTicker(c.period)
	c.done = make(chan struct{})
	c.running = true
	go c.loop(c.ticker, c.done)
}

func (c *Clock) loop(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			ticker.Stop()
			return
		case <-ticker.C:
			if GetLevel() == Disabled {
				// Deferred, per spec §4.5 step 1: the handler does nothing
				// this tick and the interrupt is effectively dropped, same
				// as the source's behaviour for a non-preemptible region.
				continue
			}
			t := minithread.Tick()
			alarm.Service(t)
		}
	}
}

// Stop halts the clock driver goroutine. It is safe to call Stop more than
// once or on a Clock that was never started.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.done)
	c.running = false
}

// Controller is the "long-running kernel thread that performs heavy
// processing outside interrupt context" from spec §4.5: network, disk, and
// keyboard handlers post work here from whatever goroutine detected the
// event, and a dedicated minithread drains it sequentially. This keeps
// interrupt-context code (the thing that must stay fast and non-blocking)
// separate from the kernel logic that may block on semaphores.
//
// Run is meant to be driven by a minithread (minithread.Fork(func(any) {
// controller.Run() }, nil)), so the drain loop must never block on a raw Go
// channel receive: a goroutine holding the scheduler's baton that blocks
// outside minithread's own primitives freezes every other thread forever.
// Posted work is therefore queued behind a taslock and released through a
// semaphore, exactly like every other kernel wait queue, instead of ranging
// over a channel.
type Controller struct {
	lock   taslock.Lock
	items  []func()
	ready  *semaphore.Semaphore
	closed bool
}

// NewController creates a Controller. buffer is accepted for API
// compatibility with a bounded-channel design but is not a hard limit: the
// backing queue grows as needed, matching the other kernel queues.
func NewController(buffer int) *Controller {
	_ = buffer
	return &Controller{ready: semaphore.New(0)}
}

// Post enqueues fn to run on the controller's kernel thread. It is safe to
// call from any goroutine, including a real host-thread completion handler
// that is not itself a minithread. Posting after Close is a no-op.
func (c *Controller) Post(fn func()) {
	c.lock.Acquire()
	if c.closed {
		c.lock.Clear()
		log.Warn("controller closed, dropping posted event")
		return
	}
	c.items = append(c.items, fn)
	c.lock.Clear()
	c.ready.V()
}

// Run drains posted work in FIFO order until Close is called and the queue
// is empty. It is intended to be called once, typically via
// minithread.Fork(func(any) { controller.Run() }, nil).
func (c *Controller) Run() {
	for {
		c.ready.P()
		c.lock.Acquire()
		if len(c.items) == 0 {
			// Close posted the wakeup with nothing left to drain.
			c.lock.Clear()
			return
		}
		fn := c.items[0]
		c.items = c.items[1:]
		c.lock.Clear()
		fn()
	}
}

// Close stops the controller's processing loop after draining any events
// already posted.
func (c *Controller) Close() {
	c.lock.Acquire()
	c.closed = true
	c.lock.Clear()
	c.ready.V() // wakes Run so it can observe closed+empty and return
}
