package minithread

import (
	"sync"

	"github.com/joeycumines/minikernel/metrics"
	"github.com/joeycumines/minikernel/mlqueue"
	"github.com/joeycumines/minikernel/taslock"
)

// action describes why the running thread is giving up the CPU.
type action int

const (
	actionYield action = iota
	actionBlock
	actionExit
)

// scheduler implements the multilevel-feedback policy from spec §4.2:
// four priority levels, quantum 2^level ticks, and a weighted starting
// level drawn from the tick counter so low-priority work isn't starved.
type scheduler struct {
	mu              sync.Mutex
	mlq             *mlqueue.MultilevelQueue[*Thread]
	ticks           uint64
	current         *Thread
	currentDeadline uint64
	idle            *Thread
	exitedCh        chan *Thread
}

var sched = newScheduler()

func newScheduler() *scheduler {
	s := &scheduler{
		mlq:      mlqueue.New[*Thread](NumLevels),
		exitedCh: make(chan *Thread, 64),
	}
	s.idle = s.newThread(func(any) {
		for {
			Yield()
		}
	}, nil)
	s.idle.priority = NumLevels - 1
	go cleanupLoop(s.exitedCh)
	return s
}

func (s *scheduler) newThread(proc func(arg any), arg any) *Thread {
	t := &Thread{
		id:     nextID.Add(1) - 1,
		status: StatusInitial,
		wakeCh: make(chan struct{}, 1),
		proc:   proc,
		arg:    arg,
	}
	return t
}

// quantum returns the number of ticks a thread at level runs before it is
// eligible for demotion (2^level, per spec §4.2).
func quantum(level int) uint64 {
	return 1 << uint(level)
}

// pickStartLevel implements the weighted level-selection formula from
// spec §4.2 item 1: a pseudo-random-by-ticks weight biased toward the
// highest-priority (lowest-numbered) level.
func (s *scheduler) pickStartLevel() int {
	r := s.ticks % 160
	switch {
	case r < 80:
		return 0
	case r < 120:
		return 1
	case r < 144:
		return 2
	default:
		return 3
	}
}

// tick is invoked once per clock tick by the intr package's clock driver.
// It advances the tick counter; quantum-expiry detection happens lazily,
// the next time the running thread calls into Yield or a blocking
// primitive, consistent with the cooperative-substitute design documented
// in DESIGN.md.
func (s *scheduler) tick() uint64 {
	s.mu.Lock()
	s.ticks++
	t := s.ticks
	s.mu.Unlock()
	return t
}

func (s *scheduler) currentTicks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// run is the scheduler's core dispatch step. outgoing is nil only during
// bootstrap. It returns once outgoing has been redispatched (for yield) or
// never returns for the goroutine that just exited.
func (s *scheduler) run(outgoing *Thread, act action) {
	s.mu.Lock()

	if outgoing != nil {
		switch act {
		case actionYield:
			level := outgoing.priority
			if s.ticks >= s.currentDeadline && level < NumLevels-1 {
				level++
				metrics.Scheduler.Preemptions.Inc()
			}
			outgoing.priority = level
			outgoing.status = StatusReady
			s.mlq.Enqueue(level, outgoing)
		case actionBlock:
			outgoing.status = StatusBlocked
		case actionExit:
			outgoing.status = StatusExited
		}
	}

	next, level, ok := s.mlq.Dequeue(s.pickStartLevel())
	if !ok {
		next = s.idle
		level = s.idle.priority
	}
	next.status = StatusRunning
	next.priority = level
	s.current = next
	s.currentDeadline = s.ticks + quantum(level)
	s.mu.Unlock()

	if act == actionExit {
		// The exiting goroutine is about to return; hand the CPU to whoever
		// is next and tell the cleanup thread this TCB is reapable.
		if next != outgoing {
			next.wake()
		}
		s.exitedCh <- outgoing
		return
	}

	if next == outgoing {
		// Nobody else is runnable; keep going without a channel round trip.
		return
	}
	metrics.Scheduler.ContextSwitches.Inc()
	next.wake()
	if outgoing != nil {
		outgoing.parkUntilWoken()
	}
}

// cleanupLoop models the cleanup thread from spec §3: it is the only
// consumer of exited TCBs, reclaiming them once their goroutine has
// returned. Go's GC reclaims the actual stack; this loop's job is to make
// exit-observability explicit and to log thread teardown.
func cleanupLoop(exited <-chan *Thread) {
	for t := range exited {
		log.Debug("thread exited", "id", t.id)
	}
}

// Initialize must be called once, before any other minithread API, to
// create and dispatch the first ("boot") thread. It does not return until
// the system halts (Shutdown is called), mirroring the original kernel's
// minithread_system_initialize, which never returns to its caller either.
func Initialize(boot func(arg any), arg any) {
	Fork(boot, arg)
	haltMu.Lock()
	halt = make(chan struct{})
	h := halt
	haltMu.Unlock()
	sched.run(nil, actionYield)
	<-h
}

var (
	haltMu sync.Mutex
	halt   chan struct{}
)

// Shutdown halts the goroutine blocked inside Initialize. It is primarily
// useful in tests that want a deterministic end to a run.
func Shutdown() {
	haltMu.Lock()
	defer haltMu.Unlock()
	if halt != nil {
		close(halt)
		halt = nil
	}
}

// Create allocates a new thread in StatusInitial. Its first dispatch will
// invoke proc(arg); when proc returns, the thread exits automatically (the
// "implicit exit trampoline" from spec §4.1).
func Create(proc func(arg any), arg any) *Thread {
	t := sched.newThread(proc, arg)
	go func() {
		t.parkUntilWoken()
		t.proc(t.arg)
		sched.run(t, actionExit)
	}()
	return t
}

// Start marks t READY and appends it to the ready queue at its current
// priority. It does not preempt the caller (spec §4.1).
func Start(t *Thread) {
	sched.mu.Lock()
	t.status = StatusReady
	sched.mlq.Enqueue(t.priority, t)
	sched.mu.Unlock()
}

// Fork is Create followed by Start.
func Fork(proc func(arg any), arg any) *Thread {
	t := Create(proc, arg)
	Start(t)
	return t
}

// Self returns the TCB for the currently running thread.
func Self() *Thread {
	sched.mu.Lock()
	defer sched.mu.Unlock()
	return sched.current
}

// ID returns the currently running thread's id.
func ID() uint64 {
	return Self().ID()
}

// Yield places the caller at the tail of its priority's ready queue and
// invokes the scheduler. If the caller's quantum has expired, its priority
// is demoted by one level (clamped at the lowest/maximum-numbered level).
func Yield() {
	sched.run(Self(), actionYield)
}

// Stop marks the caller BLOCKED and invokes the scheduler. The caller must
// already be enqueued on the relevant wait queue (a semaphore's wait queue,
// or its own sleep rendezvous) before calling Stop.
func Stop() {
	sched.run(Self(), actionBlock)
}

// UnlockAndStop atomically clears lock and blocks the caller. It is used by
// semaphore.P so that no V can race a P into a lost wakeup: the caller must
// have already appended itself to the semaphore's wait queue while holding
// lock.
func UnlockAndStop(lock *taslock.Lock) {
	t := Self()
	lock.Clear()
	sched.run(t, actionBlock)
}

// Ticks returns the current value of the kernel's tick counter.
func Ticks() uint64 {
	return sched.currentTicks()
}

// Tick is called by the intr package's clock driver once per simulated
// clock interrupt. It advances and returns the new tick count.
func Tick() uint64 {
	return sched.tick()
}
