// Package minithread implements the kernel's thread control blocks and the
// multilevel-feedback scheduler that dispatches them.
//
// The original source hands each thread a raw stack and context-switches
// between them with machine-specific assembly. Per the re-architecture
// guidance this is replaced with a cooperative fiber model: every Thread
// owns a real goroutine, but exactly one goroutine is ever allowed to run
// user code at a time — the rest are parked on a buffered channel (the
// "baton") until the scheduler hands it to them. Voluntary entry points
// (Yield, Stop, blocking semaphore/alarm operations) are where the baton
// changes hands, giving the single-virtual-CPU invariant real teeth without
// hand-rolled stack switching.
package minithread

import (
	"sync/atomic"

	"github.com/joeycumines/minikernel/klog"
)

// Status is the lifecycle state of a Thread.
type Status int

const (
	StatusInitial Status = iota
	StatusRunning
	StatusReady
	StatusBlocked
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "INITIAL"
	case StatusRunning:
		return "RUNNING"
	case StatusReady:
		return "READY"
	case StatusBlocked:
		return "BLOCKED"
	case StatusExited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}

// NumLevels is the number of scheduler priority levels (0 highest).
const NumLevels = 4

var nextID atomic.Uint64

// Thread is the kernel's thread control block (TCB).
type Thread struct {
	id       uint64
	priority int
	status   Status
	wakeCh   chan struct{}
	userData atomic.Value // arbitrary per-thread payload, e.g. current working directory

	proc func(arg any)
	arg  any
}

// ID returns the thread's monotonically assigned identity. Thread 0 is
// always the idle thread.
func (t *Thread) ID() uint64 { return t.id }

// Priority returns the thread's current scheduler level (0 highest).
func (t *Thread) Priority() int { return t.priority }

// Status returns the thread's current lifecycle state.
func (t *Thread) Status() Status { return t.status }

// SetUserData attaches an arbitrary payload to the thread (used by minifile
// to stash the thread's current-working-directory inode reference without
// introducing an import cycle between minithread and minifile).
func (t *Thread) SetUserData(v any) { t.userData.Store(boxed{v}) }

// UserData retrieves the payload set by SetUserData, or nil if none was set.
func (t *Thread) UserData() any {
	if b, ok := t.userData.Load().(boxed); ok {
		return b.v
	}
	return nil
}

type boxed struct{ v any }

func (t *Thread) wake() {
	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
}

func (t *Thread) parkUntilWoken() {
	<-t.wakeCh
}

var log = klog.Default().With("minithread")

// SetLogger overrides the subsystem logger used by minithread.
func SetLogger(l klog.Logger) { log = l.With("minithread") }
