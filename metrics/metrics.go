// Package metrics is a small in-process counter/gauge registry for
// operational visibility into the scheduler, semaphores, disk device, and
// minisocket transport, grounded on ehrlich-b-go-ublk's atomic-counter
// Metrics type (metrics.go) but scaled down to what the rest of this repo
// actually emits: spec.md exposes no HTTP/metrics surface to scrape, so
// there is no exporter client wired here, only the counters/gauges
// themselves plus a Snapshot for tests and diagnostics to read.
package metrics

import "sync/atomic"

// Counter is a monotonically increasing count, safe for concurrent use.
type Counter struct{ v atomic.Uint64 }

// Inc increments the counter by one.
func (c *Counter) Inc() { c.v.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n uint64) { c.v.Add(n) }

// Load returns the current value.
func (c *Counter) Load() uint64 { return c.v.Load() }

// Gauge is a point-in-time value that can move in either direction, safe
// for concurrent use.
type Gauge struct{ v atomic.Int64 }

// Add adjusts the gauge by delta (negative to decrease).
func (g *Gauge) Add(delta int64) { g.v.Add(delta) }

// Set overwrites the gauge's value.
func (g *Gauge) Set(n int64) { g.v.Store(n) }

// Load returns the current value.
func (g *Gauge) Load() int64 { return g.v.Load() }

// Scheduler tracks minithread's dispatch loop (spec §4.2).
var Scheduler struct {
	// ContextSwitches counts every dispatch that actually hands the CPU to
	// a different thread (bootstrap and idle-thread dispatches included).
	ContextSwitches Counter
	// Preemptions counts quantum-expiry demotions applied in scheduler.run.
	Preemptions Counter
}

// Semaphores tracks aggregate P/V activity across every semaphore.Semaphore
// (spec §4.3).
var Semaphores struct {
	// Blocks counts P calls that found the semaphore negative and parked
	// the caller.
	Blocks Counter
	// WaitQueueDepth is the live sum of blocked waiters across every
	// semaphore in the process.
	WaitQueueDepth Gauge
}

// Disk tracks disk.Device request outcomes (spec §4.9/§7).
var Disk struct {
	Requests  Counter
	Failures  Counter
	Crashes   Counter
}

// Minisocket tracks retransmission and busy-signalling activity across
// every minisocket.Socket (spec §4.7).
var Minisocket struct {
	Retransmits Counter
	BusyReplies Counter
}

// Snapshot is a point-in-time read of every registered metric, for tests
// and diagnostic commands that want a single value to assert against or
// print.
type Snapshot struct {
	ContextSwitches    uint64
	Preemptions        uint64
	SemaphoreBlocks    uint64
	WaitQueueDepth     int64
	DiskRequests       uint64
	DiskFailures       uint64
	DiskCrashes        uint64
	Retransmits        uint64
	BusyReplies        uint64
}

// Take reads every metric registered above into a Snapshot.
func Take() Snapshot {
	return Snapshot{
		ContextSwitches: Scheduler.ContextSwitches.Load(),
		Preemptions:     Scheduler.Preemptions.Load(),
		SemaphoreBlocks: Semaphores.Blocks.Load(),
		WaitQueueDepth:  Semaphores.WaitQueueDepth.Load(),
		DiskRequests:    Disk.Requests.Load(),
		DiskFailures:    Disk.Failures.Load(),
		DiskCrashes:     Disk.Crashes.Load(),
		Retransmits:     Minisocket.Retransmits.Load(),
		BusyReplies:     Minisocket.BusyReplies.Load(),
	}
}
