// Package disk simulates the block device the filesystem is built on: a
// request queue drained by a single background poller, completions
// delivered through a per-request semaphore, with optional random failure,
// crash, and reordering injection (spec §4.9's disk simulator, grounded on
// the original's disk_poll loop).
package disk

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/joeycumines/minikernel/klog"
	"github.com/joeycumines/minikernel/metrics"
	"github.com/joeycumines/minikernel/queue"
	"github.com/joeycumines/minikernel/semaphore"
)

var log = klog.Default().With("disk")

// SetLogger overrides the subsystem logger used by disk.
func SetLogger(l klog.Logger) { log = l.With("disk") }

// BlockSize is the fixed block size used throughout the filesystem stack.
const BlockSize = 4096

// RequestType distinguishes disk operations.
type RequestType int

const (
	Read RequestType = iota
	Write
	Reset
	Shutdown
)

func (t RequestType) String() string {
	switch t {
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Reset:
		return "RESET"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Reply is the disk's response status, matching spec §7's disk error
// taxonomy (OK, FAILED, ERROR, CRASHED).
type Reply int

const (
	OK Reply = iota
	Failed
	Error
	Crashed
)

func (r Reply) String() string {
	switch r {
	case OK:
		return "OK"
	case Failed:
		return "FAILED"
	case Error:
		return "ERROR"
	case Crashed:
		return "CRASHED"
	default:
		return "UNKNOWN"
	}
}

// ErrShutdown is the error value for a device that has been shut down. No
// function in this package returns it: Submit reports every outcome through
// a Reply.
var ErrShutdown = errors.New("disk: device shut down")

// Backend is the persistence layer a Device drives. MemBackend and
// FileBackend are the two provided implementations.
type Backend interface {
	ReadBlock(block int, buf []byte) error
	WriteBlock(block int, buf []byte) error
}

// Request describes one queued disk operation.
type Request struct {
	Block  int
	Buffer []byte
	Type   RequestType
}

type pending struct {
	req   Request
	done  *semaphore.Semaphore
	reply Reply
}

// Device is a simulated block device: requests are queued under a single
// lock (mirroring the original's disk_mutex-guarded linked queue) and
// drained one at a time by a dedicated poller goroutine, which is where
// failure/crash/reordering injection happens.
type Device struct {
	backend Backend
	size    int

	mu      sync.Mutex
	queue   *queue.Queue[*pending]
	ready   *semaphore.Semaphore
	crashed bool

	rng *rand.Rand

	// CrashRate, FailureRate, and ReorderingRate are the probabilities
	// (per request) of DISK_REPLY_CRASHED, DISK_REPLY_FAILED, and of
	// swapping the first two queued requests, respectively.
	CrashRate      float64
	FailureRate    float64
	ReorderingRate float64
}

// New creates a Device of size blocks backed by backend, and starts its
// poller goroutine. seed controls the failure/crash/reordering injection's
// PRNG, for reproducible tests.
func New(backend Backend, size int, seed int64) *Device {
	d := &Device{
		backend: backend,
		size:    size,
		queue:   queue.New[*pending](),
		ready:   semaphore.New(0),
		rng:     rand.New(rand.NewSource(seed)),
	}
	go d.run()
	return d
}

// Size returns the device's block count.
func (d *Device) Size() int { return d.size }

// Submit enqueues req and blocks (cooperatively, via semaphore.P) until the
// poller has processed it, returning the resulting Reply. Safe to call
// from a minithread: the only blocking primitive it touches is
// semaphore.P, matching spec §4.9's "blocks the caller on the disk lock"
// plus "a block-completion semaphore is P'd after each request is
// dispatched".
func (d *Device) Submit(req Request) Reply {
	p := &pending{req: req, done: semaphore.New(0)}

	d.mu.Lock()
	d.queue.Append(p)
	d.mu.Unlock()
	d.ready.V()

	p.done.P()
	return p.reply
}

// ReadBlock submits a Read request for block into buf, which must be at
// least BlockSize long.
func (d *Device) ReadBlock(block int, buf []byte) Reply {
	return d.Submit(Request{Block: block, Buffer: buf, Type: Read})
}

// WriteBlock submits a Write request for block from buf.
func (d *Device) WriteBlock(block int, buf []byte) Reply {
	return d.Submit(Request{Block: block, Buffer: buf, Type: Write})
}

// Reset clears a crashed device back to serviceable, per spec §7: "CRASHED
// (device-wide failure requiring RESET)".
func (d *Device) Reset() Reply {
	return d.Submit(Request{Type: Reset})
}

// Shutdown drains the queue and stops the poller goroutine.
func (d *Device) Shutdown() Reply {
	return d.Submit(Request{Type: Shutdown})
}

// run is the poller: it dequeues one request at a time and applies
// injected failures before touching the backend, mirroring the original's
// disk_poll state machine (crash check, then failure check, then the
// actual read/write).
func (d *Device) run() {
	for {
		d.ready.P()

		d.mu.Lock()
		d.maybeReorder()
		p, ok := d.queue.PopFront()
		d.mu.Unlock()
		if !ok {
			continue
		}

		switch p.req.Type {
		case Shutdown:
			p.reply = OK
			p.done.V()
			return

		case Reset:
			d.mu.Lock()
			d.crashed = false
			d.mu.Unlock()
			p.reply = OK
			p.done.V()
			continue
		}

		metrics.Disk.Requests.Inc()

		d.mu.Lock()
		crashed := d.crashed
		d.mu.Unlock()
		if crashed {
			p.reply = Crashed
			p.done.V()
			continue
		}

		if d.rng.Float64() < d.CrashRate {
			d.mu.Lock()
			d.crashed = true
			d.mu.Unlock()
			log.Warn("disk crashed")
			metrics.Disk.Crashes.Inc()
			p.reply = Crashed
			p.done.V()
			continue
		}

		if d.rng.Float64() < d.FailureRate {
			metrics.Disk.Failures.Inc()
			p.reply = Failed
			p.done.V()
			continue
		}

		if p.req.Block < 0 || p.req.Block >= d.size {
			p.reply = Error
			p.done.V()
			continue
		}

		var err error
		switch p.req.Type {
		case Read:
			err = d.backend.ReadBlock(p.req.Block, p.req.Buffer)
		case Write:
			err = d.backend.WriteBlock(p.req.Block, p.req.Buffer)
		}
		if err != nil {
			p.reply = Error
		} else {
			p.reply = OK
		}
		p.done.V()
	}
}

// maybeReorder probabilistically swaps the first two queued requests, per
// the original's "permute the first two elements in the queue
// probabilistically". Callers must hold mu.
func (d *Device) maybeReorder() {
	if d.queue.Len() < 2 || d.rng.Float64() >= d.ReorderingRate {
		return
	}
	d.queue.SwapFront2()
}
