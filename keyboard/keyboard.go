// Package keyboard implements the line-buffered stdin input device: a
// background poller goroutine blocks in a synchronous line read and hands
// each completed line to a queue drained by ReadLine, which blocks
// cooperatively (spec §2's "Keyboard input", grounded on the original's
// read.c read_poll/miniterm_read pair).
package keyboard

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/joeycumines/minikernel/klog"
	"github.com/joeycumines/minikernel/queue"
	"github.com/joeycumines/minikernel/semaphore"
)

var log = klog.Default().With("keyboard")

// SetLogger overrides the subsystem logger used by keyboard.
func SetLogger(l klog.Logger) { log = l.With("keyboard") }

// ErrClosed is returned by ReadLine once Close has been called and every
// buffered line has been drained.
var ErrClosed = errors.New("keyboard: closed")

// Device is a single line-buffered input source. The zero value is not
// ready for use; call New.
type Device struct {
	mu      sync.Mutex
	lines   *queue.Queue[string]
	ready   *semaphore.Semaphore
	closed  bool
	readErr error
}

// New starts a poller goroutine over r (typically os.Stdin) that reads
// complete lines and appends them to an internal queue, exactly as the
// original's read_poll thread feeds kb_head/kb_tail: one real OS thread
// blocked in a synchronous read, decoupled from the cooperative scheduler
// by the queue and readiness semaphore.
func New(r io.Reader) *Device {
	d := &Device{
		lines: queue.New[string](),
		ready: semaphore.New(0),
	}
	go d.poll(r)
	return d
}

func (d *Device) poll(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLineLength), maxLineLength)
	for scanner.Scan() {
		line := scanner.Text()
		d.mu.Lock()
		d.lines.Append(line)
		d.mu.Unlock()
		d.ready.V()
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	d.mu.Lock()
	d.closed = true
	d.readErr = err
	d.mu.Unlock()
	d.ready.V()
}

// maxLineLength mirrors the original's MAX_LINE_LENGTH.
const maxLineLength = 512

// ReadLine blocks (cooperatively, via semaphore.P) until a complete line
// is available and returns it without its trailing newline, matching
// miniterm_read's contract. Once every buffered line has been drained it
// returns io.EOF (or the reader's own error) after the input source has
// been exhausted, and ErrClosed after Close.
func (d *Device) ReadLine() (string, error) {
	d.ready.P()

	d.mu.Lock()
	defer d.mu.Unlock()

	if line, ok := d.lines.PopFront(); ok {
		return line, nil
	}
	if d.closed {
		// Put the signal back for any other waiter; EOF is a sticky
		// condition, not a one-shot wakeup.
		d.ready.V()
		return "", d.readErr
	}
	// Spurious wakeup: shouldn't happen given the V()/P() pairing above,
	// but fall through safely rather than blocking forever.
	return "", ErrClosed
}

// Close stops accepting new reads; any poller goroutine blocked in its
// underlying Read call is left to exit on its own next read error or EOF
// (stdin has no portable cancellation), matching the original's design of
// never tearing down the read thread.
func (d *Device) Close() {
	d.mu.Lock()
	already := d.closed
	d.closed = true
	d.readErr = ErrClosed
	d.mu.Unlock()
	if !already {
		d.ready.V()
	}
}
