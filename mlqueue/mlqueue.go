// Package mlqueue implements the multilevel queue: an array of FIFOs
// indexed by priority level, with wrap-around dequeue starting from a given
// level. It backs minithread's scheduler.
package mlqueue

import "github.com/joeycumines/minikernel/queue"

// MultilevelQueue holds Levels independent FIFOs of T.
type MultilevelQueue[T any] struct {
	levels []*queue.Queue[T]
}

// New returns a multilevel queue with the given number of priority levels.
func New[T any](levels int) *MultilevelQueue[T] {
	if levels <= 0 {
		panic("mlqueue: levels must be positive")
	}
	mq := &MultilevelQueue[T]{levels: make([]*queue.Queue[T], levels)}
	for i := range mq.levels {
		mq.levels[i] = queue.New[T]()
	}
	return mq
}

// Levels returns the number of priority levels.
func (m *MultilevelQueue[T]) Levels() int { return len(m.levels) }

// Enqueue appends v to the FIFO for level.
func (m *MultilevelQueue[T]) Enqueue(level int, v T) {
	m.levels[m.checkLevel(level)].Append(v)
}

func (m *MultilevelQueue[T]) checkLevel(level int) int {
	if level < 0 || level >= len(m.levels) {
		panic("mlqueue: level out of range")
	}
	return level
}

// Len returns the number of queued elements across every level.
func (m *MultilevelQueue[T]) Len() int {
	n := 0
	for _, q := range m.levels {
		n += q.Len()
	}
	return n
}

// LevelLen returns the number of queued elements at a single level.
func (m *MultilevelQueue[T]) LevelLen(level int) int {
	return m.levels[m.checkLevel(level)].Len()
}

// Dequeue starts scanning at start and wraps around the level array,
// returning the first element found together with the level it was
// dequeued from. The second return value is false if every level is empty.
func (m *MultilevelQueue[T]) Dequeue(start int) (T, int, bool) {
	start = m.checkLevel(start)
	n := len(m.levels)
	for i := 0; i < n; i++ {
		level := (start + i) % n
		if v, ok := m.levels[level].PopFront(); ok {
			return v, level, true
		}
	}
	var zero T
	return zero, -1, false
}
