// Package session runs the serial capture side of a harness run: the
// reader goroutine, the live line queue and the pattern waiter.
package session

import (
	"context"
	"sync"
	"time"
)

// LineQueue is an unbounded single-producer single-consumer FIFO.
// Push never blocks.
type LineQueue struct {
	mu     sync.Mutex
	lines  []string
	head   int
	notify chan struct{}
}

func NewLineQueue() *LineQueue {
	return &LineQueue{notify: make(chan struct{}, 1)}
}

// Push appends a line and wakes a waiting consumer.
func (q *LineQueue) Push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest line without waiting.
func (q *LineQueue) TryPop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.lines) {
		return "", false
	}
	line := q.lines[q.head]
	q.lines[q.head] = ""
	q.head++
	if q.head == len(q.lines) {
		q.lines = q.lines[:0]
		q.head = 0
	}
	return line, true
}

// Wait blocks until a Push happens, d elapses or ctx is done. It may
// return true spuriously; callers re-check with TryPop.
func (q *LineQueue) Wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-q.notify:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Len returns the number of unconsumed lines.
func (q *LineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines) - q.head
}
