package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"
)

// Waiter drains a LineQueue looking for patterns. Lines examined and not
// matched are consumed; lines not yet examined stay queued.
type Waiter struct {
	queue *LineQueue
	log   io.Writer
}

func NewWaiter(queue *LineQueue) *Waiter {
	return &Waiter{queue: queue, log: os.Stdout}
}

// SetLogOutput redirects waiter diagnostics.
func (w *Waiter) SetLogOutput(out io.Writer) {
	w.log = out
}

// WaitFor returns the first queued line matching pattern, or ok=false
// once timeout elapses or ctx is done.
func (w *Waiter) WaitFor(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration, label string) (string, bool) {
	return w.WaitForAny(ctx, []*regexp.Regexp{pattern}, timeout, label)
}

// WaitForAny is WaitFor over several patterns.
func (w *Waiter) WaitForAny(ctx context.Context, patterns []*regexp.Regexp, timeout time.Duration, label string) (string, bool) {
	fmt.Fprintf(w.log, "[harness] waiting for %s (timeout %s)\n", label, timeout)
	deadline := time.Now().Add(timeout)
	for {
		for {
			line, ok := w.queue.TryPop()
			if !ok {
				break
			}
			for _, p := range patterns {
				if p.MatchString(line) {
					return line, true
				}
			}
		}

		if ctx.Err() != nil {
			fmt.Fprintf(w.log, "[harness] cancelled waiting for %s\n", label)
			return "", false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			fmt.Fprintf(w.log, "[harness] timeout waiting for %s\n", label)
			return "", false
		}
		w.queue.Wait(ctx, remaining)
	}
}
