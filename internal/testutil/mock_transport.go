// mock_transport.go - Scripted serial transport for testing
package testutil

import (
	"sync"
	"time"

	"github.com/esp32-tools/memharness/internal/serial"
)

// MockTransport implements serial.Transport over an in-memory buffer.
// Read hands out at most ChunkSize bytes at a time to exercise framing.
type MockTransport struct {
	mu        sync.Mutex
	pending   []byte
	closed    bool
	notify    chan struct{}
	ChunkSize int
	Poll      time.Duration
}

// NewMockTransport creates a transport preloaded with lines, each
// terminated with CRLF like the device console.
func NewMockTransport(lines ...string) *MockTransport {
	m := &MockTransport{
		notify:    make(chan struct{}, 1),
		ChunkSize: 7,
		Poll:      5 * time.Millisecond,
	}
	m.WriteLines(lines...)
	return m
}

// Write appends raw bytes to the stream.
func (m *MockTransport) Write(b []byte) {
	m.mu.Lock()
	m.pending = append(m.pending, b...)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// WriteLines appends CRLF-terminated lines.
func (m *MockTransport) WriteLines(lines ...string) {
	for _, l := range lines {
		m.Write([]byte(l + "\r\n"))
	}
}

// WriteLinesAfter appends lines once d has elapsed.
func (m *MockTransport) WriteLinesAfter(d time.Duration, lines ...string) {
	time.AfterFunc(d, func() { m.WriteLines(lines...) })
}

func (m *MockTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, serial.ErrClosed
	}
	if len(m.pending) == 0 {
		m.mu.Unlock()
		select {
		case <-m.notify:
		case <-time.After(m.Poll):
		}
		return 0, nil
	}
	n := len(m.pending)
	if m.ChunkSize > 0 && n > m.ChunkSize {
		n = m.ChunkSize
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, m.pending[:n])
	m.pending = m.pending[n:]
	m.mu.Unlock()
	return n, nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockTransport) Name() string {
	return "mock"
}

// Pending returns the number of bytes not yet read.
func (m *MockTransport) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
