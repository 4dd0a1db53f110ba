package session

import (
	"io"

	"github.com/esp32-tools/memharness/internal/parser"
	"github.com/esp32-tools/memharness/internal/serial"
)

// Capture wires a transport to the decoder, the journal, the live queue
// and the shared device state.
type Capture struct {
	Queue    *LineQueue
	Waiter   *Waiter
	State    *DeviceState
	Decoder  *parser.Decoder
	Follower *Follower
}

// CaptureOptions configures NewCapture. Nil writers keep the defaults.
type CaptureOptions struct {
	Log  io.Writer
	Echo io.Writer
}

// NewCapture builds the capture pipeline. The reader is not started.
func NewCapture(transport serial.Transport, journal parser.Journal, opts CaptureOptions) *Capture {
	queue := NewLineQueue()
	state := &DeviceState{}

	decoder := parser.NewDecoder(journal, queue)
	decoder.OnRecord = state.Observe

	c := &Capture{
		Queue:    queue,
		Waiter:   NewWaiter(queue),
		State:    state,
		Decoder:  decoder,
		Follower: NewFollower(transport, decoder),
	}
	if opts.Log != nil {
		decoder.SetLogOutput(opts.Log)
		c.Waiter.SetLogOutput(opts.Log)
		c.Follower.SetLogOutput(opts.Log)
	}
	if opts.Echo != nil {
		decoder.SetEcho(opts.Echo)
	}
	return c
}

// Start launches the reader goroutine.
func (c *Capture) Start() {
	c.Follower.Start()
}

// Stop stops the reader and releases the transport.
func (c *Capture) Stop() error {
	return c.Follower.Stop()
}
