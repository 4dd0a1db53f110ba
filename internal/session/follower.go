package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/esp32-tools/memharness/internal/parser"
	"github.com/esp32-tools/memharness/internal/serial"
)

// StopTimeout bounds how long Stop waits for the reader goroutine.
const StopTimeout = 2 * time.Second

// Follower owns the transport and feeds every chunk to the decoder from a
// single reader goroutine.
type Follower struct {
	transport serial.Transport
	decoder   *parser.Decoder
	log       io.Writer

	stop     chan struct{}
	done     chan struct{}
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
	stopErr  error
}

func NewFollower(transport serial.Transport, decoder *parser.Decoder) *Follower {
	return &Follower{
		transport: transport,
		decoder:   decoder,
		log:       os.Stdout,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetLogOutput redirects follower diagnostics.
func (f *Follower) SetLogOutput(out io.Writer) {
	f.log = out
}

// Start launches the reader goroutine. Calling it twice is a no-op.
func (f *Follower) Start() {
	f.startMu.Lock()
	defer f.startMu.Unlock()
	if f.started {
		return
	}
	f.started = true
	go f.run()
}

func (f *Follower) run() {
	defer close(f.done)
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(f.log, "[serial] reader PANIC recovered: %v\n", r)
		}
	}()

	buf := make([]byte, 4096)
	for {
		select {
		case <-f.stop:
			f.decoder.Flush()
			return
		default:
		}

		n, err := f.transport.Read(buf)
		if n > 0 {
			f.decoder.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, serial.ErrClosed) || errors.Is(err, io.EOF) {
				f.decoder.Flush()
				return
			}
			fmt.Fprintf(f.log, "[serial] read error on %s: %v\n", f.transport.Name(), err)
			time.Sleep(serial.DefaultPollInterval)
		}
	}
}

// Stop signals the reader, waits up to StopTimeout, then closes the
// transport whether or not the reader exited. Safe to call repeatedly.
func (f *Follower) Stop() error {
	f.stopOnce.Do(func() {
		close(f.stop)

		f.startMu.Lock()
		started := f.started
		f.startMu.Unlock()

		if started {
			select {
			case <-f.done:
			case <-time.After(StopTimeout):
				fmt.Fprintf(f.log, "[serial] reader did not stop within %s\n", StopTimeout)
			}
		}
		f.stopErr = f.transport.Close()
	})
	return f.stopErr
}

// Done is closed when the reader goroutine exits.
func (f *Follower) Done() <-chan struct{} {
	return f.done
}
