package parser

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/esp32-tools/memharness/internal/models"
)

// Journal persists decoded lines.
type Journal interface {
	AppendRaw(line string) error
	AppendRecord(rec *models.Record) error
}

// LineSink receives every decoded line for live waiters. Push must not block.
type LineSink interface {
	Push(line string)
}

// Decoder turns transport chunks into records. Every line is mirrored to
// the raw journal and pushed to the sink; classified lines are also
// journaled as structured records.
type Decoder struct {
	framer   Framer
	registry *Registry
	journal  Journal
	sink     LineSink
	now      func() time.Time
	log      io.Writer
	echo     io.Writer

	// OnRecord, when set, observes every classified record after it is journaled.
	OnRecord func(rec *models.Record)

	lines      int
	classified int
}

// NewDecoder creates a decoder using the global registry.
func NewDecoder(journal Journal, sink LineSink) *Decoder {
	return &Decoder{
		registry: GetGlobalRegistry(),
		journal:  journal,
		sink:     sink,
		now:      func() time.Time { return time.Now().UTC() },
		log:      os.Stdout,
	}
}

// SetClock replaces the ingestion timestamp source.
func (d *Decoder) SetClock(now func() time.Time) {
	d.now = now
}

// SetLogOutput redirects decoder diagnostics.
func (d *Decoder) SetLogOutput(w io.Writer) {
	d.log = w
}

// SetEcho mirrors every decoded line to w, prefixed like a console.
func (d *Decoder) SetEcho(w io.Writer) {
	d.echo = w
}

// Feed consumes one chunk from the transport.
func (d *Decoder) Feed(chunk []byte) {
	for _, line := range d.framer.Push(chunk) {
		d.handle(line)
	}
}

// Flush handles a trailing partial line, used when the transport stops.
func (d *Decoder) Flush() {
	if line, ok := d.framer.Flush(); ok {
		d.handle(line)
	}
}

// Stats returns the number of lines seen and how many were classified.
// Call it only after the reader goroutine has exited.
func (d *Decoder) Stats() (lines, classified int) {
	return d.lines, d.classified
}

func (d *Decoder) handle(line string) {
	d.lines++
	rec := d.registry.Classify(line, d.now())

	if d.journal != nil {
		if err := d.journal.AppendRaw(line); err != nil {
			fmt.Fprintf(d.log, "[Decoder] raw journal write failed: %v\n", err)
		}
	}
	if rec.Classified() {
		d.classified++
		if d.journal != nil {
			if err := d.journal.AppendRecord(rec); err != nil {
				fmt.Fprintf(d.log, "[Decoder] %s journal write failed: %v\n", rec.Kind, err)
			}
		}
		if d.OnRecord != nil {
			d.OnRecord(rec)
		}
	}
	if d.echo != nil {
		fmt.Fprintf(d.echo, "[serial] %s\n", line)
	}
	// Waiters see the line only after state derived from it is visible.
	if d.sink != nil {
		d.sink.Push(line)
	}
}
