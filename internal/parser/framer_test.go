package parser

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/esp32-tools/memharness/internal/models"
)

func TestFramerSplitsChunks(t *testing.T) {
	var f Framer

	assert.Empty(t, f.Push([]byte("[Mem] hb hf=1")))
	assert.Equal(t, []string{"[Mem] hb hf=1 hm=2"}, f.Push([]byte(" hm=2\r\nGot ")))
	assert.Equal(t, []string{"Got IP: 1.2.3.4", "", "tail"}, f.Push([]byte("IP: 1.2.3.4\n\ntail\n")))

	_, ok := f.Flush()
	assert.False(t, ok)
}

func TestFramerStripsOnlyOneCR(t *testing.T) {
	var f Framer
	assert.Equal(t, []string{"a\r"}, f.Push([]byte("a\r\r\n")))
}

func TestFramerReplacesInvalidUTF8(t *testing.T) {
	var f Framer
	lines := f.Push([]byte{'o', 'k', 0xff, 0xfe, '!', '\n'})
	assert.Equal(t, []string{"ok�!"}, lines)
}

func TestFramerFlushPartial(t *testing.T) {
	var f Framer
	f.Push([]byte("no newline"))
	line, ok := f.Flush()
	assert.True(t, ok)
	assert.Equal(t, "no newline", line)
}

func TestFramerCapsRunawayLine(t *testing.T) {
	var f Framer
	lines := f.Push(bytes.Repeat([]byte{'x'}, MaxLineBytes+10))
	assert.Len(t, lines, 1)
	assert.Equal(t, strings.Repeat("x", MaxLineBytes+10), lines[0])
}

type recordingJournal struct {
	raw     []string
	records []*models.Record
}

func (j *recordingJournal) AppendRaw(line string) error {
	j.raw = append(j.raw, line)
	return nil
}

func (j *recordingJournal) AppendRecord(rec *models.Record) error {
	j.records = append(j.records, rec)
	return nil
}

type sliceSink struct{ lines []string }

func (s *sliceSink) Push(line string) { s.lines = append(s.lines, line) }

func TestDecoderUnmatchedLine(t *testing.T) {
	j := &recordingJournal{}
	s := &sliceSink{}
	d := NewDecoder(j, s)

	d.Feed([]byte("I (42) boot: nothing interesting\n"))

	assert.Equal(t, []string{"I (42) boot: nothing interesting"}, j.raw)
	assert.Empty(t, j.records)
	assert.Equal(t, []string{"I (42) boot: nothing interesting"}, s.lines)
}

func TestDecoderClassifiedLine(t *testing.T) {
	j := &recordingJournal{}
	s := &sliceSink{}
	d := NewDecoder(j, s)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.SetClock(func() time.Time { return fixed })

	var seen []models.RecordKind
	d.OnRecord = func(rec *models.Record) { seen = append(seen, rec.Kind) }

	var echo bytes.Buffer
	d.SetEcho(&echo)

	d.Feed([]byte("Got IP: 10.1.1.1\r\n[Mem] hb hf=1 hm=2 hl=3 hi=4 hin=5 frag=6 pf=7 pm=8 pl=9\n"))

	assert.Len(t, j.raw, 2)
	assert.Len(t, s.lines, 2)
	if assert.Len(t, j.records, 2) {
		assert.Equal(t, fixed, j.records[0].TS)
		assert.Equal(t, models.KindNetwork, j.records[0].Kind)
		assert.Equal(t, models.KindMem, j.records[1].Kind)
	}
	assert.Equal(t, []models.RecordKind{models.KindNetwork, models.KindMem}, seen)
	assert.Contains(t, echo.String(), "[serial] Got IP: 10.1.1.1")

	lines, classified := d.Stats()
	assert.Equal(t, 2, lines)
	assert.Equal(t, 2, classified)
}
