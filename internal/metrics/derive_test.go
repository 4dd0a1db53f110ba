package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/parser"
	"github.com/esp32-tools/memharness/internal/storage"
)

var ts0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// writeRun feeds serial lines through the real decoder into a fresh run dir.
func writeRun(t *testing.T, lines ...string) models.RunArtifacts {
	t.Helper()
	j, err := storage.CreateRun(t.TempDir(), "s1", ts0)
	require.NoError(t, err)

	dec := parser.NewDecoder(j, nil)
	dec.SetClock(func() time.Time { return ts0 })
	dec.Feed([]byte(strings.Join(lines, "\r\n") + "\r\n"))
	require.NoError(t, j.Close())
	return j.Artifacts
}

func memLine(tag string, hin, hm, pf, pm uint64, frag int) string {
	return fmt.Sprintf("[Mem] %s hf=200000 hm=%d hl=90000 hi=150000 hin=%d frag=%d pf=%d pm=%d pl=1000000",
		tag, hm, hin, frag, pf, pm)
}

func TestDeriveMemStats(t *testing.T) {
	art := writeRun(t,
		memLine("boot", 120000, 110000, 4000000, 3900000, 12),
		"noise",
		memLine("hb", 100000, 95000, 3800000, 3700000, 30),
		memLine("hb", 105000, 96000, 3850000, 3750000, 18),
	)

	d := Derive(art)
	require.NotNil(t, d.Mem)
	assert.Equal(t, 3, d.Mem.Samples)
	assert.Equal(t, uint64(100000), d.Mem.HinMin)
	assert.Equal(t, uint64(95000), d.Mem.HmMin)
	assert.Equal(t, uint64(3800000), d.Mem.PfMin)
	assert.Equal(t, uint64(3700000), d.Mem.PmMin)
	assert.Equal(t, 30, d.Mem.FragMax)
	assert.Equal(t, []string{"boot", "hb"}, d.Mem.Tags)
	assert.False(t, d.Tripwire.Fired)
	assert.False(t, d.Panic.Detected)
}

func TestDeriveEmptyRun(t *testing.T) {
	art := writeRun(t, "boot chatter only")
	d := Derive(art)
	assert.Nil(t, d.Mem)
	assert.False(t, d.Tripwire.Fired)
	assert.False(t, d.Panic.Detected)
}

func TestDeriveMissingFiles(t *testing.T) {
	art := storage.ArtifactsFor(filepath.Join(t.TempDir(), "nothing"))
	d := Derive(art)
	assert.Nil(t, d.Mem)
	assert.False(t, d.Tripwire.Fired)
	assert.False(t, d.Panic.Detected)
}

func TestTripwireWithWorstStacks(t *testing.T) {
	art := writeRun(t,
		memLine("hb", 120000, 110000, 4000000, 3900000, 10),
		"[Mem] TRIPWIRE fired tag=hb hin=98000B < 100000B",
		"[Task] name=loopTask prio=1 core=1 stack_rem=3000B",
		"[Task] name=async_tcp prio=3 core=1 stack_rem=600B",
		"[Task] name=wifi prio=23 core=0 stack_rem=2200B",
		"[Portal] AsyncTCP stack watermark: task=async_tcp rem=100 units (400 B), unit=4 B, CONFIG_ASYNC_TCP_STACK_SIZE(raw)=8192",
		"[Task] name=IDLE0 prio=0 core=0 stack_rem=900B",
		"[Task] name=IDLE1 prio=0 core=1 stack_rem=950B",
		"[Task] name=tiT prio=18 core=-1 stack_rem=1500B",
		"[Task] name=mqtt prio=5 core=1 stack_rem=700B",
		"[Task] name=ipc0 prio=24 core=0 stack_rem=5000B",
		"[Mem] TRIPWIRE fired tag=later hin=50000B < 100000B",
	)

	tw := Derive(art).Tripwire
	require.True(t, tw.Fired)
	require.NotNil(t, tw.TS)
	assert.Equal(t, "hb", tw.Tag)
	assert.Equal(t, uint64(98000), tw.Hin)
	assert.Equal(t, uint64(100000), tw.Threshold)

	var names []string
	for _, s := range tw.WorstStacks {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"async_tcp", "mqtt", "IDLE0", "IDLE1", "tiT", "wifi"}, names)
}

func TestPanicLineNumber(t *testing.T) {
	lines := make([]string, 0, 50)
	for i := 1; i < 42; i++ {
		lines = append(lines, fmt.Sprintf("log line %d", i))
	}
	lines = append(lines, "Guru Meditation Error: Core  1 panic'ed (LoadProhibited). Exception was unhandled.")
	lines = append(lines, "Backtrace: 0x400d1234:0x3ffb1230")

	p := Derive(writeRun(t, lines...)).Panic
	require.True(t, p.Detected)
	assert.Equal(t, "guru_meditation", p.Kind)
	assert.Equal(t, 42, p.LineNo)
	assert.Contains(t, p.Line, "Guru Meditation Error")
}

func TestPanicBrownout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, storage.SerialLogFile)
	require.NoError(t, os.WriteFile(path, []byte("ok\r\n\r\nBrownout detector was triggered\r\n"), 0o644))

	p := DetectPanic(path)
	require.True(t, p.Detected)
	assert.Equal(t, "brownout", p.Kind)
	assert.Equal(t, 3, p.LineNo)
	assert.Equal(t, "Brownout detector was triggered", p.Line)
}

func TestComputeMemStatsEmpty(t *testing.T) {
	assert.Nil(t, ComputeMemStats(nil))
}
