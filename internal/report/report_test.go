package report

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/storage"
)

func newSummary(t *testing.T) (*models.RunSummary, *storage.RunJournal) {
	t.Helper()
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	j, err := storage.CreateRun(t.TempDir(), "s1", start)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	return &models.RunSummary{
		ID:        "abc",
		Scenario:  models.ScenarioInfo{Key: "s1", Title: "Baseline boot + idle", Description: "Reboot and idle."},
		StartedAt: start,
		EndedAt:   start.Add(time.Minute),
		Port:      "/dev/ttyUSB0",
		Baud:      115200,
		FinalIP:   "10.0.0.7",
		Git:       models.GitInfo{Commit: "deadbee", Branch: "main", Dirty: true},
		Artifacts: j.Artifacts,

		SerialLines:     12,
		ClassifiedLines: 7,
	}, j
}

func TestWriteSummaryRoundTrip(t *testing.T) {
	sum, j := newSummary(t)
	require.NoError(t, j.AppendRecord(&models.Record{
		Kind: models.KindMem,
		Mem:  &models.MemSnapshot{Tag: "boot", HF: 1, HM: 2, HL: 3, HI: 4, HIN: 5, Frag: 6, PF: 7, PM: 8, PL: 9},
	}))
	sum.Derived = &models.DerivedMetrics{
		Mem: &models.MemStats{Samples: 1, HinMin: 5, HmMin: 2, PfMin: 7, PmMin: 8, FragMax: 6, Tags: []string{"boot"}},
		Tripwire: models.TripwireFinding{
			Fired: true, Tag: "hb", Hin: 98000, Threshold: 100000,
			WorstStacks: []models.TaskSnapshot{{Name: "async_tcp", StackRem: 600}},
		},
		Panic: models.PanicFinding{Detected: true, Kind: "panic", Line: "x panic'ed", LineNo: 42},
	}

	require.NoError(t, WriteSummary(sum))

	back, err := ReadSummary(sum.Artifacts.SummaryJSON)
	require.NoError(t, err)
	assert.Equal(t, "s1", back.Scenario.Key)
	assert.Equal(t, uint64(5), back.Derived.Mem.HinMin)
	assert.Equal(t, 42, back.Derived.Panic.LineNo)

	md, err := os.ReadFile(sum.Artifacts.SummaryMD)
	require.NoError(t, err)
	text := string(md)
	assert.Contains(t, text, "# Baseline boot + idle (s1)")
	assert.Contains(t, text, "- Firmware: vNone")
	assert.Contains(t, text, "- Dirty: yes")
	assert.Contains(t, text, "- Serial lines: 12 (7 classified)")
	assert.Equal(t, 12, back.SerialLines)
	assert.Contains(t, text, "- Internal heap min (hin_min): 5 B")
	assert.Contains(t, text, "- Max internal fragmentation (frag_max): 6%")
	assert.Contains(t, text, "- Fired: yes (tag=hb hin=98000 B < 100000 B)")
	assert.Contains(t, text, "- Worst stack margins: async_tcp 600B")
	assert.Contains(t, text, "- Detected: yes (kind=panic, line=42)")
	assert.Contains(t, text, "| boot | 1 | 2 | 3 | 4 | 5 | 6 | 7 | 8 | 9 |")
}

func TestRenderMarkdownWithoutData(t *testing.T) {
	sum, _ := newSummary(t)
	text := RenderMarkdown(sum, nil)
	assert.Contains(t, text, "- (no derived metrics; mem.jsonl empty)")
	assert.Contains(t, text, "- (no [Mem] snapshots captured)")
	assert.NotContains(t, text, "## Tripwire")
	assert.NotContains(t, text, "## Panic")
}

func TestWriteComparison(t *testing.T) {
	d := int64(-10000)
	a, b := uint64(100000), uint64(90000)
	var buf bytes.Buffer
	WriteComparison(&buf, &models.Comparison{
		RunA: "a", RunB: "b",
		Tags: []models.TagDelta{
			{Tag: "hb", InA: true, InB: true, Hin: &d, Hm: &d, Frag: &d, Pf: &d},
			{Tag: "only_a", InA: true},
		},
		HinMinA: &a, HinMinB: &b, HinMinDelta: &d,
	})
	out := buf.String()
	assert.Contains(t, out, "- hb: hin=-10000  hm=-10000  frag=-10000  pf=-10000")
	assert.Contains(t, out, "- only_a: hin=n/a  hm=n/a  frag=n/a  pf=n/a")
	assert.Contains(t, out, "- hin_min: -10000 B")
}

func TestGitInfoOutsideRepo(t *testing.T) {
	info := GitInfo(context.Background(), t.TempDir())
	assert.Empty(t, info.Commit)
	assert.False(t, info.Dirty)
}
