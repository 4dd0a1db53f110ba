package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esp32-tools/memharness/internal/models"
)

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemSnapshotRoundTrip(t *testing.T) {
	snaps := []models.MemSnapshot{
		{Tag: "boot", HF: 180000, HM: 170000, HL: 110000, HI: 120000, HIN: 115000, Frag: 12, PF: 4000000, PM: 3900000, PL: 3800000},
		{Tag: "hb", Frag: 0},
		{Tag: "portal_get_/", HF: 1, HM: 2, HL: 3, HI: 4, HIN: 5, Frag: 100, PF: 7, PM: 8, PL: 9},
		{Tag: "big", HF: 18446744073709551615, HIN: 4294967295},
	}

	r := NewRegistry()
	for _, want := range snaps {
		t.Run(want.Tag, func(t *testing.T) {
			rec := r.Classify(want.Line(), ts)
			require.Equal(t, models.KindMem, rec.Kind)
			require.NotNil(t, rec.Mem)
			assert.Equal(t, want, *rec.Mem)
			assert.Equal(t, want.Line(), rec.Mem.Line())
		})
	}
}

func TestClassify(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		line string
		kind models.RecordKind
	}{
		{"mem", "[Mem] hb hf=1 hm=2 hl=3 hi=4 hin=5 frag=6 pf=7 pm=8 pl=9", models.KindMem},
		{"mem with trailing text", "[Mem] hb hf=1 hm=2 hl=3 hi=4 hin=5 frag=6 pf=7 pm=8 pl=9 extra", models.KindMem},
		{"tripwire", "[Mem] TRIPWIRE fired tag=portal hin=98000B < 100000B (hf=1B hl=2B frag=3% pf=4B pl=5B)", models.KindTripwire},
		{"task", "[Task] name=async_tcp prio=3 core=1 stack_rem=1800B", models.KindTask},
		{"unpinned task", "[Task] name=loopTask prio=1 core=-1 stack_rem=5000B", models.KindTask},
		{"watermark", "[Portal] AsyncTCP stack watermark: task=async_tcp rem=420 units (1680 B), unit=4 B, CONFIG_ASYNC_TCP_STACK_SIZE(raw)=8192", models.KindStackWatermark},
		{"ip", "[WiFi] Got IP: 192.168.1.42", models.KindNetwork},
		{"firmware", "[Main] Firmware: v1.4.2-rc1", models.KindFirmware},
		{"ready", "[Main] Setup complete", models.KindReady},
		{"guru", "Guru Meditation Error: Core  1 panic'ed (LoadProhibited)", models.KindPanic},
		{"brownout", "Brownout detector was triggered", models.KindPanic},
		{"raw", "I (123) wifi: connected", models.KindRaw},
		{"empty", "", models.KindRaw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := r.Classify(tt.line, ts)
			assert.Equal(t, tt.kind, rec.Kind)
			assert.Equal(t, tt.line, rec.Line)
			assert.Equal(t, ts, rec.TS)
		})
	}
}

func TestClassifyPayloads(t *testing.T) {
	r := NewRegistry()

	rec := r.Classify("[Mem] TRIPWIRE fired tag=portal hin=98000B < 100000B", ts)
	require.NotNil(t, rec.Tripwire)
	assert.Equal(t, models.TripwireEvent{Tag: "portal", HIN: 98000, Threshold: 100000}, *rec.Tripwire)

	rec = r.Classify("[Task] name=loopTask prio=1 core=-1 stack_rem=5000B", ts)
	require.NotNil(t, rec.Task)
	assert.Equal(t, models.TaskSnapshot{Name: "loopTask", Prio: 1, Core: -1, StackRem: 5000}, *rec.Task)

	rec = r.Classify("[Portal] AsyncTCP stack watermark: task=async_tcp rem=420 units (1680 B), unit=4 B, CONFIG_ASYNC_TCP_STACK_SIZE(raw)=8192", ts)
	require.NotNil(t, rec.Watermark)
	assert.Equal(t, uint64(1680), rec.Watermark.RemBytes)
	assert.Equal(t, uint64(8192), rec.Watermark.CfgBytes)

	rec = r.Classify("Got IP: 10.0.0.7", ts)
	require.NotNil(t, rec.Network)
	assert.Equal(t, "10.0.0.7", rec.Network.IP)

	rec = r.Classify("Firmware: v2.0.0", ts)
	require.NotNil(t, rec.Firmware)
	assert.Equal(t, "2.0.0", rec.Firmware.Version)

	rec = r.Classify("Guru Meditation Error: Core 0 panic'ed", ts)
	require.NotNil(t, rec.Panic)
	assert.Equal(t, "guru_meditation", rec.Panic.Kind)
}

func TestMalformedNumbersFallBackToRaw(t *testing.T) {
	r := NewRegistry()

	lines := []string{
		// hf overflows uint64
		"[Mem] hb hf=99999999999999999999999 hm=2 hl=3 hi=4 hin=5 frag=6 pf=7 pm=8 pl=9",
		// fragmentation above 100
		"[Mem] hb hf=1 hm=2 hl=3 hi=4 hin=5 frag=101 pf=7 pm=8 pl=9",
		// field glued to text
		"[Mem] hb hf=1 hm=2 hl=3 hi=4 hin=5 frag=6 pf=7 pm=8 pl=9abc",
		// truncated mid-line
		"[Mem] hb hf=1 hm=2 hl=3 hi=4 hin=5 fr",
		// tripwire whose value is not below the threshold
		"[Mem] TRIPWIRE fired tag=x hin=100000B < 100000B",
		// core below -1
		"[Task] name=t prio=1 core=-2 stack_rem=10B",
		// invalid octet
		"Got IP: 300.1.1.1",
	}
	for _, line := range lines {
		rec := r.Classify(line, ts)
		assert.Equal(t, models.KindRaw, rec.Kind, line)
	}
}

func TestPrecedenceIsDeclared(t *testing.T) {
	assert.Equal(t, []models.RecordKind{
		models.KindMem,
		models.KindTripwire,
		models.KindTask,
		models.KindStackWatermark,
		models.KindNetwork,
		models.KindFirmware,
		models.KindReady,
		models.KindPanic,
	}, NewRegistry().Kinds())
}

func TestPrecedenceFirstMatchWins(t *testing.T) {
	r := NewRegistry()

	// A mem line that also contains a crash marker stays a mem record.
	rec := r.Classify("[Mem] brownout hf=1 hm=2 hl=3 hi=4 hin=5 frag=6 pf=7 pm=8 pl=9", ts)
	assert.Equal(t, models.KindMem, rec.Kind)

	// An IP announcement beats a firmware banner on the same line.
	rec = r.Classify("Got IP: 10.0.0.1 Firmware: v1.0", ts)
	assert.Equal(t, models.KindNetwork, rec.Kind)
}

func TestMatchCrashOrder(t *testing.T) {
	kind, ok := MatchCrash("Guru Meditation Error: Core 1 panic'ed (abort())")
	assert.True(t, ok)
	assert.Equal(t, "guru_meditation", kind)

	kind, ok = MatchCrash("abort() was called at PC 0x400d")
	assert.True(t, ok)
	assert.Equal(t, "abort", kind)

	kind, ok = MatchCrash("backtrace: lowercase still counts")
	assert.True(t, ok)
	assert.Equal(t, "backtrace", kind)

	_, ok = MatchCrash("  Backtrace: indented is not a marker")
	assert.False(t, ok)
}
