// Package parser frames the device's serial byte stream into lines and
// classifies each line into a typed record.
package parser

import (
	"net/netip"
	"regexp"
	"strconv"

	"github.com/esp32-tools/memharness/internal/models"
)

// Matcher recognizes one line grammar. Match fills rec and returns true on
// success; a line whose shape matches but whose numbers do not decode is
// reported as no match so classification continues down the list.
type Matcher interface {
	Kind() models.RecordKind
	Match(line string, rec *models.Record) bool
}

var (
	memRegex       = regexp.MustCompile(`^\[Mem\]\s+(\S+)\s+hf=(\d+)\s+hm=(\d+)\s+hl=(\d+)\s+hi=(\d+)\s+hin=(\d+)\s+frag=(\d+)\s+pf=(\d+)\s+pm=(\d+)\s+pl=(\d+)\b`)
	tripwireRegex  = regexp.MustCompile(`^\[Mem\]\s+TRIPWIRE fired\s+tag=(\S+)\s+hin=(\d+)B\s+<\s+(\d+)B`)
	taskRegex      = regexp.MustCompile(`^\[Task\]\s+name=(\S+)\s+prio=(\d+)\s+core=(-?\d+)\s+stack_rem=(\d+)B`)
	watermarkRegex = regexp.MustCompile(`^\[Portal\]\s+AsyncTCP stack watermark:\s+task=(\S+)\s+rem=(\d+)\s+units\s+\((\d+)\s+B\),\s+unit=(\d+)\s+B,\s+CONFIG_ASYNC_TCP_STACK_SIZE\(raw\)=(\d+)`)
	ipRegex        = regexp.MustCompile(`Got IP:\s*(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	firmwareRegex  = regexp.MustCompile(`Firmware:\s*v([0-9A-Za-z._-]+)`)
)

// Patterns the orchestrator waits on.
var (
	ReadyPattern     = regexp.MustCompile(`^\[Main\]\s+Setup complete\b`)
	HeartbeatPattern = regexp.MustCompile(`\[Mem\]\s+hb\b`)
	MQTTPattern      = regexp.MustCompile(`\[Mem\]\s+mqtt_\S+\b`)
	IPPattern        = ipRegex
	SystemBoot       = regexp.MustCompile(`System Boot`)

	// BootMarkers confirm the device actually restarted.
	BootMarkers = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^ESP-ROM:esp32`),
		regexp.MustCompile(`(?i)^rst:`),
		SystemBoot,
	}
)

// CrashMarker is one category of crash evidence in the raw log.
type CrashMarker struct {
	Kind    string
	Pattern *regexp.Regexp
}

// CrashMarkers are evaluated in order; the first match names the category.
var CrashMarkers = []CrashMarker{
	{Kind: "guru_meditation", Pattern: regexp.MustCompile(`(?i)Guru Meditation Error`)},
	{Kind: "panic", Pattern: regexp.MustCompile(`(?i)panic'ed`)},
	{Kind: "stack_canary", Pattern: regexp.MustCompile(`(?i)Stack canary watchpoint triggered`)},
	{Kind: "backtrace", Pattern: regexp.MustCompile(`(?i)^Backtrace:`)},
	{Kind: "abort", Pattern: regexp.MustCompile(`(?i)abort\(\)`)},
	{Kind: "brownout", Pattern: regexp.MustCompile(`(?i)brownout`)},
}

// MatchCrash returns the first crash category whose pattern matches line.
func MatchCrash(line string) (string, bool) {
	for _, m := range CrashMarkers {
		if m.Pattern.MatchString(line) {
			return m.Kind, true
		}
	}
	return "", false
}

// parseCount decodes a non-negative byte count, rejecting overflow.
func parseCount(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

func parseCounts(fields []string) ([]uint64, bool) {
	out := make([]uint64, len(fields))
	for i, f := range fields {
		v, ok := parseCount(f)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

type memMatcher struct{}

func (memMatcher) Kind() models.RecordKind { return models.KindMem }

func (memMatcher) Match(line string, rec *models.Record) bool {
	m := memRegex.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	v, ok := parseCounts(m[2:])
	if !ok || v[5] > 100 {
		return false
	}
	rec.Mem = &models.MemSnapshot{
		Tag: m[1],
		HF:  v[0], HM: v[1], HL: v[2], HI: v[3], HIN: v[4],
		Frag: int(v[5]),
		PF:   v[6], PM: v[7], PL: v[8],
	}
	return true
}

type tripwireMatcher struct{}

func (tripwireMatcher) Kind() models.RecordKind { return models.KindTripwire }

func (tripwireMatcher) Match(line string, rec *models.Record) bool {
	m := tripwireRegex.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	v, ok := parseCounts(m[2:])
	if !ok || v[0] >= v[1] {
		return false
	}
	rec.Tripwire = &models.TripwireEvent{Tag: m[1], HIN: v[0], Threshold: v[1]}
	return true
}

type taskMatcher struct{}

func (taskMatcher) Kind() models.RecordKind { return models.KindTask }

func (taskMatcher) Match(line string, rec *models.Record) bool {
	m := taskRegex.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	prio, err := strconv.Atoi(m[2])
	if err != nil {
		return false
	}
	core, err := strconv.Atoi(m[3])
	if err != nil || core < -1 {
		return false
	}
	stack, ok := parseCount(m[4])
	if !ok {
		return false
	}
	rec.Task = &models.TaskSnapshot{Name: m[1], Prio: prio, Core: core, StackRem: stack}
	return true
}

type watermarkMatcher struct{}

func (watermarkMatcher) Kind() models.RecordKind { return models.KindStackWatermark }

func (watermarkMatcher) Match(line string, rec *models.Record) bool {
	m := watermarkRegex.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	v, ok := parseCounts(m[2:])
	if !ok {
		return false
	}
	rec.Watermark = &models.StackWatermark{
		Subsystem: "async_tcp",
		Task:      m[1],
		RemUnits:  v[0],
		RemBytes:  v[1],
		UnitBytes: v[2],
		CfgBytes:  v[3],
	}
	return true
}

type networkMatcher struct{}

func (networkMatcher) Kind() models.RecordKind { return models.KindNetwork }

func (networkMatcher) Match(line string, rec *models.Record) bool {
	m := ipRegex.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	addr, err := netip.ParseAddr(m[1])
	if err != nil || !addr.Is4() {
		return false
	}
	rec.Network = &models.NetworkEvent{IP: addr.String()}
	return true
}

type firmwareMatcher struct{}

func (firmwareMatcher) Kind() models.RecordKind { return models.KindFirmware }

func (firmwareMatcher) Match(line string, rec *models.Record) bool {
	m := firmwareRegex.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	rec.Firmware = &models.FirmwareEvent{Version: m[1]}
	return true
}

type readyMatcher struct{}

func (readyMatcher) Kind() models.RecordKind { return models.KindReady }

func (readyMatcher) Match(line string, rec *models.Record) bool {
	if !ReadyPattern.MatchString(line) {
		return false
	}
	rec.Ready = &models.ReadyMarker{Marker: "setup_complete"}
	return true
}

type panicMatcher struct{}

func (panicMatcher) Kind() models.RecordKind { return models.KindPanic }

func (panicMatcher) Match(line string, rec *models.Record) bool {
	kind, ok := MatchCrash(line)
	if !ok {
		return false
	}
	rec.Panic = &models.PanicMarker{Kind: kind}
	return true
}
