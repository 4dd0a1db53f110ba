// Package metrics derives stability findings from a finished run's
// journals and compares runs against each other.
package metrics

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/parser"
	"github.com/esp32-tools/memharness/internal/storage"
)

// WorstStackCount is how many task rows a fired tripwire reports.
const WorstStackCount = 6

// Derive analyses the journals of one run. Each analysis tolerates a
// missing or empty journal on its own.
func Derive(art models.RunArtifacts) *models.DerivedMetrics {
	return &models.DerivedMetrics{
		Mem:      LoadMemStats(art.Mem),
		Tripwire: DetectTripwire(art.Events, art.Tasks),
		Panic:    DetectPanic(art.SerialLog),
	}
}

// LoadMemStats reads mem.jsonl; nil means no data.
func LoadMemStats(path string) *models.MemStats {
	rows, err := storage.ReadJSONL[models.MemRow](path)
	if err != nil {
		return nil
	}
	return ComputeMemStats(rows)
}

// ComputeMemStats returns minima of hin, hm, pf, pm, the fragmentation
// maximum and the sorted distinct tags. Nil when rows is empty.
func ComputeMemStats(rows []models.MemRow) *models.MemStats {
	if len(rows) == 0 {
		return nil
	}

	first := rows[0]
	st := &models.MemStats{
		HinMin:  first.HIN,
		HmMin:   first.HM,
		PfMin:   first.PF,
		PmMin:   first.PM,
		FragMax: first.Frag,
	}
	tags := make(map[string]struct{})
	for _, r := range rows {
		st.Samples++
		st.HinMin = minU(st.HinMin, r.HIN)
		st.HmMin = minU(st.HmMin, r.HM)
		st.PfMin = minU(st.PfMin, r.PF)
		st.PmMin = minU(st.PmMin, r.PM)
		if r.Frag > st.FragMax {
			st.FragMax = r.Frag
		}
		if r.Tag != "" {
			tags[r.Tag] = struct{}{}
		}
	}

	st.Tags = make([]string, 0, len(tags))
	for t := range tags {
		st.Tags = append(st.Tags, t)
	}
	sort.Strings(st.Tags)
	return st
}

// DetectTripwire reports the first tripwire event in events.jsonl and, when
// it fired, the tasks with the least stack remaining.
func DetectTripwire(eventsPath, tasksPath string) models.TripwireFinding {
	var found *models.TripwireRow
	_ = storage.ScanLines(eventsPath, func(_ int, line []byte) error {
		var hdr models.EventHeader
		if json.Unmarshal(line, &hdr) != nil || hdr.Type != models.KindTripwire {
			return nil
		}
		var row models.TripwireRow
		if json.Unmarshal(line, &row) != nil {
			return nil
		}
		found = &row
		return errStop
	})
	if found == nil {
		return models.TripwireFinding{Fired: false}
	}

	ts := found.TS
	return models.TripwireFinding{
		Fired:       true,
		TS:          &ts,
		Tag:         found.Tag,
		Hin:         found.HIN,
		Threshold:   found.Threshold,
		WorstStacks: WorstStacks(tasksPath, WorstStackCount),
	}
}

// WorstStacks returns up to n task rows with the smallest stack_rem, ascending.
func WorstStacks(tasksPath string, n int) []models.TaskSnapshot {
	rows, err := storage.ReadJSONL[models.TaskRow](tasksPath)
	if err != nil {
		return nil
	}
	var tasks []models.TaskSnapshot
	for _, r := range rows {
		if r.Type != "" && r.Type != models.KindTask {
			continue
		}
		if r.Name == "" {
			continue
		}
		tasks = append(tasks, r.TaskSnapshot)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].StackRem < tasks[j].StackRem
	})
	if len(tasks) > n {
		tasks = tasks[:n]
	}
	return tasks
}

// DetectPanic scans the raw serial mirror for the first crash marker.
func DetectPanic(serialPath string) models.PanicFinding {
	var finding models.PanicFinding
	_ = storage.ScanLines(serialPath, func(lineNo int, line []byte) error {
		s := strings.TrimRight(string(line), "\r")
		kind, ok := parser.MatchCrash(s)
		if !ok {
			return nil
		}
		finding = models.PanicFinding{Detected: true, Kind: kind, Line: s, LineNo: lineNo}
		return errStop
	})
	return finding
}

var errStop = errors.New("stop scan")

func minU(a, b uint64) uint64 {
	if b < a {
		return b
	}
	return a
}
