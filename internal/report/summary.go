// Package report renders run summaries and comparisons for people and tools.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/storage"
)

// WriteSummary writes summary.json and summary.md into the run directory.
// Each document is attempted even when the other fails.
func WriteSummary(sum *models.RunSummary) error {
	var jsonErr error
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		jsonErr = fmt.Errorf("encoding summary: %w", err)
	} else {
		jsonErr = storage.WriteFileSync(sum.Artifacts.SummaryJSON, append(data, '\n'))
	}

	rows, _ := storage.ReadJSONL[models.MemRow](sum.Artifacts.Mem)
	mdErr := storage.WriteFileSync(sum.Artifacts.SummaryMD, []byte(RenderMarkdown(sum, rows)))

	return errors.Join(jsonErr, mdErr)
}

// ReadSummary loads a summary.json written by WriteSummary.
func ReadSummary(path string) (*models.RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sum models.RunSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &sum, nil
}

// RenderMarkdown produces the human summary of a run.
func RenderMarkdown(sum *models.RunSummary, rows []models.MemRow) string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	title := sum.Scenario.Title
	if title == "" {
		title = "Memory test run"
	}
	line("# %s (%s)", title, sum.Scenario.Key)
	if sum.Scenario.Description != "" {
		line("")
		line("%s", sum.Scenario.Description)
	}

	line("")
	line("## Run")
	line("- Start: %s", formatTime(sum.StartedAt))
	line("- End: %s", formatTime(sum.EndedAt))
	line("- Firmware: v%s", orNone(sum.FirmwareVersion))
	line("- IP: %s", orNone(sum.FinalIP))
	line("- Serial: %s @ %d", sum.Port, sum.Baud)
	line("- Serial lines: %d (%d classified)", sum.SerialLines, sum.ClassifiedLines)
	line("- Exit code: %d", sum.ExitCode)
	if sum.BodyError != "" {
		line("- Error: %s", sum.BodyError)
	}

	if sum.Git.Commit != "" || sum.Git.Branch != "" {
		line("")
		line("## Git")
		if sum.Git.Branch != "" {
			line("- Branch: %s", sum.Git.Branch)
		}
		if sum.Git.Commit != "" {
			line("- Commit: %s", sum.Git.Commit)
		}
		if sum.Git.Dirty {
			line("- Dirty: yes")
		}
	}

	line("")
	line("## Derived")
	var d models.DerivedMetrics
	if sum.Derived != nil {
		d = *sum.Derived
	}
	if d.Mem != nil {
		line("- Internal heap min (hin_min): %d B", d.Mem.HinMin)
		line("- Internal heap min-available (hm_min): %d B", d.Mem.HmMin)
		line("- PSRAM free min (pf_min): %d B", d.Mem.PfMin)
		line("- PSRAM min-available (pm_min): %d B", d.Mem.PmMin)
		line("- Max internal fragmentation (frag_max): %d%%", d.Mem.FragMax)
		if len(d.Mem.Tags) > 0 {
			line("- Tags: %s", strings.Join(d.Mem.Tags, ", "))
		}
	} else {
		line("- (no derived metrics; mem.jsonl empty)")
	}

	if d.Tripwire.Fired {
		line("")
		line("## Tripwire")
		line("- Fired: yes (tag=%s hin=%d B < %d B)", d.Tripwire.Tag, d.Tripwire.Hin, d.Tripwire.Threshold)
		if len(d.Tripwire.WorstStacks) > 0 {
			parts := make([]string, 0, len(d.Tripwire.WorstStacks))
			for _, w := range d.Tripwire.WorstStacks {
				parts = append(parts, fmt.Sprintf("%s %dB", w.Name, w.StackRem))
			}
			line("- Worst stack margins: %s", strings.Join(parts, ", "))
		}
	}

	if d.Panic.Detected {
		line("")
		line("## Panic")
		kind := d.Panic.Kind
		if kind == "" {
			kind = "unknown"
		}
		line("- Detected: yes (kind=%s, line=%d)", kind, d.Panic.LineNo)
		if d.Panic.Line != "" {
			line("- Marker: %s", d.Panic.Line)
		}
	}

	if len(sum.States) > 0 {
		line("")
		line("## States")
		for _, s := range sum.States {
			line("- %s %s", formatTime(s.At), s.State)
		}
	}

	line("")
	line("## Artifacts")
	a := sum.Artifacts
	for _, kv := range [][2]string{
		{"summary", a.SummaryJSON},
		{"summary_md", a.SummaryMD},
		{"serial", a.SerialLog},
		{"structured", a.Events},
		{"mem", a.Mem},
		{"tasks", a.Tasks},
		{"health", a.Health},
	} {
		if kv[1] != "" {
			line("- %s: %s", kv[0], kv[1])
		}
	}

	line("")
	line("## Mem snapshots")
	if len(rows) == 0 {
		line("- (no [Mem] snapshots captured)")
	} else {
		line("| tag | hf | hm | hl | hi | hin | frag%% | pf | pm | pl |")
		line("|---|---:|---:|---:|---:|---:|---:|---:|---:|---:|")
		for _, r := range rows {
			line("| %s | %d | %d | %d | %d | %d | %d | %d | %d | %d |",
				r.Tag, r.HF, r.HM, r.HL, r.HI, r.HIN, r.Frag, r.PF, r.PM, r.PL)
		}
	}
	return b.String()
}
