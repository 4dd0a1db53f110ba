package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/esp32-tools/memharness/internal/models"
)

// Artifact file names inside a run directory.
const (
	SerialLogFile   = "serial.log"
	EventsFile      = "events.jsonl"
	MemFile         = "mem.jsonl"
	TasksFile       = "tasks.jsonl"
	HealthFile      = "health.jsonl"
	SummaryJSONFile = "summary.json"
	SummaryMDFile   = "summary.md"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// ErrInvalidRunID is returned by ResolveRun for ids that escape the root.
var ErrInvalidRunID = errors.New("invalid run id")

// ArtifactsFor returns the artifact paths of the run directory dir.
func ArtifactsFor(dir string) models.RunArtifacts {
	return models.RunArtifacts{
		Dir:         dir,
		SerialLog:   filepath.Join(dir, SerialLogFile),
		Events:      filepath.Join(dir, EventsFile),
		Mem:         filepath.Join(dir, MemFile),
		Tasks:       filepath.Join(dir, TasksFile),
		Health:      filepath.Join(dir, HealthFile),
		SummaryJSON: filepath.Join(dir, SummaryJSONFile),
		SummaryMD:   filepath.Join(dir, SummaryMDFile),
	}
}

// RunDirName formats "YYYYmmdd_HHMMSS_<scenario>".
func RunDirName(start time.Time, scenario string) string {
	safe := strings.Trim(unsafeNameChars.ReplaceAllString(scenario, "_"), "_")
	if safe == "" {
		safe = "run"
	}
	return start.Format("20060102_150405") + "_" + safe
}

// RunJournal is the set of append-only journals of one run.
type RunJournal struct {
	Artifacts models.RunArtifacts

	raw    *WAL
	events *WAL
	mem    *WAL
	tasks  *WAL
	health *WAL
}

// CreateRun makes a fresh run directory under outDir and opens its journals.
// A name collision within the same second gets a numeric suffix.
func CreateRun(outDir, scenario string, start time.Time) (*RunJournal, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	base := filepath.Join(outDir, RunDirName(start, scenario))
	dir := base
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating run directory: %w", err)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}

	j := &RunJournal{Artifacts: ArtifactsFor(dir)}
	opens := []struct {
		dst  **WAL
		path string
	}{
		{&j.raw, j.Artifacts.SerialLog},
		{&j.events, j.Artifacts.Events},
		{&j.mem, j.Artifacts.Mem},
		{&j.tasks, j.Artifacts.Tasks},
		{&j.health, j.Artifacts.Health},
	}
	for _, o := range opens {
		w, err := OpenWAL(o.path)
		if err != nil {
			j.Close()
			return nil, err
		}
		*o.dst = w
	}
	return j, nil
}

// AppendRaw mirrors one serial line verbatim.
func (j *RunJournal) AppendRaw(line string) error {
	return j.raw.AppendLine(line)
}

// AppendRecord journals a classified record to events.jsonl and to its
// dedicated journal when it has one.
func (j *RunJournal) AppendRecord(rec *models.Record) error {
	row := rec.Row()
	if row == nil {
		return nil
	}
	if err := j.events.AppendJSON(row); err != nil {
		return err
	}
	switch rec.Kind {
	case models.KindMem:
		return j.mem.AppendJSON(row)
	case models.KindTask, models.KindStackWatermark:
		return j.tasks.AppendJSON(row)
	}
	return nil
}

// AppendEvent journals an orchestrator event such as an HTTP call or a note.
func (j *RunJournal) AppendEvent(v interface{}) error {
	return j.events.AppendJSON(v)
}

// AppendHealth journals one health probe, skipped or not.
func (j *RunJournal) AppendHealth(p models.HealthProbe) error {
	if p.Type == "" {
		p.Type = "health"
	}
	return j.health.AppendJSON(p)
}

// Close closes every journal, returning the first error.
func (j *RunJournal) Close() error {
	var first error
	for _, w := range []*WAL{j.raw, j.events, j.mem, j.tasks, j.health} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunEntry describes one run directory under an artifacts root.
type RunEntry struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	ModTime    time.Time `json:"modTime"`
	HasSummary bool      `json:"hasSummary"`
}

// ListRuns returns run directories under root, newest first.
func ListRuns(root string, limit int) ([]RunEntry, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading artifacts root: %w", err)
	}

	var list []RunEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, SerialLogFile)); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		_, sumErr := os.Stat(filepath.Join(dir, SummaryJSONFile))
		list = append(list, RunEntry{
			ID:         e.Name(),
			Path:       dir,
			ModTime:    info.ModTime(),
			HasSummary: sumErr == nil,
		})
	}

	// Run names start with a timestamp, so name order is start order.
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID > list[j].ID
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// ResolveRun maps a run id to its directory under root.
func ResolveRun(root, id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	dir := filepath.Join(root, id)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("run not found: %s: %w", id, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("run not found: %s", id)
	}
	return dir, nil
}
