package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esp32-tools/memharness/internal/models"
)

var start = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestRunDirName(t *testing.T) {
	assert.Equal(t, "20260203_040506_s1", RunDirName(start, "s1"))
	assert.Equal(t, "20260203_040506_my_scenario", RunDirName(start, "my scenario/"))
	assert.Equal(t, "20260203_040506_run", RunDirName(start, "///"))
}

func TestCreateRunLayout(t *testing.T) {
	root := t.TempDir()
	j, err := CreateRun(root, "s1", start)
	require.NoError(t, err)
	defer j.Close()

	assert.Equal(t, filepath.Join(root, "20260203_040506_s1"), j.Artifacts.Dir)
	for _, p := range []string{j.Artifacts.SerialLog, j.Artifacts.Events, j.Artifacts.Mem, j.Artifacts.Tasks, j.Artifacts.Health} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	// Same second, same scenario: a second directory is created.
	j2, err := CreateRun(root, "s1", start)
	require.NoError(t, err)
	defer j2.Close()
	assert.Equal(t, filepath.Join(root, "20260203_040506_s1_2"), j2.Artifacts.Dir)
}

func TestRunJournalRouting(t *testing.T) {
	j, err := CreateRun(t.TempDir(), "s1", start)
	require.NoError(t, err)

	mem := &models.Record{Kind: models.KindMem, TS: start, Line: "m", Mem: &models.MemSnapshot{Tag: "hb", HIN: 5}}
	task := &models.Record{Kind: models.KindTask, TS: start, Line: "t", Task: &models.TaskSnapshot{Name: "loop", StackRem: 100}}
	ip := &models.Record{Kind: models.KindNetwork, TS: start, Line: "i", Network: &models.NetworkEvent{IP: "10.0.0.2"}}
	raw := &models.Record{Kind: models.KindRaw, TS: start, Line: "r"}

	for _, rec := range []*models.Record{mem, task, ip, raw} {
		require.NoError(t, j.AppendRaw(rec.Line))
		require.NoError(t, j.AppendRecord(rec))
	}
	require.NoError(t, j.AppendEvent(models.NoteEvent{TS: start, Type: models.EventNote, Message: "<hello>"}))
	require.NoError(t, j.AppendHealth(models.HealthProbe{TS: start, Label: "baseline_a", Skipped: true}))
	require.NoError(t, j.Close())

	assert.Equal(t, []string{"m", "t", "i", "r"}, readLines(t, j.Artifacts.SerialLog))

	events := readLines(t, j.Artifacts.Events)
	require.Len(t, events, 4)
	assert.Contains(t, events[0], `"type":"mem"`)
	assert.Contains(t, events[0], `"hin":5`)
	assert.Contains(t, events[2], `"ip":"10.0.0.2"`)
	assert.Contains(t, events[3], `<hello>`)

	memRows, err := ReadJSONL[models.MemRow](j.Artifacts.Mem)
	require.NoError(t, err)
	require.Len(t, memRows, 1)
	assert.Equal(t, "hb", memRows[0].Tag)
	assert.Equal(t, start, memRows[0].TS)

	taskRows, err := ReadJSONL[models.TaskRow](j.Artifacts.Tasks)
	require.NoError(t, err)
	require.Len(t, taskRows, 1)
	assert.Equal(t, uint64(100), taskRows[0].StackRem)

	health := readLines(t, j.Artifacts.Health)
	require.Len(t, health, 1)
	var probe models.HealthProbe
	require.NoError(t, json.Unmarshal([]byte(health[0]), &probe))
	assert.Equal(t, "health", probe.Type)
	assert.True(t, probe.Skipped)

	assert.Error(t, j.AppendRaw("after close"))
}

func TestReadJSONLSkipsTornRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"tag":"a","hin":1}`+"\n\n"+`{"tag":"b","hi`), 0o644))

	rows, err := ReadJSONL[models.MemRow](path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Tag)
}

func TestReadJSONLMissingFile(t *testing.T) {
	_, err := ReadJSONL[models.MemRow](filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestWriteFileSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, WriteFileSync(path, []byte("one")))
	require.NoError(t, WriteFileSync(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListAndResolveRuns(t *testing.T) {
	root := t.TempDir()
	older, err := CreateRun(root, "s1", start)
	require.NoError(t, err)
	older.Close()
	newer, err := CreateRun(root, "s2", start.Add(time.Hour))
	require.NoError(t, err)
	newer.Close()
	require.NoError(t, os.WriteFile(newer.Artifacts.SummaryJSON, []byte("{}"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "not-a-run"), 0o755))

	runs, err := ListRuns(root, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "20260203_050506_s2", runs[0].ID)
	assert.True(t, runs[0].HasSummary)
	assert.False(t, runs[1].HasSummary)

	runs, err = ListRuns(root, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	dir, err := ResolveRun(root, "20260203_040506_s1")
	require.NoError(t, err)
	assert.Equal(t, older.Artifacts.Dir, dir)

	for _, bad := range []string{"", "..", "../etc", "a/b", ".hidden"} {
		_, err := ResolveRun(root, bad)
		assert.True(t, errors.Is(err, ErrInvalidRunID), bad)
	}
	_, err = ResolveRun(root, "20990101_000000_x")
	assert.Error(t, err)
}
