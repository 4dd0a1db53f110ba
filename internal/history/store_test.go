package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esp32-tools/memharness/internal/metrics"
	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/report"
	"github.com/esp32-tools/memharness/internal/storage"
)

func writeRun(t *testing.T, root string, start time.Time, firmware string, hins ...uint64) string {
	t.Helper()
	j, err := storage.CreateRun(root, "s1", start)
	require.NoError(t, err)
	for _, hin := range hins {
		require.NoError(t, j.AppendRecord(&models.Record{
			Kind: models.KindMem,
			TS:   start,
			Mem:  &models.MemSnapshot{Tag: "hb", HIN: hin, Frag: 10},
		}))
	}
	require.NoError(t, j.Close())

	sum := &models.RunSummary{
		ID:              "id-" + firmware,
		Scenario:        models.ScenarioInfo{Key: "s1"},
		StartedAt:       start,
		EndedAt:         start.Add(time.Minute),
		FirmwareVersion: firmware,
		Artifacts:       j.Artifacts,
		Derived:         metrics.Derive(j.Artifacts),
	}
	require.NoError(t, report.WriteSummary(sum))
	return j.Artifacts.Dir
}

func TestIngestAndTagHistory(t *testing.T) {
	root := t.TempDir()
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	writeRun(t, root, t0, "1.0.0", 120000, 110000)
	writeRun(t, root, t0.Add(24*time.Hour), "1.1.0", 100000, 105000)
	pending, err := storage.CreateRun(root, "s2", t0.Add(48*time.Hour))
	require.NoError(t, err)
	require.NoError(t, pending.Close())

	s, err := OpenRoot(root)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	n, err := s.Ingest(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	points, err := s.TagHistory(ctx, "hb")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "1.0.0", points[0].Firmware)
	assert.Equal(t, int64(110000), points[0].HinMin)
	assert.Equal(t, int64(2), points[0].Samples)
	assert.Equal(t, "1.1.0", points[1].Firmware)
	assert.Equal(t, int64(100000), points[1].HinMin)

	// Re-ingesting replaces rows instead of duplicating them.
	_, err = s.Ingest(ctx, root)
	require.NoError(t, err)
	count, err := s.RunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	points, err = s.TagHistory(ctx, "hb")
	require.NoError(t, err)
	assert.Equal(t, int64(2), points[0].Samples)
}

func TestIndexFileLocation(t *testing.T) {
	root := t.TempDir()
	s, err := OpenRoot(root)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(root, DBFile))
}

func TestTagHistoryUnknownTag(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "x.duckdb"))
	require.NoError(t, err)
	defer s.Close()

	points, err := s.TagHistory(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, points)
}
