package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esp32-tools/memharness/internal/models"
)

func row(tag string, hin, hm, pf uint64, frag int) models.MemRow {
	return models.MemRow{Type: models.KindMem, MemSnapshot: models.MemSnapshot{Tag: tag, HIN: hin, HM: hm, PF: pf, Frag: frag}}
}

func TestCompareRunsFromDisk(t *testing.T) {
	a := writeRun(t,
		memLine("boot", 130000, 120000, 4000000, 3900000, 10),
		memLine("hb", 120000, 110000, 3900000, 3800000, 15),
	)
	b := writeRun(t,
		memLine("hb", 110000, 100000, 3850000, 3700000, 20),
		memLine("s2_after", 90000, 85000, 3600000, 3500000, 40),
	)

	cmp, err := Compare(a.Dir, b.Dir)
	require.NoError(t, err)
	assert.Equal(t, a.Dir, cmp.RunA)
	assert.Equal(t, b.Dir, cmp.RunB)
	require.Len(t, cmp.Tags, 3)

	boot, hb, after := cmp.Tags[0], cmp.Tags[1], cmp.Tags[2]
	assert.Equal(t, "boot", boot.Tag)
	assert.True(t, boot.InA)
	assert.False(t, boot.InB)
	assert.Nil(t, boot.Hin)

	assert.Equal(t, "hb", hb.Tag)
	require.NotNil(t, hb.Hin)
	assert.Equal(t, int64(-10000), *hb.Hin)
	assert.Equal(t, int64(-10000), *hb.Hm)
	assert.Equal(t, int64(5), *hb.Frag)
	assert.Equal(t, int64(-50000), *hb.Pf)

	assert.Equal(t, "s2_after", after.Tag)
	assert.False(t, after.InA)
	assert.Nil(t, after.Pf)

	require.NotNil(t, cmp.HinMinDelta)
	assert.Equal(t, uint64(120000), *cmp.HinMinA)
	assert.Equal(t, uint64(90000), *cmp.HinMinB)
	assert.Equal(t, int64(-30000), *cmp.HinMinDelta)
}

func TestCompareUsesLastRowPerTag(t *testing.T) {
	a := []models.MemRow{row("hb", 100000, 1, 1, 1), row("hb", 110000, 1, 1, 1)}
	b := []models.MemRow{row("hb", 100000, 1, 1, 1)}

	cmp, err := CompareRows(a, b)
	require.NoError(t, err)
	require.Len(t, cmp.Tags, 1)
	assert.Equal(t, int64(-10000), *cmp.Tags[0].Hin)
	assert.Equal(t, int64(0), *cmp.HinMinDelta)
}

func TestCompareOneSideEmpty(t *testing.T) {
	cmp, err := CompareRows(nil, []models.MemRow{row("hb", 5, 5, 5, 5)})
	require.NoError(t, err)
	assert.Nil(t, cmp.HinMinA)
	assert.Nil(t, cmp.HinMinDelta)
	assert.False(t, cmp.Tags[0].InA)
}

func TestCompareNoRows(t *testing.T) {
	_, err := Compare(t.TempDir(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = CompareRows([]models.MemRow{row("", 1, 1, 1, 1)}, nil)
	assert.ErrorIs(t, err, ErrNoRows)
}
