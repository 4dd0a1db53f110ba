package metrics

import (
	"errors"
	"sort"

	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/storage"
)

// ErrNoRows is returned when neither run has mem rows.
var ErrNoRows = errors.New("no mem.jsonl rows found in either run")

// Compare diffs the mem journals of two run directories.
func Compare(dirA, dirB string) (*models.Comparison, error) {
	rowsA, _ := storage.ReadJSONL[models.MemRow](storage.ArtifactsFor(dirA).Mem)
	rowsB, _ := storage.ReadJSONL[models.MemRow](storage.ArtifactsFor(dirB).Mem)

	cmp, err := CompareRows(rowsA, rowsB)
	if err != nil {
		return nil, err
	}
	cmp.RunA = dirA
	cmp.RunB = dirB
	return cmp, nil
}

// CompareRows indexes each run by the last row seen per tag and reports
// B-A deltas of hin, hm, frag and pf for the union of tags.
func CompareRows(rowsA, rowsB []models.MemRow) (*models.Comparison, error) {
	lastA := lastByTag(rowsA)
	lastB := lastByTag(rowsB)

	tagSet := make(map[string]struct{}, len(lastA)+len(lastB))
	for t := range lastA {
		tagSet[t] = struct{}{}
	}
	for t := range lastB {
		tagSet[t] = struct{}{}
	}
	if len(tagSet) == 0 {
		return nil, ErrNoRows
	}
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	cmp := &models.Comparison{Tags: make([]models.TagDelta, 0, len(tags))}
	for _, tag := range tags {
		a, inA := lastA[tag]
		b, inB := lastB[tag]
		d := models.TagDelta{Tag: tag, InA: inA, InB: inB}
		if inA && inB {
			d.Hin = delta(a.HIN, b.HIN)
			d.Hm = delta(a.HM, b.HM)
			d.Frag = delta(uint64(a.Frag), uint64(b.Frag))
			d.Pf = delta(a.PF, b.PF)
		}
		cmp.Tags = append(cmp.Tags, d)
	}

	cmp.HinMinA = hinMin(rowsA)
	cmp.HinMinB = hinMin(rowsB)
	if cmp.HinMinA != nil && cmp.HinMinB != nil {
		cmp.HinMinDelta = delta(*cmp.HinMinA, *cmp.HinMinB)
	}
	return cmp, nil
}

func lastByTag(rows []models.MemRow) map[string]models.MemSnapshot {
	out := make(map[string]models.MemSnapshot)
	for _, r := range rows {
		if r.Tag != "" {
			out[r.Tag] = r.MemSnapshot
		}
	}
	return out
}

func hinMin(rows []models.MemRow) *uint64 {
	if len(rows) == 0 {
		return nil
	}
	m := rows[0].HIN
	for _, r := range rows[1:] {
		m = minU(m, r.HIN)
	}
	return &m
}

func delta(a, b uint64) *int64 {
	d := int64(b) - int64(a)
	return &d
}
