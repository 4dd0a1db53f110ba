package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/esp32-tools/memharness/internal/models"
)

// WriteComparison prints a tag-by-tag B-A table in the harness console style.
func WriteComparison(w io.Writer, cmp *models.Comparison) {
	fmt.Fprintf(w, "[compare] A: %s\n", cmp.RunA)
	fmt.Fprintf(w, "[compare] B: %s\n", cmp.RunB)
	fmt.Fprintln(w, "\nTag deltas (B - A):")
	fmt.Fprintln(w, "- Columns: hin, hm, frag, pf")
	for _, t := range cmp.Tags {
		fmt.Fprintf(w, "- %s: hin=%s  hm=%s  frag=%s  pf=%s\n",
			t.Tag, deltaString(t.Hin), deltaString(t.Hm), deltaString(t.Frag), deltaString(t.Pf))
	}

	if cmp.HinMinA != nil && cmp.HinMinB != nil {
		fmt.Fprintln(w, "\nOverall:")
		fmt.Fprintf(w, "- A hin_min: %d B\n", *cmp.HinMinA)
		fmt.Fprintf(w, "- B hin_min: %d B\n", *cmp.HinMinB)
		fmt.Fprintf(w, "- hin_min: %d B\n", *cmp.HinMinDelta)
	}
}

// WriteDerived prints the derived metrics of one run.
func WriteDerived(w io.Writer, d *models.DerivedMetrics) {
	if d.Mem == nil {
		fmt.Fprintln(w, "[derive] no mem snapshots")
	} else {
		fmt.Fprintf(w, "[derive] samples=%d hin_min=%d hm_min=%d pf_min=%d pm_min=%d frag_max=%d%%\n",
			d.Mem.Samples, d.Mem.HinMin, d.Mem.HmMin, d.Mem.PfMin, d.Mem.PmMin, d.Mem.FragMax)
	}
	if d.Tripwire.Fired {
		fmt.Fprintf(w, "[derive] tripwire fired tag=%s hin=%d < %d\n", d.Tripwire.Tag, d.Tripwire.Hin, d.Tripwire.Threshold)
		for _, s := range d.Tripwire.WorstStacks {
			fmt.Fprintf(w, "[derive]   %s stack_rem=%dB\n", s.Name, s.StackRem)
		}
	}
	if d.Panic.Detected {
		fmt.Fprintf(w, "[derive] panic kind=%s line=%d: %s\n", d.Panic.Kind, d.Panic.LineNo, d.Panic.Line)
	}
}

func deltaString(d *int64) string {
	if d == nil {
		return "n/a"
	}
	return strconv.FormatInt(*d, 10)
}
