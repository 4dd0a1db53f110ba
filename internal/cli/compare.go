package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/esp32-tools/memharness/internal/metrics"
	"github.com/esp32-tools/memharness/internal/report"
)

var compareCmd = &cobra.Command{
	Use:   "compare <runA> <runB>",
	Short: "Compare the mem snapshots of two runs",
	Long: `Compare the last [Mem] snapshot of every tag between two run directories.
Deltas are reported as B - A.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func runCompare(cmd *cobra.Command, args []string) error {
	for _, dir := range args {
		if err := requireDir(dir); err != nil {
			return withCode(ExitUsage, err)
		}
	}

	cmp, err := metrics.Compare(args[0], args[1])
	if errors.Is(err, metrics.ErrNoRows) {
		fmt.Fprintln(cmd.OutOrStdout(), "[compare] No mem.jsonl rows found in either run.")
		return withCode(ExitUsage, nil)
	}
	if err != nil {
		return withCode(ExitFailure, err)
	}
	report.WriteComparison(cmd.OutOrStdout(), cmp)
	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("run directory not found: %s", path)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", path)
	}
	return nil
}
