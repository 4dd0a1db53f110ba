package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/esp32-tools/memharness/internal/metrics"
	"github.com/esp32-tools/memharness/internal/report"
	"github.com/esp32-tools/memharness/internal/storage"
)

var deriveJSON bool

var deriveCmd = &cobra.Command{
	Use:   "derive <run-dir>",
	Short: "Recompute derived metrics from a run's journals",
	Args:  cobra.ExactArgs(1),
	RunE:  runDerive,
}

func init() {
	deriveCmd.Flags().BoolVar(&deriveJSON, "json", false, "Print the derived metrics as JSON")
}

func runDerive(cmd *cobra.Command, args []string) error {
	if err := requireDir(args[0]); err != nil {
		return withCode(ExitUsage, err)
	}

	d := metrics.Derive(storage.ArtifactsFor(args[0]))
	if deriveJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	report.WriteDerived(cmd.OutOrStdout(), d)
	return nil
}
