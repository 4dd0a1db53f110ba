package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/esp32-tools/memharness/internal/config"
	"github.com/esp32-tools/memharness/internal/history"
)

var (
	historyRoot string
	historyTag  string
)

var indexCmd = &cobra.Command{
	Use:   "index [artifacts-root]",
	Short: "Index finished runs into the history database",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the hin minimum of a tag across indexed runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	defaultRoot := config.DefaultConfig().OutDir
	indexCmd.Flags().StringVar(&historyRoot, "root", defaultRoot, "Artifacts root holding the run directories")
	historyCmd.Flags().StringVar(&historyRoot, "root", defaultRoot, "Artifacts root holding the history database")
	historyCmd.Flags().StringVar(&historyTag, "tag", "hb", "Mem snapshot tag")
}

func runIndex(cmd *cobra.Command, args []string) error {
	root := historyRoot
	if len(args) == 1 {
		root = args[0]
	}
	if err := requireDir(root); err != nil {
		return withCode(ExitUsage, err)
	}

	store, err := history.OpenRoot(root)
	if err != nil {
		return withCode(ExitFailure, err)
	}
	defer store.Close()

	if _, err := store.Ingest(cmd.Context(), root); err != nil {
		return withCode(ExitFailure, err)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := requireDir(historyRoot); err != nil {
		return withCode(ExitUsage, err)
	}

	store, err := history.OpenRoot(historyRoot)
	if err != nil {
		return withCode(ExitFailure, err)
	}
	defer store.Close()

	points, err := store.TagHistory(cmd.Context(), historyTag)
	if err != nil {
		return withCode(ExitFailure, err)
	}

	out := cmd.OutOrStdout()
	if len(points) == 0 {
		fmt.Fprintf(out, "[History] No %q snapshots indexed under %s\n", historyTag, historyRoot)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSCENARIO\tFIRMWARE\tSAMPLES\tHIN_MIN")
	for _, p := range points {
		fw := p.Firmware
		if fw == "" {
			fw = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", p.RunID, p.Scenario, fw, p.Samples, p.HinMin)
	}
	return tw.Flush()
}
