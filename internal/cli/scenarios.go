package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/esp32-tools/memharness/internal/scenario"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the available scenarios",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		for _, s := range scenario.All() {
			fmt.Fprintf(out, "%-8s %s\n", s.Key, s.Title)
			if len(s.Aliases) > 0 {
				fmt.Fprintf(out, "         aliases: %s\n", strings.Join(s.Aliases, ", "))
			}
		}
	},
}
