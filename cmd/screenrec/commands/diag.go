package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiroq/screenrec/internal/diaglog"
)

var exportDiagCmd = &cobra.Command{
	Use:   "export-diag [dest-dir]",
	Short: "Bundle the diagnostic log for a bug report",
	Long: `Writes screenrec-diag-<timestamp>.ndjson into dest-dir (default: current
directory). The diagnostic log only exists when screenrec ran with
SCREENREC_DEBUG_RECORDING=true.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		dest := "."
		if len(args) == 1 {
			dest = args[0]
		}
		path, n, err := diaglog.Export(diaglog.LogPath(), dest)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w (hint: run with SCREENREC_DEBUG_RECORDING=true to enable logging)", err)
			}
			return err
		}
		fmt.Fprintf(c.OutOrStdout(), "Wrote: %s (%d lines)\n", path, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportDiagCmd)
}
