package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiroq/screenrec/internal/ipc"
	"github.com/tiroq/screenrec/internal/pidfile"
)

func controlCommand(cmd ipc.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(cmd),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if _, err := pidfile.Read(pidfile.GetPIDFilePath(appName)); err != nil {
				return fmt.Errorf("no screenrec record process is running")
			}
			if err := ipc.WriteCommand(cmd); err != nil {
				return fmt.Errorf("failed to send %s: %w", cmd, err)
			}
			fmt.Fprintf(c.OutOrStdout(), "sent %s\n", cmd)
			return nil
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running recording",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		st, err := ipc.ReadStatus()
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no status available; is screenrec record running?")
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(c.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func init() {
	rootCmd.AddCommand(
		controlCommand(ipc.CmdPause, "Pause the running recording"),
		controlCommand(ipc.CmdResume, "Resume a paused recording"),
		controlCommand(ipc.CmdStop, "Stop the running recording and finalize the output"),
		controlCommand(ipc.CmdQuit, "Stop if recording and exit the record process"),
		statusCmd,
	)
}
