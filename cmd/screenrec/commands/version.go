package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiroq/screenrec/internal/autoupdate"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the screenrec version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "screenrec "+Version)

		if check, _ := cmd.Flags().GetBool("check"); !check {
			return nil
		}
		name, _ := cmd.Flags().GetString("channel")
		channel, err := autoupdate.ParseChannel(name)
		if err != nil {
			return err
		}

		uc := autoupdate.NewUpdateChecker("tiroq", "screenrec", Version)
		uc.SetChannel(channel)
		newer, rel, err := uc.IsUpdateAvailable(cmd.Context())
		if err != nil {
			return fmt.Errorf("update check failed: %w", err)
		}
		if newer {
			fmt.Fprintf(out, "update available: %s %s\n", rel.TagName, rel.HTMLURL)
		} else {
			fmt.Fprintln(out, "up to date")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("check", false, "check GitHub for a newer release")
	versionCmd.Flags().String("channel", string(autoupdate.ChannelStable), "release channel: stable, prerelease or dev")
	rootCmd.AddCommand(versionCmd)
}
