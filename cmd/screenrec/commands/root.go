// Package commands holds the screenrec cobra command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/logging"
)

// Version is set at build time via -ldflags "-X .../commands.Version=..."
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "screenrec",
	Short: "screenrec - record the screen through OBS",
	Long: `screenrec drives an OBS Studio instance over obs-websocket to record the
screen into a file, stdout, a single snapshot image, or a directory of
slideshow frames.

A running "screenrec record" is controlled from other shells with
"screenrec pause", "resume", "stop" and "quit", and inspected with
"screenrec status".`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(viper.GetString("log_level"), viper.GetBool("log_pretty"))
		diaglog.Version = Version
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable console logs")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.SetEnvPrefix("SCREENREC")
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
