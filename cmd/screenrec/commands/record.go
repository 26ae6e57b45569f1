package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/fileutil"
	"github.com/tiroq/screenrec/internal/ipc"
	"github.com/tiroq/screenrec/internal/logging"
	"github.com/tiroq/screenrec/internal/obsws"
	"github.com/tiroq/screenrec/internal/options"
	"github.com/tiroq/screenrec/internal/pidfile"
	"github.com/tiroq/screenrec/internal/recorder"
	"github.com/tiroq/screenrec/internal/validation"
)

const appName = "screenrec-record"

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record until stopped",
	Long: `Connects to OBS and records until "screenrec stop", "screenrec quit",
SIGINT or SIGTERM. Snapshot mode exits after the single capture.

Recording options come from --options (yaml, toml or json), SCREENREC_*
environment variables (e.g. SCREENREC_VIDEO_FRAMERATE=60) and the flags
below, in increasing precedence.`,
	Example: `  # Record the primary display to a timestamped mp4 in the current directory
  screenrec record

  # Record to a named file with audio
  screenrec record --out demo.mp4 --audio

  # Stream the recording to another program
  screenrec record --stdout | ffmpeg -i - -c copy out.mkv

  # Capture 5 frames per second into a directory
  screenrec record --mode slideshow --framerate 5 --out frames/`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringP("out", "o", "", "output file, or directory in slideshow mode")
	f.Bool("stdout", false, "write the recording to stdout")
	f.String("dir", ".", "directory for the default output name")
	f.String("title", "", "title used in the default output name")
	f.Bool("no-metadata", false, "skip the <out>.meta.json sidecar")
	f.Duration("stop-timeout", recorder.DefaultTeardownTimeout, "how long to wait for OBS to finalize on exit")

	addOptionFlags(f)

	f.String("obs-url", "ws://localhost:4455", "obs-websocket address")
	f.String("obs-password", "", "obs-websocket password (or SCREENREC_OBS_PASSWORD)")
	f.Bool("launch-obs", false, "start OBS if it is not running")

	viper.BindPFlag("obs_url", f.Lookup("obs-url"))
	viper.BindPFlag("obs_password", f.Lookup("obs-password"))
	viper.BindPFlag("launch_obs", f.Lookup("launch-obs"))

	rootCmd.AddCommand(recordCmd)
}

// addOptionFlags registers the flags loadRecordOptions reads.
func addOptionFlags(f *pflag.FlagSet) {
	f.StringP("options", "c", "", "recording options file (yaml, toml or json)")
	f.String("mode", "", "recorder mode: video, slideshow or snapshot")
	f.Int("framerate", 0, "frames per second")
	f.Int("bitrate", 0, "video bitrate in bits per second")
	f.Bool("audio", false, "capture desktop audio")
	f.Int("monitor", 0, "display index")
}

// loadRecordOptions layers the options file, env and changed flags.
func loadRecordOptions(cmd *cobra.Command) (options.Options, error) {
	v := options.NewViper()
	if path, _ := cmd.Flags().GetString("options"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return options.Options{}, fmt.Errorf("failed to read options %s: %w", path, err)
		}
	}

	for flag, key := range map[string]string{
		"mode":      "mode",
		"framerate": "video.framerate",
		"bitrate":   "video.bitrate",
		"audio":     "audio.enabled",
		"monitor":   "display.monitor",
	} {
		if fl := cmd.Flags().Lookup(flag); fl.Changed {
			v.Set(key, fl.Value.String())
		}
	}
	return options.Decode(v)
}

func runRecord(cmd *cobra.Command, args []string) error {
	zl := logging.WithComponent("record")

	opts, err := loadRecordOptions(cmd)
	if err != nil {
		return err
	}
	if err := validation.CheckOptions(opts); err != nil {
		return err
	}

	toStdout, _ := cmd.Flags().GetBool("stdout")
	out, _ := cmd.Flags().GetString("out")
	if toStdout && out != "" {
		return fmt.Errorf("--out and --stdout are mutually exclusive")
	}
	if !toStdout && out == "" {
		dir, _ := cmd.Flags().GetString("dir")
		title, _ := cmd.Flags().GetString("title")
		out = fileutil.DefaultOutputPath(dir, title, opts.Mode.String(), time.Now())
	}

	pf, err := pidfile.New(pidfile.GetPIDFilePath(appName))
	if err != nil {
		return fmt.Errorf("%w; if no other instance is running remove %s", err, pidfile.GetPIDFilePath(appName))
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			zl.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	diag := openDiagLogger(zl)
	defer diag.Close()

	if viper.GetBool("launch_obs") {
		zl.Info().Msg("Ensuring OBS is running")
		if err := obsws.LaunchOBS(15 * time.Second); err != nil {
			return fmt.Errorf("failed to launch OBS: %w", err)
		}
	}

	client := obsws.NewClient(viper.GetString("obs_url"), viper.GetString("obs_password"))
	client.SetLogger(diag)
	if err := client.Connect(); err != nil {
		logFixes(zl, err)
		return fmt.Errorf("failed to connect to OBS: %w", err)
	}
	defer client.Disconnect()

	engine := recorder.NewOBSEngine(client,
		recorder.WithEngineLogger(logging.WithComponent("obs-engine")),
		recorder.WithEngineDiagLogger(diag),
	)
	if err := engine.Preflight(); err != nil {
		logFixes(zl, err)
		return err
	}

	stopTimeout, _ := cmd.Flags().GetDuration("stop-timeout")
	session := recorder.New(engine,
		recorder.WithOptions(opts),
		recorder.WithLogger(logging.WithComponent("session")),
		recorder.WithDiagLogger(diag),
		recorder.WithTeardownTimeout(stopTimeout),
	)

	ctrl := newController(session, client.IsConnected, zl, diag)
	noMeta, _ := cmd.Flags().GetBool("no-metadata")
	ctrl.metadata = !noMeta

	// Drop anything left over from an earlier run.
	if _, err := ipc.ReadCommand(); err != nil {
		zl.Warn().Err(err).Msg("Failed to clear command file")
	}

	if toStdout {
		err = ctrl.startStream(os.Stdout)
	} else {
		err = ctrl.startPath(out)
	}
	if err != nil {
		logFixes(zl, err)
		_ = ctrl.shutdown(stopTimeout)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	cmds := make(chan ipc.Command)
	go watchCommands(watchCtx, cmds, zl)

	runLoop(ctx, ctrl, cmds, zl)
	cancelWatch()

	if err := ctrl.shutdown(stopTimeout); err != nil {
		zl.Error().Err(err).Msg("Shutdown incomplete")
		return err
	}
	return ctrl.Err()
}

// runLoop dispatches commands until the recording ends, quit is received,
// or ctx is cancelled.
func runLoop(ctx context.Context, ctrl *controller, cmds <-chan ipc.Command, zl zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			zl.Info().Msg("Signal received, stopping")
			return
		case <-ctrl.Done():
			return
		case cmd := <-cmds:
			if ctrl.handleCommand(cmd) {
				return
			}
		}
	}
}

func openDiagLogger(zl zerolog.Logger) *diaglog.Logger {
	if !diaglog.IsDebugEnabled() {
		return diaglog.NewNoOp()
	}
	l, err := diaglog.New(diaglog.LogPath())
	if err != nil {
		zl.Warn().Err(err).Msg("Diagnostic log unavailable")
		return diaglog.NewNoOp()
	}
	zl.Info().Str("path", diaglog.LogPath()).Msg("Diagnostic logging enabled")
	return l
}

func logFixes(zl zerolog.Logger, err error) {
	for _, fix := range validation.FixesForError(err) {
		zl.Info().Str("hint", fix).Msg("Suggested fix")
	}
}
