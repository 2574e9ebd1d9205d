package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/streamcore/internal/config"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "streamcore",
	Short: "Breeze screen and audio streaming engine",
	Long:  `streamcore captures the desktop, encodes it and streams it with audio to a remote viewer over WebRTC.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a streaming session",
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = runStream(cmd.Context())
	},
}

var replayFPS int
var replayDecode bool

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Replay a recorded video stream and print its packets",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = replayRecording(cmd.Context(), args[0], replayFPS, replayDecode)
	},
}

var playAudioCmd = &cobra.Command{
	Use:   "play-audio <file>",
	Short: "Play back a recorded WAV file in real time",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = playAudio(cmd.Context(), args[0])
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Construct every subsystem and report its status",
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = checkHealth(cmd.Context())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = printConfig()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("streamcore v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/breeze/streamcore.yaml)")

	replayCmd.Flags().IntVar(&replayFPS, "fps", 30, "delivery rate in packets per second")
	replayCmd.Flags().BoolVar(&replayDecode, "decode", false, "decode each packet and report its frame size")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(playAudioCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitCode is set by the subcommand that ran.
var exitCode int

func execute(ctx context.Context, args []string) int {
	exitCode = 0
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func printConfig() int {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	for _, verr := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "# %v\n", verr)
	}
	out, err := config.Render(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	os.Stdout.Write(out)
	return 0
}
