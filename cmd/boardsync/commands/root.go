package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/boardsync/internal/config"
)

var (
	logLevel  string
	logFormat string

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "boardsync",
	Short: "boardsync - live kanban boards in the terminal",
	Long: `boardsync keeps a local copy of a kanban board in sync with its backend.

It loads the board over REST, follows changes through the board's push
channel and applies your own edits optimistically, rolling them back if the
backend rejects them. The relay command runs the push-channel server.

Configuration comes from BOARDSYNC_CONFIG (a YAML file) and BOARDSYNC_*
environment variables. Authenticate with BOARDSYNC_TOKEN, or with
BOARDSYNC_USERNAME and BOARDSYNC_PASSWORD.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			c.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			c.Log.Format = logFormat
		}
		if err := setupLogging(c.Log, os.Stderr); err != nil {
			return err
		}
		cfg = c
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. ctx is cancelled on SIGINT or SIGTERM.
func Execute(ctx context.Context) error {
	// main prints errors itself, in color.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text or json)")
}

// setupLogging configures the global zerolog logger. Logs go to w so they
// never mix with the board rendered on stdout.
func setupLogging(lc config.LogConfig, w io.Writer) error {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	switch lc.Format {
	case "text":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	case "json":
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	default:
		return fmt.Errorf("log format must be text or json, got %q", lc.Format)
	}
	return nil
}
