package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/i474232898/orbital-sentry/internal/config"
)

var (
	logLevel string

	// RootCmd is the root command for orbital-sentry
	RootCmd = &cobra.Command{
		Use:   "orbital-sentry",
		Short: "Satellite imagery change detection for fixed targets",
		Long: `orbital-sentry fetches daily satellite imagery for a set of fixed targets,
keeps the first successful capture of every target and layer as its reference,
and reports how each new capture differs from that reference.

Each run writes a Markdown report, a JSON dashboard feed and the image
artifacts (latest capture and enhanced difference) to the output directory.

Examples:
  # Run one scan and write the report
  orbital-sentry scan

  # Start the scheduler and the HTTP API
  orbital-sentry serve

  # Render a local image as text
  orbital-sentry ascii capture.png --width 80`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel, cmd.ErrOrStderr())
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default: $LOG_LEVEL or info)")

	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(scanCmd)
	RootCmd.AddCommand(asciiCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// setupLogging configures the global zerolog logger. Output is human-readable
// when w is a terminal and JSON otherwise.
func setupLogging(level string, w io.Writer) error {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	if isTerminal(w) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

// loadConfig loads the application config. A LOG_LEVEL picked up from .env
// applies unless --log-level was given.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel == "" && cfg.LogLevel != "" {
		if err := setupLogging(cfg.LogLevel, cmd.ErrOrStderr()); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
