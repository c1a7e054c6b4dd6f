package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/i474232898/orbital-sentry/internal/sentry"
)

var (
	scanReset     bool
	scanResetKeys []string
	scanDate      string

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Run one scan of every target and layer and write the report",
		Long: `Fetch the current imagery for every configured target and layer, compare it
against the stored reference and write the report to the output directory.

The first successful capture of a key becomes its reference. References are
never replaced automatically; use --reset to discard them and start over.`,
		Example: `  # Scan today's imagery
  orbital-sentry scan

  # Scan a specific capture date
  orbital-sentry scan --date 2024-01-15

  # Discard every reference and seed new ones
  orbital-sentry scan --reset

  # Discard the references of selected keys only
  orbital-sentry scan --reset-key lagos/night --reset-key tokyo/visual`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
)

func init() {
	scanCmd.Flags().BoolVar(&scanReset, "reset", false, "delete stored references before scanning")
	scanCmd.Flags().StringSliceVar(&scanResetKeys, "reset-key", nil, "delete the stored reference of one target/layer key before scanning (repeatable)")
	scanCmd.Flags().StringVar(&scanDate, "date", "", "capture date as YYYY-MM-DD (default: today minus IMAGERY_LAG_DAYS)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	date := cfg.CaptureDate(time.Now())
	if scanDate != "" {
		date, err = time.Parse(time.DateOnly, scanDate)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	c, err := newComponents(cfg)
	if err != nil {
		return err
	}

	resetKeys, err := keysToReset(cfg.Plan)
	if err != nil {
		return err
	}
	for _, key := range resetKeys {
		if err := c.baselines.Remove(key); err != nil {
			return fmt.Errorf("failed to reset reference for %s: %w", key, err)
		}
	}
	if len(resetKeys) > 0 {
		log.Info().Int("keys", len(resetKeys)).Str("dir", c.baselines.Dir()).Msg("references reset")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	report, err := c.service.Scan(ctx, cfg.Plan, date)
	printSummary(cmd.OutOrStdout(), report)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// keysToReset resolves --reset and --reset-key against the plan. Keys named
// with --reset-key must be observed by the plan.
func keysToReset(plan sentry.Plan) ([]sentry.Key, error) {
	if scanReset {
		return plan.Keys(), nil
	}

	observed := make(map[sentry.Key]bool)
	for _, k := range plan.Keys() {
		observed[k] = true
	}
	var keys []sentry.Key
	for _, s := range scanResetKeys {
		k, err := sentry.ParseKey(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --reset-key: %w", err)
		}
		if !observed[k] {
			return nil, fmt.Errorf("invalid --reset-key: %s is not part of the plan", k)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// printSummary writes one line per key. Colors are only used when out is a
// terminal so piped output stays plain.
func printSummary(out io.Writer, r *sentry.RunReport) {
	const (
		ansiReset  = "\033[0m"
		ansiBold   = "\033[1m"
		ansiGreen  = "\033[32m"
		ansiYellow = "\033[33m"
		ansiRed    = "\033[31m"
		ansiGray   = "\033[90m"
	)
	useColors := isTerminal(out)

	paint := func(color, s string) string {
		if !useColors {
			return s
		}
		return color + s + ansiReset
	}

	fmt.Fprintf(out, "%s %s (run %s)\n", paint(ansiBold, "Scan"), r.Date.Format(time.DateOnly), r.ID)
	for _, o := range r.Outcomes {
		var state string
		switch o.State {
		case sentry.StateDiffed:
			state = paint(ansiGreen, string(o.State))
		case sentry.StateBaselineCreated:
			state = paint(ansiYellow, string(o.State))
		case sentry.StateAbandoned, sentry.StateRejected:
			state = paint(ansiGray, string(o.State))
		default:
			state = paint(ansiRed, string(o.State))
		}

		detail := ""
		switch {
		case o.Diff != nil:
			detail = fmt.Sprintf("%d pixels changed (%.2f%%)", o.Diff.Changed, o.Diff.ChangedFraction*100)
		case o.Err != nil:
			detail = o.Err.Error()
		}
		fmt.Fprintf(out, "  %-24s %-16s %s\n", o.Key.String(), state, detail)
	}
}
