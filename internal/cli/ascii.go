package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/i474232898/orbital-sentry/internal/imagery"
)

var (
	asciiWidth int

	asciiCmd = &cobra.Command{
		Use:     "ascii <image>",
		Short:   "Render a local image file as text",
		Example: `  orbital-sentry ascii public/images/lagos_night_latest.png --width 80`,
		Args:    cobra.ExactArgs(1),
		RunE:    runASCII,
	}
)

func init() {
	asciiCmd.Flags().IntVar(&asciiWidth, "width", 60, "number of text columns")
}

func runASCII(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	grid := imagery.RenderASCIIBytes(raw, asciiWidth)
	fmt.Fprintln(cmd.OutOrStdout(), grid.String())
	if !grid.Available {
		return fmt.Errorf("cannot render %s: %s", args[0], grid.Reason)
	}
	return nil
}
