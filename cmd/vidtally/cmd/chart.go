package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/vidtally/internal/ledger"
	"github.com/spf13/cobra"
)

// chartCmd plots an existing ledger.
var chartCmd = &cobra.Command{
	Use:   "chart LEDGER",
	Short: "Plot a ledger file as a PNG chart",
	Long: `Read a ledger CSV written by run or serve and plot Credits, Bet and Win
against the video timestamp.

Examples:
  vidtally chart extracted_data_20240309_143005.csv
  vidtally chart ledger.csv -o session.png --width 1920 --height 1080`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := ledger.DefaultChartOptions()
		if cmd.Flags().Changed("width") {
			opts.Width, _ = cmd.Flags().GetInt("width")
		}
		if cmd.Flags().Changed("height") {
			opts.Height, _ = cmd.Flags().GetInt("height")
		}
		if cmd.Flags().Changed("title") {
			opts.Title, _ = cmd.Flags().GetString("title")
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			base := filepath.Base(args[0])
			out = base[:len(base)-len(filepath.Ext(base))] + ".png"
		}
		if err := writeChartFile(args[0], out, opts); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Chart written to %s\n", out)
		return nil
	},
}

// writeChartFile renders the ledger at ledgerPath into a PNG at out.
func writeChartFile(ledgerPath, out string, opts ledger.ChartOptions) error {
	rows, err := ledger.ReadFile(ledgerPath)
	if err != nil {
		return err
	}

	f, err := os.Create(out) //nolint:gosec // G304: output path is operator supplied
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	if err := ledger.RenderChart(rows, opts, f); err != nil {
		_ = f.Close()
		_ = os.Remove(out)
		return err
	}
	return f.Close()
}

func init() {
	rootCmd.AddCommand(chartCmd)
	chartCmd.Flags().StringP("output", "o", "", "output PNG (default: ledger name with .png)")
	chartCmd.Flags().Int("width", 1280, "chart width in pixels")
	chartCmd.Flags().Int("height", 720, "chart height in pixels")
	chartCmd.Flags().String("title", "", "chart title")
}
