package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stockdata/internal/app"
)

var (
	exportSymbol     string
	exportFrom       string
	exportTo         string
	exportResolution string
	exportSource     string
	exportLive       bool
	exportPNGPath    string
	exportCSVPath    string
	exportMaxPoints  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a price series as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportSymbol == "" {
			return fmt.Errorf("--symbol must be provided")
		}
		from, to, err := dayRange(exportFrom, exportTo, 365, time.Now())
		if err != nil {
			return err
		}
		res, err := parseResolution(exportResolution)
		if err != nil {
			return err
		}

		opts := app.ExportOptions{
			Symbol:     exportSymbol,
			From:       from,
			To:         to,
			Resolution: res,
			Source:     sourceFlag(exportSource),
			Live:       exportLive,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
			MaxPoints:  exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "Symbol to export")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First day (YYYY-MM-DD, defaults to a year before --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last day (YYYY-MM-DD, defaults to today)")
	exportCmd.Flags().StringVar(&exportResolution, "resolution", "1D", "Resolution: 1D, 1W or 1M")
	exportCmd.Flags().StringVar(&exportSource, "source", "", "Preferred source when --live is set")
	exportCmd.Flags().BoolVar(&exportLive, "live", false, "Fetch from the providers instead of the archive")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
