package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stockdata/internal/app"
)

var (
	historyFrom       string
	historyTo         string
	historyResolution string
	historySource     string
	historyPage       int
	historyFormat     string
	historyLegacy     bool

	currentResolution string
	currentSource     string
	currentFormat     string
	currentLegacy     bool

	healthFormat  string
	sourcesFormat string
	sourcesAll    bool
)

var historyCmd = &cobra.Command{
	Use:   "history SYMBOL",
	Short: "Fetch a historical price series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := dayRange(historyFrom, historyTo, defaultLookbackDays, time.Now())
		if err != nil {
			return err
		}
		res, err := parseResolution(historyResolution)
		if err != nil {
			return err
		}
		if historyPage < 0 {
			return fmt.Errorf("--page cannot be negative")
		}

		return getApp().History(cmd.Context(), app.HistoryOptions{
			Symbol:     args[0],
			From:       from,
			To:         to,
			Resolution: res,
			Source:     sourceFlag(historySource),
			Page:       historyPage,
			Format:     historyFormat,
			Legacy:     historyLegacy,
		})
	},
}

var currentCmd = &cobra.Command{
	Use:   "current SYMBOL [SYMBOL...]",
	Short: "Fetch the latest quote of one or more symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbols := splitSymbols(args)
		if len(symbols) == 0 {
			return errors.New("at least one symbol is required")
		}
		res, err := parseResolution(currentResolution)
		if err != nil {
			return err
		}

		return getApp().Current(cmd.Context(), app.CurrentOptions{
			Symbols:    symbols,
			Resolution: res,
			Source:     sourceFlag(currentSource),
			Format:     currentFormat,
			Legacy:     currentLegacy,
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of every data source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Health(cmd.Context(), healthFormat)
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured data sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sources(sourcesFormat, sourcesAll)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "First day (YYYY-MM-DD, defaults to 30 days before --to)")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "Last day (YYYY-MM-DD, defaults to today)")
	historyCmd.Flags().StringVar(&historyResolution, "resolution", "1D", "Resolution: 1D, 1W or 1M")
	historyCmd.Flags().StringVar(&historySource, "source", "", "Preferred source (defaults to manager.default_source)")
	historyCmd.Flags().IntVar(&historyPage, "page", 0, "Page number for paginated sources")
	historyCmd.Flags().StringVar(&historyFormat, "format", "table", "Output format: table or json")
	historyCmd.Flags().BoolVar(&historyLegacy, "legacy", false, "Emit the legacy JSON shape")

	currentCmd.Flags().StringVar(&currentResolution, "resolution", "1D", "Resolution: 1D, 1W or 1M")
	currentCmd.Flags().StringVar(&currentSource, "source", "", "Preferred source")
	currentCmd.Flags().StringVar(&currentFormat, "format", "table", "Output format: table or json")
	currentCmd.Flags().BoolVar(&currentLegacy, "legacy", false, "Emit the legacy JSON shape")

	healthCmd.Flags().StringVar(&healthFormat, "format", "table", "Output format: table or json")

	sourcesCmd.Flags().StringVar(&sourcesFormat, "format", "table", "Output format: table or json")
	sourcesCmd.Flags().BoolVar(&sourcesAll, "all", false, "Include disabled sources")
}
