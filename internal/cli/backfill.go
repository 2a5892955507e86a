package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stockdata/internal/app"
)

var (
	backfillSymbols    []string
	backfillFrom       string
	backfillTo         string
	backfillResolution string
	backfillSource     string
	backfillDryRun     bool
	backfillWorkers    int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Archive historical bars for a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, to, err := dayRange(backfillFrom, backfillTo, 0, time.Now())
		if err != nil {
			return err
		}
		res, err := parseResolution(backfillResolution)
		if err != nil {
			return err
		}

		opts := app.BackfillOptions{
			Symbols:    splitSymbols(backfillSymbols),
			From:       from,
			To:         to,
			Resolution: res,
			Source:     sourceFlag(backfillSource),
			DryRun:     backfillDryRun,
			Workers:    backfillWorkers,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillSymbols, "symbols", nil, "Symbols to archive (defaults to watch.symbols)")
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First day (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last day (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillResolution, "resolution", "1D", "Resolution: 1D, 1W or 1M")
	backfillCmd.Flags().StringVar(&backfillSource, "source", "", "Preferred source")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 2, "Number of concurrent workers")
}
