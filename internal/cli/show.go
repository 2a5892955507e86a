package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stockdata/internal/app"
)

var (
	showSymbol string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently archived bars and health events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Symbol: showSymbol,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Only show this symbol")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
}
