package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateProvider string
	simulateHealthy  bool
	simulateMessage  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次数据源状态变化并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateProvider == "" {
			return errors.New("--provider 必须指定")
		}
		return getApp().SimulateAlert(cmd.Context(), sourceFlag(simulateProvider), simulateHealthy, simulateMessage)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateProvider, "provider", "", "数据源名称，例如 VNDIRECT")
	simulateCmd.Flags().BoolVar(&simulateHealthy, "healthy", false, "模拟恢复而不是故障")
	simulateCmd.Flags().StringVar(&simulateMessage, "message", "simulated outage", "故障描述")
}
