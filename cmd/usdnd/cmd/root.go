// Package cmd holds the usdnd command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for usdnd.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "usdnd",
		Short: "USDN ledger - vault and leveraged long engine",
		Long: `usdnd runs the USDN protocol ledger: a vault minting a stable token,
leveraged longs bucketed into liquidation ticks, and two-step actions
validated against oracle prices.

Service settings are read from USDN_* environment variables.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		NewServeCmd(),
		NewMigrateCmd(),
		NewParamsCmd(),
		NewStatusCmd(),
	)
	return rootCmd
}
