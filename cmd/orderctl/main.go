package main

import (
	"fmt"
	"os"

	"order-payment-service/internal/util"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "orderctl",
		Short:   "Operator tooling for the order payment service",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			return util.InitLogger("cli", level)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(expirePaymentsCmd())
	rootCmd.AddCommand(relayOutboxCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(publishCmd())

	err := rootCmd.Execute()
	util.SyncLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
