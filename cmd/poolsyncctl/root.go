package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "poolsyncctl",
		Short:         "Inspect and act on StreamPools pools and streams",
		Long:          "poolsyncctl submits StreamPools actions with the configured signer and prints the pools an account created or the streams it receives. It reads the same LEDGER_* environment as the poolsync daemon.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(
		newCreateCmd(a),
		newAddRecipientCmd(a),
		newDepositCmd(a),
		newWithdrawCmd(a),
		newScheduleUpdateCmd(a),
		newExecuteUpdateCmd(a),
		newPoolsCmd(a),
		newStreamsCmd(a),
		newPoolStreamsCmd(a),
	)
	return rootCmd
}
