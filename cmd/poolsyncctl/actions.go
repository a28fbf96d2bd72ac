package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stream-pools/poolsync/pkg/action"
)

func newActionCmd(a *app, kind action.Kind, short string, bind func(*cobra.Command, *action.Request)) *cobra.Command {
	req := action.Request{Action: kind}
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := a.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			res, err := backend.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.ApprovalTxHash != nil {
				_, _ = fmt.Fprintf(out, "approval: %s\n", res.ApprovalTxHash.Hex())
			}
			_, _ = fmt.Fprintf(out, "%s: %s\n", res.Action, res.TxHash.Hex())
			return nil
		},
	}
	bind(cmd, &req)
	return cmd
}

func poolFlag(cmd *cobra.Command, req *action.Request) {
	cmd.Flags().StringVar(&req.PoolID, "pool", "", "pool id")
}

func recipientFlag(cmd *cobra.Command, req *action.Request) {
	cmd.Flags().StringVar(&req.Recipient, "recipient", "", "recipient address")
}

func newCreateCmd(a *app) *cobra.Command {
	return newActionCmd(a, action.KindCreate, "Create a pool with an initial deposit", func(cmd *cobra.Command, req *action.Request) {
		cmd.Flags().StringVar(&req.Underlying, "underlying", "", "asset address")
		cmd.Flags().StringVar(&req.Amount, "amount", "", "initial deposit in asset units")
	})
}

func newAddRecipientCmd(a *app) *cobra.Command {
	return newActionCmd(a, action.KindAddRecipient, "Add a recipient stream to a pool", func(cmd *cobra.Command, req *action.Request) {
		poolFlag(cmd, req)
		recipientFlag(cmd, req)
		cmd.Flags().StringVar(&req.RatePerDay, "rate-per-day", "", "stream rate in asset units per day")
		cmd.Flags().StringVar(&req.StartTime, "start", "", "start date (YYYY-MM-DD, MM/DD/YYYY, RFC 3339 or unix seconds)")
		cmd.Flags().StringVar(&req.StopTime, "stop", "", "stop date")
		cmd.Flags().StringVar(&req.NoticePeriodDays, "notice-days", "0", "notice period in days")
	})
}

func newDepositCmd(a *app) *cobra.Command {
	return newActionCmd(a, action.KindDeposit, "Deposit into a pool", func(cmd *cobra.Command, req *action.Request) {
		poolFlag(cmd, req)
		cmd.Flags().StringVar(&req.Amount, "amount", "", `amount in asset units, or "max"`)
	})
}

func newWithdrawCmd(a *app) *cobra.Command {
	return newActionCmd(a, action.KindWithdraw, "Withdraw from a pool", func(cmd *cobra.Command, req *action.Request) {
		poolFlag(cmd, req)
		cmd.Flags().StringVar(&req.Amount, "amount", "", `amount in asset units, or "max"`)
	})
}

func newScheduleUpdateCmd(a *app) *cobra.Command {
	return newActionCmd(a, action.KindScheduleUpdate, "Schedule a stream update", func(cmd *cobra.Command, req *action.Request) {
		poolFlag(cmd, req)
		recipientFlag(cmd, req)
		cmd.Flags().StringVar(&req.UpdateAction, "update-action", "", "RAISE, EXTENSION, CUT or TERMINATION (or 1-4)")
		cmd.Flags().StringVar(&req.UpdateParam, "param", "", "rate per day for RAISE and CUT, new stop date for EXTENSION")
	})
}

func newExecuteUpdateCmd(a *app) *cobra.Command {
	return newActionCmd(a, action.KindExecuteUpdate, "Execute a scheduled stream update", func(cmd *cobra.Command, req *action.Request) {
		poolFlag(cmd, req)
		recipientFlag(cmd, req)
	})
}
