package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stream-pools/poolsync/pkg/projection"
	"github.com/stream-pools/poolsync/pkg/reconciler"
)

type viewFlags struct {
	account string
	json    bool
}

func (f *viewFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.account, "account", "", "account to inspect (default: signer or POOLSYNC_WATCH_ACCOUNT)")
	cmd.Flags().BoolVar(&f.json, "json", false, "print rows as JSON")
}

func (f *viewFlags) address() (common.Address, error) {
	if f.account == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(f.account) {
		return common.Address{}, fmt.Errorf("--account: %q is not a hex address", f.account)
	}
	return common.HexToAddress(f.account), nil
}

func newPoolsCmd(a *app) *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "List the pools an account created",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := snapshot(cmd, a, &flags, reconciler.ViewPools)
			if err != nil {
				return err
			}
			rows := projection.Pools(snap)
			if flags.json {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			return printPools(cmd.OutOrStdout(), rows, snap.Omitted)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newStreamsCmd(a *app) *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:   "streams",
		Short: "List the streams an account receives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := snapshot(cmd, a, &flags, reconciler.ViewStreams)
			if err != nil {
				return err
			}
			rows := projection.Streams(snap)
			if flags.json {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			return printStreams(cmd.OutOrStdout(), rows, snap.Omitted)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newPoolStreamsCmd(a *app) *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:   "pool-streams <pool-id>",
		Short: "Show the recipient streams of an owned pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			poolID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("pool id must be a non-negative integer: %q", args[0])
			}
			account, err := flags.address()
			if err != nil {
				return err
			}
			backend, err := a.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			pool, streams, err := backend.PoolStreams(cmd.Context(), account, poolID)
			if err != nil {
				return err
			}
			rows := projection.RecipientStreams(pool, streams)
			if flags.json {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			return printRecipientStreams(cmd.OutOrStdout(), rows)
		},
	}
	flags.bind(cmd)
	return cmd
}

func snapshot(cmd *cobra.Command, a *app, flags *viewFlags, view reconciler.View) (*reconciler.Snapshot, error) {
	account, err := flags.address()
	if err != nil {
		return nil, err
	}
	backend, err := a.backend(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer backend.Close()
	return backend.Snapshot(cmd.Context(), view, account)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(v string) string {
	if v == "YES" {
		return color.New(color.FgGreen).Sprint(v)
	}
	return color.New(color.FgRed).Sprint(v)
}

func printPools(out io.Writer, rows []projection.PoolRow, omitted []uint64) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POOL\tBALANCE\tUNDERLYING\tAPY\tRECIPIENTS\tSOLVENT\tDAYS LEFT")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.PoolID, r.Balance, r.Underlying, r.APY, r.NumberOfRecipients, yesNo(r.IsSolvent), r.DaysUntilInsolvent)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return printOmitted(out, omitted)
}

func printStreams(out io.Writer, rows []projection.StreamRow, omitted []uint64) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POOL\tSENDER\tBALANCE\tRATE/DAY\tUNDERLYING\tAPY\tEND\tENDED\tNOTICE\tSOLVENT\tDAYS LEFT\tUPDATE")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.PoolID, r.Sender, r.Balance, r.RatePerDay, r.Underlying, r.APY, r.EndDate, r.HasEnded,
			r.NoticePeriodDays, yesNo(r.PoolIsSolvent), r.DaysUntilInsolvent, r.UpdateScheduled)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return printOmitted(out, omitted)
}

func printRecipientStreams(out io.Writer, rows []projection.RecipientStreamRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECIPIENT\tBALANCE\tRATE/DAY\tUNDERLYING\tEND\tENDED\tNOTICE")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Recipient, r.Balance, r.RatePerDay, r.Underlying, r.EndDate, r.HasEnded, r.NoticePeriodDays)
	}
	return w.Flush()
}

func printOmitted(out io.Writer, omitted []uint64) error {
	if len(omitted) == 0 {
		return nil
	}
	_, err := fmt.Fprintf(out, "%s %v\n", color.New(color.FgYellow).Sprint("omitted (read failed, retried next refresh):"), omitted)
	return err
}
