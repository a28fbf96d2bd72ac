package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stream-pools/poolsync/pkg/action"
	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/projection"
	"github.com/stream-pools/poolsync/pkg/reconciler"
)

var (
	owner     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeBackend struct {
	requests []action.Request
	views    []reconciler.View
	accounts []common.Address
	snap     *reconciler.Snapshot
	err      error
	closed   int
}

func (f *fakeBackend) Submit(_ context.Context, req action.Request) (action.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return action.Result{}, f.err
	}
	res := action.Result{Action: req.Action, TxHash: common.HexToHash("0x01")}
	if req.Action == action.KindCreate {
		approval := common.HexToHash("0x02")
		res.ApprovalTxHash = &approval
	}
	return res, nil
}

func (f *fakeBackend) Snapshot(_ context.Context, view reconciler.View, account common.Address) (*reconciler.Snapshot, error) {
	f.views = append(f.views, view)
	f.accounts = append(f.accounts, account)
	return f.snap, f.err
}

func (f *fakeBackend) PoolStreams(_ context.Context, account common.Address, poolID uint64) (reconciler.PoolRecord, []reconciler.RecipientStream, error) {
	f.accounts = append(f.accounts, account)
	if f.err != nil {
		return reconciler.PoolRecord{}, nil, f.err
	}
	pool := reconciler.PoolRecord{ID: poolID, Decimals: 6}
	return pool, []reconciler.RecipientStream{{
		Recipient:     recipient,
		RatePerSecond: big.NewInt(1000),
		StartTime:     1,
		StopTime:      1_700_000_000,
		Balance:       big.NewInt(3_000_000),
	}}, nil
}

func (f *fakeBackend) Close() { f.closed++ }

func executeCLI(t *testing.T, backend *fakeBackend, args ...string) (string, error) {
	t.Helper()
	a := &app{dial: func(context.Context, bool) (Backend, error) { return backend, nil }}
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// TestActionFlagsBecomeRequest maps each command's flags onto request fields.
func TestActionFlagsBecomeRequest(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want action.Request
	}{
		{
			name: "deposit max",
			args: []string{"deposit", "--pool", "7", "--amount", "max"},
			want: action.Request{Action: action.KindDeposit, PoolID: "7", Amount: "max"},
		},
		{
			name: "add recipient",
			args: []string{"add-recipient", "--pool", "7", "--recipient", recipient.Hex(), "--rate-per-day", "86.4",
				"--start", "2024-01-01", "--stop", "2024-02-01", "--notice-days", "2"},
			want: action.Request{Action: action.KindAddRecipient, PoolID: "7", Recipient: recipient.Hex(), RatePerDay: "86.4",
				StartTime: "2024-01-01", StopTime: "2024-02-01", NoticePeriodDays: "2"},
		},
		{
			name: "schedule update",
			args: []string{"schedule-update", "--pool", "3", "--recipient", recipient.Hex(), "--update-action", "RAISE", "--param", "10"},
			want: action.Request{Action: action.KindScheduleUpdate, PoolID: "3", Recipient: recipient.Hex(), UpdateAction: "RAISE", UpdateParam: "10"},
		},
		{
			name: "execute update",
			args: []string{"execute-update", "--pool", "3", "--recipient", recipient.Hex()},
			want: action.Request{Action: action.KindExecuteUpdate, PoolID: "3", Recipient: recipient.Hex()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			out, err := executeCLI(t, backend, tt.args...)
			require.NoError(t, err)
			require.Len(t, backend.requests, 1)
			assert.Equal(t, tt.want, backend.requests[0])
			assert.Contains(t, out, string(tt.want.Action)+": 0x")
			assert.Equal(t, 1, backend.closed)
		})
	}
}

func TestCreatePrintsApproval(t *testing.T) {
	backend := &fakeBackend{}
	out, err := executeCLI(t, backend, "create", "--underlying", owner.Hex(), "--amount", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "approval: 0x")
	assert.Contains(t, out, "create: 0x")
}

func TestActionErrorSurfaces(t *testing.T) {
	backend := &fakeBackend{err: ledger.Rejected("withdraw", fmt.Errorf("execution reverted: insufficient balance"))}
	_, err := executeCLI(t, backend, "withdraw", "--pool", "1", "--amount", "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrTransactionRejected)
	assert.Contains(t, err.Error(), "insufficient balance")
}

// TestPoolsTable prints one row per pool and the omitted identifiers.
func TestPoolsTable(t *testing.T) {
	backend := &fakeBackend{snap: &reconciler.Snapshot{
		View: reconciler.ViewPools,
		Pools: []reconciler.PoolRecord{{
			ID:         7,
			Recipients: []common.Address{recipient},
			Balance:    big.NewInt(1_000_000_000),
			Solvency:   ledger.NewSolvency(true, ^uint64(0)),
			Decimals:   6,
		}},
		Omitted: []uint64{9},
	}}

	out, err := executeCLI(t, backend, "pools", "--account", owner.Hex())
	require.NoError(t, err)
	assert.Equal(t, []reconciler.View{reconciler.ViewPools}, backend.views)
	assert.Equal(t, []common.Address{owner}, backend.accounts)
	assert.Contains(t, out, "POOL")
	assert.Contains(t, out, "1000.0")
	assert.Contains(t, out, projection.Infinite)
	assert.Contains(t, out, "[9]")
}

func TestStreamsJSON(t *testing.T) {
	backend := &fakeBackend{snap: &reconciler.Snapshot{
		View: reconciler.ViewStreams,
		Streams: []reconciler.StreamRecord{{
			PoolID:        4,
			Sender:        owner,
			RatePerSecond: big.NewInt(1000),
			StartTime:     5,
			StopTime:      5,
			Balance:       big.NewInt(0),
			Decimals:      6,
		}},
	}}

	out, err := executeCLI(t, backend, "streams", "--json")
	require.NoError(t, err)
	assert.Equal(t, []common.Address{{}}, backend.accounts)

	var rows []projection.StreamRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(4), rows[0].PoolID)
	assert.Equal(t, "YES", rows[0].HasEnded)
	assert.Equal(t, "86.4", rows[0].RatePerDay)
}

func TestPoolStreamsCommand(t *testing.T) {
	backend := &fakeBackend{}
	out, err := executeCLI(t, backend, "pool-streams", "7")
	require.NoError(t, err)
	assert.Contains(t, out, recipient.Hex())
	assert.Contains(t, out, "3.0")

	_, err = executeCLI(t, backend, "pool-streams", "seven")
	assert.Error(t, err)
	_, err = executeCLI(t, backend, "pools", "--account", "nope")
	assert.Error(t, err)
}
