package projection

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/oracle"
	"github.com/stream-pools/poolsync/pkg/reconciler"
)

var (
	sender    = common.HexToAddress("0x1234567890123456789012345678901234567890")
	recipient = common.HexToAddress("0x9999999999999999999999999999999999999999")
	asset     = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

// TestPoolRowInfiniteHorizon covers a solvent pool with one recipient and market data.
func TestPoolRowInfiniteHorizon(t *testing.T) {
	apy, ok := new(big.Int).SetString("25000000000000000000000000", 10)
	require.True(t, ok)

	row := Pool(reconciler.PoolRecord{
		ID:         7,
		Sender:     sender,
		Underlying: asset,
		Recipients: []common.Address{recipient},
		Balance:    big.NewInt(1_000_000_000),
		Solvency:   ledger.NewSolvency(true, ^uint64(0)),
		Decimals:   6,
		Market:     &oracle.MarketInfo{Symbol: "eUSDC", Decimals: 6, SupplyAPY: apy},
	})

	assert.Equal(t, uint64(7), row.PoolID)
	assert.Equal(t, "1000.0", row.Balance)
	assert.Equal(t, "eUSDC", row.Underlying)
	assert.Equal(t, "2.50%", row.APY)
	assert.Equal(t, 1, row.NumberOfRecipients)
	assert.Equal(t, []string{recipient.Hex()}, row.Recipients)
	assert.Equal(t, "YES", row.IsSolvent)
	assert.Equal(t, Infinite, row.DaysUntilInsolvent)
	assert.True(t, row.InfoEnabled)
}

// TestPoolRowWithoutMarket falls back to the asset address and no APY.
func TestPoolRowWithoutMarket(t *testing.T) {
	row := Pool(reconciler.PoolRecord{
		ID:         3,
		Underlying: asset,
		Balance:    big.NewInt(0),
		Solvency:   ledger.NewSolvency(false, 0),
		Decimals:   18,
	})

	assert.Equal(t, "0x5555...5555", row.Underlying)
	assert.Equal(t, NoValue, row.APY)
	assert.Equal(t, "NO", row.IsSolvent)
	assert.Equal(t, "0", row.DaysUntilInsolvent)
	assert.Equal(t, 0, row.NumberOfRecipients)
	assert.False(t, row.InfoEnabled)
}

func TestHorizonRounding(t *testing.T) {
	tests := []struct {
		name    string
		seconds uint64
		want    string
	}{
		{"zero", 0, "0"},
		{"just under half", 2*86400 + 43199, "2"},
		{"half rounds up", 2*86400 + 43200, "3"},
		{"whole days", 5 * 86400, "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Horizon(ledger.NewSolvency(true, tt.seconds)))
		})
	}
}

// TestStreamRow checks every column of a stream row.
func TestStreamRow(t *testing.T) {
	row := Stream(reconciler.StreamRecord{
		PoolID:        7,
		Recipient:     recipient,
		Sender:        sender,
		Underlying:    asset,
		RatePerSecond: big.NewInt(1000),
		StartTime:     1_690_000_000,
		StopTime:      1_700_000_000,
		NoticePeriod:  2*86400 + 3600,
		Balance:       big.NewInt(1_500_000),
		Solvency:      ledger.NewSolvency(true, 10*86400),
		Decimals:      6,
	})

	assert.Equal(t, "0x1234...7890", row.Sender)
	assert.Equal(t, "1.5", row.Balance)
	assert.Equal(t, "86.4", row.RatePerDay)
	assert.Equal(t, "11/14/2023", row.EndDate)
	assert.Equal(t, "NO", row.HasEnded)
	assert.Equal(t, "2", row.NoticePeriodDays)
	assert.Equal(t, "YES", row.PoolIsSolvent)
	assert.Equal(t, "10", row.DaysUntilInsolvent)
	assert.Equal(t, "NO", row.UpdateScheduled)
	assert.Equal(t, NoValue, row.APY)
}

// TestStreamRowEnded treats start == stop as ended.
func TestStreamRowEnded(t *testing.T) {
	row := Stream(reconciler.StreamRecord{
		RatePerSecond: big.NewInt(0),
		StartTime:     1_700_000_000,
		StopTime:      1_700_000_000,
		Balance:       big.NewInt(0),
		ScheduledUpdate: &ledger.StreamUpdate{
			Action:    ledger.ActionTermination,
			Parameter: big.NewInt(0),
			Timestamp: 1_700_000_000,
		},
	})
	assert.Equal(t, "YES", row.HasEnded)
	assert.Equal(t, "TERMINATION at 11/14/2023", row.UpdateScheduled)
}

func TestUpdateMessage(t *testing.T) {
	tests := []struct {
		name   string
		update ledger.StreamUpdate
		want   string
	}{
		{
			name:   "raise",
			update: ledger.StreamUpdate{Action: ledger.ActionRaise, Parameter: big.NewInt(2000), Timestamp: 1_700_000_000},
			want:   "RAISE to 172.8 at 11/14/2023",
		},
		{
			name:   "cut",
			update: ledger.StreamUpdate{Action: ledger.ActionCut, Parameter: big.NewInt(500), Timestamp: 1_700_086_400},
			want:   "CUT to 43.2 at 11/15/2023",
		},
		{
			name:   "extension",
			update: ledger.StreamUpdate{Action: ledger.ActionExtension, Parameter: big.NewInt(1_700_086_400), Timestamp: 1_700_000_000},
			want:   "EXTENSION to 11/15/2023",
		},
		{
			name:   "termination at date",
			update: ledger.StreamUpdate{Action: ledger.ActionTermination, Parameter: big.NewInt(1_700_086_400), Timestamp: 1_700_000_000},
			want:   "TERMINATION at 11/15/2023",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UpdateMessage(tt.update, 6))
		})
	}
}

// TestRecipientStreamsSkipsFreeSlots drops zero recipients and uses the pool's asset.
func TestRecipientStreamsSkipsFreeSlots(t *testing.T) {
	pool := reconciler.PoolRecord{
		ID:         7,
		Underlying: asset,
		Decimals:   6,
		Market:     &oracle.MarketInfo{Symbol: "eUSDC"},
	}
	rows := RecipientStreams(pool, []reconciler.RecipientStream{
		{Recipient: recipient, RatePerSecond: big.NewInt(1000), StartTime: 1, StopTime: 1_700_000_000, NoticePeriod: 86400, Balance: big.NewInt(2_000_000)},
		{Recipient: common.Address{}},
	})

	require.Len(t, rows, 1)
	assert.Equal(t, recipient.Hex(), rows[0].Recipient)
	assert.Equal(t, "2.0", rows[0].Balance)
	assert.Equal(t, "86.4", rows[0].RatePerDay)
	assert.Equal(t, "eUSDC", rows[0].Underlying)
	assert.Equal(t, "11/14/2023", rows[0].EndDate)
	assert.Equal(t, "NO", rows[0].HasEnded)
	assert.Equal(t, "1", rows[0].NoticePeriodDays)
}

func TestSnapshotProjectionsTolerateNil(t *testing.T) {
	assert.Empty(t, Pools(nil))
	assert.Empty(t, Streams(nil))
	assert.NotNil(t, Pools(nil))
}
