package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCaller struct {
	calls   int
	markets []common.Address
	err     error
	short   bool
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	m, err := viewABI.MethodById(msg.Data)
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.markets = args[2].([]common.Address)

	n := len(f.markets)
	if f.short {
		n--
	}
	symbols := make([]string, n)
	decimals := make([]uint8, n)
	apys := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		symbols[i] = "TKN" + string(rune('A'+i))
		decimals[i] = 18
		apys[i] = new(big.Int).Mul(big.NewInt(int64(i+1)), big.NewInt(1e18))
	}
	return m.Outputs.Pack(symbols, decimals, apys)
}

var (
	view  = common.HexToAddress("0x7000")
	euler = common.HexToAddress("0xe000")
	usdc  = common.HexToAddress("0xa001")
	dai   = common.HexToAddress("0xa002")
)

func TestQueryMarkets(t *testing.T) {
	caller := &fakeCaller{}
	v := NewEulerView(caller, view, euler, zaptest.NewLogger(t))

	got, err := v.QueryMarkets(context.Background(), []common.Address{usdc, dai, usdc})
	require.NoError(t, err)
	assert.Equal(t, 1, caller.calls)
	assert.Equal(t, []common.Address{usdc, dai}, caller.markets)
	require.Len(t, got, 2)
	assert.Equal(t, "TKNA", got[usdc].Symbol)
	assert.Equal(t, "TKNB", got[dai].Symbol)
	assert.Equal(t, uint8(18), got[dai].Decimals)
	assert.Equal(t, "2000000000000000000", got[dai].SupplyAPY.String())
}

func TestQueryMarketsEmpty(t *testing.T) {
	caller := &fakeCaller{}
	v := NewEulerView(caller, view, euler, nil)

	got, err := v.QueryMarkets(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, caller.calls)
}

func TestQueryMarketsFailures(t *testing.T) {
	tests := []struct {
		name   string
		caller *fakeCaller
	}{
		{name: "transport error", caller: &fakeCaller{err: errors.New("timeout")}},
		{name: "length mismatch", caller: &fakeCaller{short: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewEulerView(tt.caller, view, euler, zaptest.NewLogger(t))
			_, err := v.QueryMarkets(context.Background(), []common.Address{usdc, dai})
			assert.ErrorIs(t, err, ErrOracleUnavailable)
		})
	}
}
