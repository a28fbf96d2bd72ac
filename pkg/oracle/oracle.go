// Package oracle reads market metadata (symbol, decimals, supply APY) for the
// assets underlying pools.
package oracle

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/pkg/utils"
)

// ErrOracleUnavailable marks a failed market query.
var ErrOracleUnavailable = errors.New("oracle unavailable")

// MarketInfo is the oracle's view of one asset. SupplyAPY is scaled by 1e27
// (a ray), so APY in percent is SupplyAPY / 1e25.
type MarketInfo struct {
	Symbol    string
	Decimals  uint8
	SupplyAPY *big.Int
}

// Gateway queries market info for a batch of assets.
type Gateway interface {
	QueryMarkets(ctx context.Context, assets []common.Address) (map[common.Address]MarketInfo, error)
}

// Caller is the read-only subset of an Ethereum client the view needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

//go:embed abi/MarketView.json
var abiFS embed.FS

var viewABI = func() abi.ABI {
	raw, err := abiFS.ReadFile("abi/MarketView.json")
	if err != nil {
		panic(err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		panic(fmt.Sprintf("parse market view abi: %v", err))
	}
	return parsed
}()

// EulerView answers QueryMarkets with one doQuery call on the lending
// protocol's general view contract.
type EulerView struct {
	caller Caller
	view   common.Address
	euler  common.Address
	logger *zap.Logger
}

// NewEulerView binds the view contract at view, querying the protocol at euler.
func NewEulerView(caller Caller, view, euler common.Address, logger *zap.Logger) *EulerView {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EulerView{caller: caller, view: view, euler: euler, logger: logger}
}

// QueryMarkets returns info for every asset the view knows about. Duplicate
// assets are queried once.
func (v *EulerView) QueryMarkets(ctx context.Context, assets []common.Address) (map[common.Address]MarketInfo, error) {
	out := make(map[common.Address]MarketInfo, len(assets))
	markets := utils.Dedup(assets)
	if len(markets) == 0 {
		return out, nil
	}

	data, err := viewABI.Pack("doQuery", v.euler, common.Address{}, markets)
	if err != nil {
		return nil, fmt.Errorf("pack doQuery: %w", err)
	}
	raw, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &v.view, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("doQuery: %w: %w", ErrOracleUnavailable, err)
	}
	res, err := viewABI.Unpack("doQuery", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack doQuery: %w: %w", ErrOracleUnavailable, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("doQuery: %w: got %d outputs", ErrOracleUnavailable, len(res))
	}

	symbols := *abi.ConvertType(res[0], new([]string)).(*[]string)
	decimals := *abi.ConvertType(res[1], new([]uint8)).(*[]uint8)
	apys := *abi.ConvertType(res[2], new([]*big.Int)).(*[]*big.Int)
	if len(symbols) != len(markets) || len(decimals) != len(markets) || len(apys) != len(markets) {
		return nil, fmt.Errorf("doQuery: %w: result length mismatch", ErrOracleUnavailable)
	}

	for i, asset := range markets {
		out[asset] = MarketInfo{Symbol: symbols[i], Decimals: decimals[i], SupplyAPY: apys[i]}
	}
	v.logger.Debug("Queried markets", zap.Int("count", len(out)))
	return out, nil
}
