package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EVMClient is the subset of the Ethereum JSON-RPC API the gateway uses.
// *ethclient.Client satisfies it.
type EVMClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Opts configures an EthGateway.
type Opts struct {
	Endpoint     string
	ChainID      *big.Int
	PoolsAddress common.Address
	// FromBlock bounds event queries, usually the contract's deployment block.
	FromBlock uint64
	// GasLimit is the fixed ceiling used for every write.
	GasLimit     uint64
	RPS          int
	Burst        int
	Timeout      time.Duration
	PollInterval time.Duration
}

func (o *Opts) applyDefaults() {
	if o.ChainID == nil {
		o.ChainID = big.NewInt(1)
	}
	if o.GasLimit == 0 {
		o.GasLimit = 500000
	}
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
}

// EthGateway implements Gateway against a StreamPools deployment over JSON-RPC.
// Push subscriptions need a websocket or IPC endpoint; over HTTP Subscribe
// fails and callers fall back to polling.
type EthGateway struct {
	client  EVMClient
	opts    Opts
	signer  *Signer
	limiter *rate.Limiter
	logger  *zap.Logger

	subs   *xsync.Map[uint64, *logSubscription]
	nextID atomic.Uint64
}

// Dial connects to opts.Endpoint. signer may be nil for a read-only gateway.
func Dial(ctx context.Context, opts Opts, signer *Signer, logger *zap.Logger) (*EthGateway, *ethclient.Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, nil, fmt.Errorf("ledger endpoint required")
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w: %w", endpoint, ErrLedgerUnavailable, err)
	}
	return NewEthGateway(client, opts, signer, logger), client, nil
}

// NewEthGateway wraps an existing client.
func NewEthGateway(client EVMClient, opts Opts, signer *Signer, logger *zap.Logger) *EthGateway {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EthGateway{
		client:  client,
		opts:    opts,
		signer:  signer,
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		logger:  logger,
		subs:    xsync.NewMap[uint64, *logSubscription](),
	}
}

// Signer returns the configured signer, or nil.
func (g *EthGateway) Signer() *Signer { return g.signer }

func (g *EthGateway) wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

func (g *EthGateway) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if err := g.wait(ctx); err != nil {
		return nil, unavailable(method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, unavailable(method, err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, unavailable(method, fmt.Errorf("unpack: %w", err))
	}
	return out, nil
}

func (g *EthGateway) GetPool(ctx context.Context, poolID uint64) (Pool, error) {
	out, err := g.call(ctx, g.opts.PoolsAddress, poolsABI, "getPool", new(big.Int).SetUint64(poolID))
	if err != nil {
		return Pool{}, err
	}
	if len(out) != 4 {
		return Pool{}, unavailable("getPool", fmt.Errorf("got %d outputs", len(out)))
	}
	return Pool{
		ID:             poolID,
		Sender:         *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Underlying:     *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		TotalDeposited: *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		Recipients:     *abi.ConvertType(out[3], new([]common.Address)).(*[]common.Address),
	}, nil
}

func (g *EthGateway) GetStream(ctx context.Context, poolID uint64, recipient common.Address) (Stream, error) {
	out, err := g.call(ctx, g.opts.PoolsAddress, poolsABI, "getStream", new(big.Int).SetUint64(poolID), recipient)
	if err != nil {
		return Stream{}, err
	}
	if len(out) != 4 {
		return Stream{}, unavailable("getStream", fmt.Errorf("got %d outputs", len(out)))
	}
	return Stream{
		RatePerSecond: *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		StartTime:     *abi.ConvertType(out[1], new(uint64)).(*uint64),
		StopTime:      *abi.ConvertType(out[2], new(uint64)).(*uint64),
		NoticePeriod:  *abi.ConvertType(out[3], new(uint64)).(*uint64),
	}, nil
}

func (g *EthGateway) GetStreamUpdate(ctx context.Context, poolID uint64, recipient common.Address) (StreamUpdate, error) {
	out, err := g.call(ctx, g.opts.PoolsAddress, poolsABI, "getStreamUpdate", new(big.Int).SetUint64(poolID), recipient)
	if err != nil {
		return StreamUpdate{}, err
	}
	if len(out) != 3 {
		return StreamUpdate{}, unavailable("getStreamUpdate", fmt.Errorf("got %d outputs", len(out)))
	}
	return StreamUpdate{
		Action:    UpdateAction(*abi.ConvertType(out[0], new(uint8)).(*uint8)),
		Parameter: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Timestamp: *abi.ConvertType(out[2], new(uint64)).(*uint64),
	}, nil
}

func (g *EthGateway) BalanceOf(ctx context.Context, poolID uint64, account common.Address) (*big.Int, error) {
	out, err := g.call(ctx, g.opts.PoolsAddress, poolsABI, "balanceOf", new(big.Int).SetUint64(poolID), account)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, unavailable("balanceOf", fmt.Errorf("got %d outputs", len(out)))
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (g *EthGateway) IsSolvent(ctx context.Context, poolID uint64) (Solvency, error) {
	out, err := g.call(ctx, g.opts.PoolsAddress, poolsABI, "isSolvent", new(big.Int).SetUint64(poolID))
	if err != nil {
		return Solvency{}, err
	}
	if len(out) != 2 {
		return Solvency{}, unavailable("isSolvent", fmt.Errorf("got %d outputs", len(out)))
	}
	return NewSolvency(
		*abi.ConvertType(out[0], new(bool)).(*bool),
		*abi.ConvertType(out[1], new(uint64)).(*uint64),
	), nil
}

func (g *EthGateway) QueryEvents(ctx context.Context, f Filter) ([]Event, error) {
	if err := g.wait(ctx); err != nil {
		return nil, unavailable("queryEvents", err)
	}
	q := FilterQuery(g.opts.PoolsAddress, f, new(big.Int).SetUint64(g.opts.FromBlock))
	logs, err := g.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, unavailable("queryEvents "+f.Key(), err)
	}
	events := make([]Event, 0, len(logs))
	for _, l := range logs {
		ev, err := DecodeEvent(l)
		if err != nil {
			g.logger.Warn("Skipping undecodable log", zap.String("filter", f.Key()), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	SortEvents(events)
	return events, nil
}

// TokenDecimals reads decimals() of an ERC-20 asset.
func (g *EthGateway) TokenDecimals(ctx context.Context, asset common.Address) (uint8, error) {
	out, err := g.call(ctx, asset, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, unavailable("decimals", fmt.Errorf("got %d outputs", len(out)))
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// Allowance reads what owner allows the StreamPools contract to spend.
func (g *EthGateway) Allowance(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	out, err := g.call(ctx, asset, erc20ABI, "allowance", owner, g.opts.PoolsAddress)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, unavailable("allowance", fmt.Errorf("got %d outputs", len(out)))
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (g *EthGateway) Approve(ctx context.Context, asset common.Address, amount *big.Int) (PendingTx, error) {
	data, err := erc20ABI.Pack("approve", g.opts.PoolsAddress, amount)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return g.transact(ctx, "approve", asset, data)
}

func (g *EthGateway) CreatePool(ctx context.Context, underlying common.Address, amount *big.Int) (PendingTx, error) {
	return g.transactPools(ctx, "createPool", underlying, amount)
}

func (g *EthGateway) AddRecipient(ctx context.Context, p AddRecipientParams) (PendingTx, error) {
	return g.transactPools(ctx, "addRecipient",
		new(big.Int).SetUint64(p.PoolID), p.Recipient, p.RatePerSecond, p.StartTime, p.StopTime, p.NoticePeriod)
}

func (g *EthGateway) Deposit(ctx context.Context, poolID uint64, amount *big.Int) (PendingTx, error) {
	return g.transactPools(ctx, "deposit", new(big.Int).SetUint64(poolID), amount)
}

func (g *EthGateway) Withdraw(ctx context.Context, poolID uint64, amount *big.Int) (PendingTx, error) {
	return g.transactPools(ctx, "withdraw", new(big.Int).SetUint64(poolID), amount)
}

func (g *EthGateway) ScheduleUpdate(ctx context.Context, p ScheduleUpdateParams) (PendingTx, error) {
	param := p.Parameter
	if param == nil {
		param = new(big.Int)
	}
	return g.transactPools(ctx, "scheduleUpdate", new(big.Int).SetUint64(p.PoolID), p.Recipient, uint8(p.Action), param)
}

func (g *EthGateway) ExecuteUpdate(ctx context.Context, poolID uint64, recipient common.Address) (PendingTx, error) {
	return g.transactPools(ctx, "executeUpdate", new(big.Int).SetUint64(poolID), recipient)
}

func (g *EthGateway) transactPools(ctx context.Context, method string, args ...interface{}) (PendingTx, error) {
	data, err := poolsABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return g.transact(ctx, method, g.opts.PoolsAddress, data)
}

// transact signs and sends a call with the fixed gas ceiling; no estimation
// round-trip is made.
func (g *EthGateway) transact(ctx context.Context, action string, to common.Address, data []byte) (PendingTx, error) {
	if g.signer == nil {
		return nil, ErrNoSigner
	}
	if err := g.wait(ctx); err != nil {
		return nil, Rejected(action, err)
	}
	from := g.signer.Address()
	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, Rejected(action, fmt.Errorf("nonce: %w", err))
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, Rejected(action, fmt.Errorf("gas price: %w", err))
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      g.opts.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := g.signer.Sign(tx, g.opts.ChainID)
	if err != nil {
		return nil, Rejected(action, fmt.Errorf("sign: %w", err))
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return nil, Rejected(action, err)
	}
	g.logger.Info("Transaction submitted",
		zap.String("action", action),
		zap.String("txHash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gasLimit", g.opts.GasLimit))
	return &pendingTx{hash: signed.Hash(), action: action, client: g.client, pollInterval: g.opts.PollInterval}, nil
}
