// Package action turns raw form input into exactly one ledger write, preceded
// by at most one token approval.
package action

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/metrics"
	"github.com/stream-pools/poolsync/pkg/units"
)

// ErrNotConnected is returned when no account is available to act for.
var ErrNotConnected = errors.New("no account connected")

// Ledger is what the builder needs from the gateway.
type Ledger interface {
	ledger.Writer
	ledger.Tokens
	GetPool(ctx context.Context, poolID uint64) (ledger.Pool, error)
}

// Identity supplies the acting account.
type Identity interface {
	CurrentAccount() (common.Address, bool)
}

// Result describes a write that was mined successfully.
type Result struct {
	Action Kind        `json:"action"`
	TxHash common.Hash `json:"txHash"`
	// ApprovalTxHash is set when an approval had to precede the write.
	ApprovalTxHash *common.Hash `json:"approvalTxHash,omitempty"`
}

// Builder validates requests and submits them.
type Builder struct {
	ledger   Ledger
	identity Identity
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewBuilder wires a Builder. m may be nil.
func NewBuilder(l Ledger, identity Identity, m *metrics.Metrics, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{ledger: l, identity: identity, metrics: m, logger: logger}
}

// Submit validates req, sends the write and waits until it is mined. A
// validation failure never reaches the ledger.
func (b *Builder) Submit(ctx context.Context, req Request) (Result, error) {
	res, err := b.submit(ctx, req)
	if !errors.Is(err, ErrValidation) {
		b.metrics.ObserveAction(string(req.Action), err)
	}
	if err != nil {
		b.logger.Warn("Action failed", zap.String("action", string(req.Action)), zap.Error(err))
		return Result{}, err
	}
	b.logger.Info("Action mined",
		zap.String("action", string(req.Action)),
		zap.String("txHash", res.TxHash.Hex()))
	return res, nil
}

func (b *Builder) submit(ctx context.Context, req Request) (Result, error) {
	if !req.Action.Valid() {
		return Result{}, invalid("action", "unknown action %q", req.Action)
	}
	res := Result{Action: req.Action}

	var (
		pending ledger.PendingTx
		err     error
	)
	switch req.Action {
	case KindCreate:
		pending, res.ApprovalTxHash, err = b.create(ctx, req)
	case KindAddRecipient:
		pending, err = b.addRecipient(ctx, req)
	case KindDeposit, KindWithdraw:
		pending, err = b.transfer(ctx, req)
	case KindScheduleUpdate:
		pending, err = b.scheduleUpdate(ctx, req)
	case KindExecuteUpdate:
		pending, err = b.executeUpdate(ctx, req)
	}
	if err != nil {
		return Result{}, err
	}
	if err := pending.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("wait for %s %s: %w", req.Action, pending.Hash().Hex(), err)
	}
	res.TxHash = pending.Hash()
	return res, nil
}

func (b *Builder) create(ctx context.Context, req Request) (ledger.PendingTx, *common.Hash, error) {
	underlying, err := parseAddress("underlying", req.Underlying)
	if err != nil {
		return nil, nil, err
	}
	if _, err := checkAmount("amount", req.Amount, false); err != nil {
		return nil, nil, err
	}
	owner, ok := b.identity.CurrentAccount()
	if !ok {
		return nil, nil, ErrNotConnected
	}
	decimals, err := b.ledger.TokenDecimals(ctx, underlying)
	if err != nil {
		return nil, nil, err
	}
	amount, err := parseAmount("amount", req.Amount, decimals)
	if err != nil {
		return nil, nil, err
	}

	approval, err := b.ensureAllowance(ctx, underlying, owner, amount)
	if err != nil {
		return nil, nil, err
	}
	pending, err := b.ledger.CreatePool(ctx, underlying, amount)
	if err != nil {
		return nil, nil, ledger.Rejected(string(KindCreate), err)
	}
	return pending, approval, nil
}

// ensureAllowance approves the maximum amount when the current allowance does
// not cover amount, and waits for the approval to be mined.
func (b *Builder) ensureAllowance(ctx context.Context, asset, owner common.Address, amount *big.Int) (*common.Hash, error) {
	allowance, err := b.ledger.Allowance(ctx, asset, owner)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil, nil
	}
	b.logger.Info("Allowance too low, approving",
		zap.String("asset", asset.Hex()),
		zap.String("allowance", allowance.String()),
		zap.String("amount", amount.String()))

	pending, err := b.ledger.Approve(ctx, asset, units.MaxUint256())
	if err != nil {
		return nil, ledger.Rejected("approve", err)
	}
	if err := pending.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for approval %s: %w", pending.Hash().Hex(), err)
	}
	hash := pending.Hash()
	return &hash, nil
}

// poolDecimals reads the live precision of a pool's underlying asset.
func (b *Builder) poolDecimals(ctx context.Context, poolID uint64) (uint8, error) {
	pool, err := b.ledger.GetPool(ctx, poolID)
	if err != nil {
		return 0, err
	}
	return b.ledger.TokenDecimals(ctx, pool.Underlying)
}

func (b *Builder) addRecipient(ctx context.Context, req Request) (ledger.PendingTx, error) {
	poolID, err := parsePoolID(req.PoolID)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		return nil, err
	}
	start, err := parseDate("startTime", req.StartTime)
	if err != nil {
		return nil, err
	}
	stop, err := parseDate("stopTime", req.StopTime)
	if err != nil {
		return nil, err
	}
	notice, err := parseNoticePeriod(req.NoticePeriodDays)
	if err != nil {
		return nil, err
	}
	if err := checkRate("ratePerDay", req.RatePerDay); err != nil {
		return nil, err
	}

	decimals, err := b.poolDecimals(ctx, poolID)
	if err != nil {
		return nil, err
	}
	rate, err := parseRate("ratePerDay", req.RatePerDay, decimals)
	if err != nil {
		return nil, err
	}
	pending, err := b.ledger.AddRecipient(ctx, ledger.AddRecipientParams{
		PoolID:        poolID,
		Recipient:     recipient,
		RatePerSecond: rate,
		StartTime:     start,
		StopTime:      stop,
		NoticePeriod:  notice,
	})
	if err != nil {
		return nil, ledger.Rejected(string(KindAddRecipient), err)
	}
	return pending, nil
}

func (b *Builder) transfer(ctx context.Context, req Request) (ledger.PendingTx, error) {
	poolID, err := parsePoolID(req.PoolID)
	if err != nil {
		return nil, err
	}
	isMax, err := checkAmount("amount", req.Amount, true)
	if err != nil {
		return nil, err
	}
	// the max sentinel goes out as is; the ledger resolves it against the balance
	amount := units.MaxUint256()
	if !isMax {
		decimals, err := b.poolDecimals(ctx, poolID)
		if err != nil {
			return nil, err
		}
		if amount, err = parseAmount("amount", req.Amount, decimals); err != nil {
			return nil, err
		}
	}

	var pending ledger.PendingTx
	if req.Action == KindDeposit {
		pending, err = b.ledger.Deposit(ctx, poolID, amount)
	} else {
		pending, err = b.ledger.Withdraw(ctx, poolID, amount)
	}
	if err != nil {
		return nil, ledger.Rejected(string(req.Action), err)
	}
	return pending, nil
}

func (b *Builder) scheduleUpdate(ctx context.Context, req Request) (ledger.PendingTx, error) {
	poolID, err := parsePoolID(req.PoolID)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		return nil, err
	}
	act, err := parseUpdateAction(req.UpdateAction)
	if err != nil {
		return nil, err
	}

	var param *big.Int
	switch act {
	case ledger.ActionRaise, ledger.ActionCut:
		if err := checkRate("updateParam", req.UpdateParam); err != nil {
			return nil, err
		}
		decimals, err := b.poolDecimals(ctx, poolID)
		if err != nil {
			return nil, err
		}
		if param, err = parseRate("updateParam", req.UpdateParam, decimals); err != nil {
			return nil, err
		}
	case ledger.ActionExtension:
		ts, err := parseDate("updateParam", req.UpdateParam)
		if err != nil {
			return nil, err
		}
		param = new(big.Int).SetUint64(ts)
	case ledger.ActionTermination:
		param = new(big.Int)
	}

	pending, err := b.ledger.ScheduleUpdate(ctx, ledger.ScheduleUpdateParams{
		PoolID:    poolID,
		Recipient: recipient,
		Action:    act,
		Parameter: param,
	})
	if err != nil {
		return nil, ledger.Rejected(string(KindScheduleUpdate), err)
	}
	return pending, nil
}

func (b *Builder) executeUpdate(ctx context.Context, req Request) (ledger.PendingTx, error) {
	poolID, err := parsePoolID(req.PoolID)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		return nil, err
	}
	pending, err := b.ledger.ExecuteUpdate(ctx, poolID, recipient)
	if err != nil {
		return nil, ledger.Rejected(string(KindExecuteUpdate), err)
	}
	return pending, nil
}
