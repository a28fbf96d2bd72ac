package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reader captures the StreamPools read calls. Reads are side-effect free and may
// be retried freely.
type Reader interface {
	GetPool(ctx context.Context, poolID uint64) (Pool, error)
	GetStream(ctx context.Context, poolID uint64, recipient common.Address) (Stream, error)
	GetStreamUpdate(ctx context.Context, poolID uint64, recipient common.Address) (StreamUpdate, error)
	BalanceOf(ctx context.Context, poolID uint64, account common.Address) (*big.Int, error)
	IsSolvent(ctx context.Context, poolID uint64) (Solvency, error)
	// QueryEvents returns past events matching f in chain order.
	QueryEvents(ctx context.Context, f Filter) ([]Event, error)
}

// Subscription is a live event filter.
type Subscription interface {
	Unsubscribe()
}

// Subscriber registers push callbacks for event filters.
type Subscriber interface {
	Subscribe(ctx context.Context, f Filter, fn func(Event)) (Subscription, error)
	// UnsubscribeAll clears every subscription created through this subscriber.
	UnsubscribeAll()
}

// Writer submits the six StreamPools state transitions.
type Writer interface {
	CreatePool(ctx context.Context, underlying common.Address, amount *big.Int) (PendingTx, error)
	AddRecipient(ctx context.Context, p AddRecipientParams) (PendingTx, error)
	Deposit(ctx context.Context, poolID uint64, amount *big.Int) (PendingTx, error)
	Withdraw(ctx context.Context, poolID uint64, amount *big.Int) (PendingTx, error)
	ScheduleUpdate(ctx context.Context, p ScheduleUpdateParams) (PendingTx, error)
	ExecuteUpdate(ctx context.Context, poolID uint64, recipient common.Address) (PendingTx, error)
}

// Tokens covers the ERC-20 calls needed before a write: precision, and the
// allowance granted to the StreamPools contract.
type Tokens interface {
	TokenDecimals(ctx context.Context, asset common.Address) (uint8, error)
	Allowance(ctx context.Context, asset, owner common.Address) (*big.Int, error)
	Approve(ctx context.Context, asset common.Address, amount *big.Int) (PendingTx, error)
}

// Gateway is the full ledger surface.
type Gateway interface {
	Reader
	Subscriber
	Writer
	Tokens
}
