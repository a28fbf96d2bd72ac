package ledger

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SecondsPerDay converts the contract's per-second figures to per-day figures.
const SecondsPerDay = 24 * 60 * 60

// EventKind enumerates the StreamPools events the engine listens to.
type EventKind uint8

const (
	EventPoolCreated EventKind = iota + 1
	EventRecipientAdded
	EventRecipientRemoved
	EventDeposit
	EventWithdrawal
	EventStreamUpdateScheduled
	EventStreamUpdateExecuted
)

var eventNames = map[EventKind]string{
	EventPoolCreated:           "PoolCreated",
	EventRecipientAdded:        "RecipientAdded",
	EventRecipientRemoved:      "RecipientRemoved",
	EventDeposit:               "Deposit",
	EventWithdrawal:            "Withdrawal",
	EventStreamUpdateScheduled: "StreamUpdateScheduled",
	EventStreamUpdateExecuted:  "StreamUpdateExecuted",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is a decoded StreamPools log. Account is the indexed address of the
// event: the sender for PoolCreated, the depositor for Deposit, the recipient
// otherwise.
type Event struct {
	Kind        EventKind
	PoolID      uint64
	Account     common.Address
	BlockNumber uint64
	TxHash      common.Hash
	Index       uint
	Removed     bool
}

// Pool mirrors getPool. Recipients holds every slot, free ones as the zero address.
type Pool struct {
	ID             uint64
	Sender         common.Address
	Underlying     common.Address
	TotalDeposited *big.Int
	Recipients     []common.Address
}

// ActiveRecipients returns the occupied recipient slots in slot order.
func (p Pool) ActiveRecipients() []common.Address {
	out := make([]common.Address, 0, len(p.Recipients))
	for _, r := range p.Recipients {
		if r == (common.Address{}) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Stream mirrors getStream for one (pool, recipient) key.
type Stream struct {
	RatePerSecond *big.Int
	StartTime     uint64
	StopTime      uint64
	NoticePeriod  uint64
}

// Ended reports the terminal state of a stream.
func (s Stream) Ended() bool { return s.StartTime == s.StopTime }

// UpdateAction is the kind of a scheduled stream update.
type UpdateAction uint8

const (
	ActionRaise       UpdateAction = 1
	ActionExtension   UpdateAction = 2
	ActionCut         UpdateAction = 3
	ActionTermination UpdateAction = 4
)

func (a UpdateAction) Valid() bool { return a >= ActionRaise && a <= ActionTermination }

func (a UpdateAction) String() string {
	switch a {
	case ActionRaise:
		return "RAISE"
	case ActionExtension:
		return "EXTENSION"
	case ActionCut:
		return "CUT"
	case ActionTermination:
		return "TERMINATION"
	default:
		return fmt.Sprintf("UpdateAction(%d)", uint8(a))
	}
}

// StreamUpdate mirrors getStreamUpdate.
type StreamUpdate struct {
	Action    UpdateAction
	Parameter *big.Int
	Timestamp uint64
}

// Solvency mirrors isSolvent. Infinite replaces the MaxUint64 sentinel.
type Solvency struct {
	Solvent               bool
	SecondsUntilInsolvent uint64
	Infinite              bool
}

// NewSolvency maps the ledger's raw pair onto a Solvency.
func NewSolvency(solvent bool, howLong uint64) Solvency {
	if howLong == math.MaxUint64 {
		return Solvency{Solvent: solvent, Infinite: true}
	}
	return Solvency{Solvent: solvent, SecondsUntilInsolvent: howLong}
}

// PendingTx resolves to nil once the transaction is mined successfully, or to a
// RejectedError otherwise.
type PendingTx interface {
	Hash() common.Hash
	Wait(ctx context.Context) error
}

// AddRecipientParams are the already converted addRecipient arguments.
type AddRecipientParams struct {
	PoolID        uint64
	Recipient     common.Address
	RatePerSecond *big.Int
	StartTime     uint64
	StopTime      uint64
	NoticePeriod  uint64
}

// ScheduleUpdateParams are the already converted scheduleUpdate arguments.
type ScheduleUpdateParams struct {
	PoolID    uint64
	Recipient common.Address
	Action    UpdateAction
	Parameter *big.Int
}
