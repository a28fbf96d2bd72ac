package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/oracle"
	"github.com/stream-pools/poolsync/pkg/retry"
)

// View selects which working set a reconciler maintains.
type View string

const (
	// ViewPools is the set of pools created by the account.
	ViewPools View = "pools"
	// ViewStreams is the set of streams the account receives.
	ViewStreams View = "streams"
)

func (v View) Valid() bool { return v == ViewPools || v == ViewStreams }

// State is the lifecycle state of a reconciler.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateTearingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateTearingDown:
		return "tearing-down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrNoIdentity is returned by Rebuild while no account is connected.
	ErrNoIdentity = errors.New("no identity connected")
	// ErrCapacityExceeded marks a pool reporting more recipient slots than the ledger allows.
	ErrCapacityExceeded = errors.New("recipient capacity exceeded")
	// ErrNotOwned is returned by PoolStreams for a pool outside the working set.
	ErrNotOwned = errors.New("pool not in working set")
)

// Ledger is the part of the gateway a reconciler reads and subscribes through.
type Ledger interface {
	ledger.Reader
	ledger.Subscriber
	TokenDecimals(ctx context.Context, asset common.Address) (uint8, error)
}

// Config tunes a reconciler.
type Config struct {
	View View
	// RefreshInterval is the timer trigger period.
	RefreshInterval time.Duration
	// ReadParallelism bounds concurrent per-identifier reads.
	ReadParallelism int
	// RecipientCapacity is the ledger's fixed number of recipient slots per pool.
	RecipientCapacity int
	// RebuildTimeout bounds a single rebuild.
	RebuildTimeout time.Duration
	// Retry applies to each per-identifier read.
	Retry retry.Config
}

func (c *Config) applyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 15 * time.Second
	}
	if c.ReadParallelism <= 0 {
		c.ReadParallelism = 8
	}
	if c.RecipientCapacity <= 0 {
		c.RecipientCapacity = 3
	}
	if c.RebuildTimeout <= 0 {
		c.RebuildTimeout = 25 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
}

// PoolRecord is one pool in the pools view.
type PoolRecord struct {
	ID             uint64
	Sender         common.Address
	Underlying     common.Address
	Recipients     []common.Address
	TotalDeposited *big.Int
	// Balance is the account's balance in the pool.
	Balance  *big.Int
	Solvency ledger.Solvency
	Decimals uint8
	Market   *oracle.MarketInfo
}

// NumberOfRecipients counts occupied slots.
func (p PoolRecord) NumberOfRecipients() int { return len(p.Recipients) }

// StreamRecord is one (pool, recipient) stream in the streams view.
type StreamRecord struct {
	PoolID          uint64
	Recipient       common.Address
	Sender          common.Address
	Underlying      common.Address
	RatePerSecond   *big.Int
	StartTime       uint64
	StopTime        uint64
	NoticePeriod    uint64
	ScheduledUpdate *ledger.StreamUpdate
	Balance         *big.Int
	Solvency        ledger.Solvency
	Decimals        uint8
	Market          *oracle.MarketInfo
}

// Ended reports the terminal state of the stream.
func (s StreamRecord) Ended() bool { return s.StartTime == s.StopTime }

// RecipientStream is one row of an owned pool's detail.
type RecipientStream struct {
	Recipient     common.Address
	RatePerSecond *big.Int
	StartTime     uint64
	StopTime      uint64
	NoticePeriod  uint64
	Balance       *big.Int
}

// Ended reports the terminal state of the stream.
func (s RecipientStream) Ended() bool { return s.StartTime == s.StopTime }

// Snapshot is an immutable working set. Readers get either the previous or the
// next snapshot, never a mix.
type Snapshot struct {
	View       View
	Account    common.Address
	Generation uint64
	BuiltAt    time.Time
	Pools      []PoolRecord
	Streams    []StreamRecord
	// Omitted lists identifiers whose reads failed in this cycle.
	Omitted []uint64
}

// IDs returns the identifiers present in the snapshot, in order.
func (s *Snapshot) IDs() []uint64 {
	if s == nil {
		return nil
	}
	out := make([]uint64, 0, len(s.Pools)+len(s.Streams))
	for _, p := range s.Pools {
		out = append(out, p.ID)
	}
	for _, st := range s.Streams {
		out = append(out, st.PoolID)
	}
	return out
}

// Len is the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Pools) + len(s.Streams)
}

// Pool returns the pool record with id.
func (s *Snapshot) Pool(id uint64) (PoolRecord, bool) {
	if s == nil {
		return PoolRecord{}, false
	}
	for _, p := range s.Pools {
		if p.ID == id {
			return p, true
		}
	}
	return PoolRecord{}, false
}
