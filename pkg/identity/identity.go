// Package identity derives which pools an account owns or receives from by
// folding over the ledger's event history.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/utils"
)

// EventSource is the history query the resolver needs.
type EventSource interface {
	QueryEvents(ctx context.Context, f ledger.Filter) ([]ledger.Event, error)
}

// Resolver answers membership questions against a ledger.
type Resolver struct {
	source EventSource
	logger *zap.Logger
}

// NewResolver builds a Resolver over source.
func NewResolver(source EventSource, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{source: source, logger: logger}
}

// ResolveOwnedPoolIDs returns the pools created by account, in creation order.
func (r *Resolver) ResolveOwnedPoolIDs(ctx context.Context, account common.Address) ([]uint64, error) {
	events, err := r.query(ctx, ledger.ForAccount(ledger.EventPoolCreated, account))
	if err != nil {
		return nil, err
	}
	ids := OwnedPoolIDs(events, account)
	r.logger.Debug("Resolved owned pools",
		zap.String("account", account.Hex()),
		zap.Int("events", len(events)),
		zap.Int("pools", len(ids)))
	return ids, nil
}

// ResolveParticipatingPoolIDs returns the pools account has ever been added to
// as a recipient, in order of first addition.
func (r *Resolver) ResolveParticipatingPoolIDs(ctx context.Context, account common.Address) ([]uint64, error) {
	events, err := r.query(ctx, ledger.ForAccount(ledger.EventRecipientAdded, account))
	if err != nil {
		return nil, err
	}
	ids := ParticipatingPoolIDs(events, account)
	r.logger.Debug("Resolved participating pools",
		zap.String("account", account.Hex()),
		zap.Int("events", len(events)),
		zap.Int("pools", len(ids)))
	return ids, nil
}

func (r *Resolver) query(ctx context.Context, f ledger.Filter) ([]ledger.Event, error) {
	events, err := r.source.QueryEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", f.Key(), asUnavailable(err))
	}
	return events, nil
}

// asUnavailable makes sure any history failure carries ErrLedgerUnavailable.
func asUnavailable(err error) error {
	if errors.Is(err, ledger.ErrLedgerUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ledger.ErrLedgerUnavailable, err)
}

// OwnedPoolIDs folds PoolCreated events into the set of pools account created.
func OwnedPoolIDs(events []ledger.Event, account common.Address) []uint64 {
	return fold(events, ledger.EventPoolCreated, account)
}

// ParticipatingPoolIDs folds RecipientAdded events into the set of pools
// account was added to. Later removals do not drop a pool: its stream stays
// visible, ended, until the pool forgets the recipient.
func ParticipatingPoolIDs(events []ledger.Event, account common.Address) []uint64 {
	return fold(events, ledger.EventRecipientAdded, account)
}

func fold(events []ledger.Event, kind ledger.EventKind, account common.Address) []uint64 {
	ids := make([]uint64, 0, len(events))
	for _, ev := range events {
		if ev.Removed || ev.Kind != kind || ev.Account != account {
			continue
		}
		ids = append(ids, ev.PoolID)
	}
	return utils.Dedup(ids)
}
