package reconciler

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stream-pools/poolsync/pkg/ledger"
)

var poolScopedKinds = []ledger.EventKind{
	ledger.EventRecipientAdded,
	ledger.EventRecipientRemoved,
	ledger.EventDeposit,
	ledger.EventWithdrawal,
	ledger.EventStreamUpdateScheduled,
	ledger.EventStreamUpdateExecuted,
}

var recipientScopedKinds = []ledger.EventKind{
	ledger.EventRecipientAdded,
	ledger.EventRecipientRemoved,
	ledger.EventStreamUpdateScheduled,
	ledger.EventStreamUpdateExecuted,
	ledger.EventWithdrawal,
}

// GlobalFilters are the filters held regardless of the identifier set.
func GlobalFilters(view View, account common.Address) []ledger.Filter {
	switch view {
	case ViewPools:
		return []ledger.Filter{ledger.ForAccount(ledger.EventPoolCreated, account)}
	case ViewStreams:
		out := make([]ledger.Filter, 0, len(recipientScopedKinds))
		for _, kind := range recipientScopedKinds {
			out = append(out, ledger.ForAccount(kind, account))
		}
		return out
	}
	return nil
}

// PerIDFilters are the filters held for each identifier in the working set.
func PerIDFilters(view View, poolID uint64) []ledger.Filter {
	switch view {
	case ViewPools:
		out := make([]ledger.Filter, 0, len(poolScopedKinds))
		for _, kind := range poolScopedKinds {
			out = append(out, ledger.ForPool(kind, poolID))
		}
		return out
	case ViewStreams:
		return []ledger.Filter{ledger.ForPool(ledger.EventDeposit, poolID)}
	}
	return nil
}

// Filters is the complete filter set for account and ids.
func Filters(view View, account common.Address, ids []uint64) []ledger.Filter {
	out := GlobalFilters(view, account)
	for _, id := range ids {
		out = append(out, PerIDFilters(view, id)...)
	}
	return out
}

func sortedKeys(filters []ledger.Filter) []string {
	keys := ledger.FilterKeys(filters)
	slices.Sort(keys)
	return keys
}
