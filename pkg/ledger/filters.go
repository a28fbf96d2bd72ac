package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Filter selects StreamPools events by kind and, optionally, by pool and by the
// event's indexed account. Nil fields match anything.
type Filter struct {
	Kind    EventKind
	PoolID  *uint64
	Account *common.Address
}

// ForPool builds a filter scoped to one pool.
func ForPool(kind EventKind, poolID uint64) Filter {
	return Filter{Kind: kind, PoolID: &poolID}
}

// ForAccount builds a filter scoped to one account.
func ForAccount(kind EventKind, account common.Address) Filter {
	return Filter{Kind: kind, Account: &account}
}

// ForPoolAccount builds a filter scoped to one (pool, account) key.
func ForPoolAccount(kind EventKind, poolID uint64, account common.Address) Filter {
	return Filter{Kind: kind, PoolID: &poolID, Account: &account}
}

// Key is a stable identity for the filter; two filters with the same key select
// the same events.
func (f Filter) Key() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	b.WriteString("(pool=")
	if f.PoolID != nil {
		fmt.Fprintf(&b, "%d", *f.PoolID)
	} else {
		b.WriteString("*")
	}
	b.WriteString(",account=")
	if f.Account != nil {
		b.WriteString(strings.ToLower(f.Account.Hex()))
	} else {
		b.WriteString("*")
	}
	b.WriteString(")")
	return b.String()
}

func (f Filter) String() string { return f.Key() }

// Matches reports whether ev satisfies the filter.
func (f Filter) Matches(ev Event) bool {
	if ev.Kind != f.Kind {
		return false
	}
	if f.PoolID != nil && ev.PoolID != *f.PoolID {
		return false
	}
	if f.Account != nil && ev.Account != *f.Account {
		return false
	}
	return true
}

// FilterKeys returns the keys of filters in input order.
func FilterKeys(filters []Filter) []string {
	keys := make([]string, 0, len(filters))
	for _, f := range filters {
		keys = append(keys, f.Key())
	}
	return keys
}
