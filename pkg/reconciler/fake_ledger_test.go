package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/oracle"
)

type streamKey struct {
	pool    uint64
	account common.Address
}

// fakeLedger is an in-memory StreamPools.
type fakeLedger struct {
	mu sync.Mutex

	pools    map[uint64]ledger.Pool
	streams  map[streamKey]ledger.Stream
	updates  map[streamKey]ledger.StreamUpdate
	balances map[streamKey]*big.Int
	solvency map[uint64]ledger.Solvency
	events   []ledger.Event

	failPool      map[uint64]bool
	failHistory   bool
	failSubscribe bool

	subs        map[int]*fakeSubscription
	nextSub     int
	opened      int
	attempts    int
	updateReads []streamKey
}

type fakeSubscription struct {
	l      *fakeLedger
	id     int
	filter ledger.Filter
	fn     func(ledger.Event)
}

func (s *fakeSubscription) Unsubscribe() {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	delete(s.l.subs, s.id)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		pools:    map[uint64]ledger.Pool{},
		streams:  map[streamKey]ledger.Stream{},
		updates:  map[streamKey]ledger.StreamUpdate{},
		balances: map[streamKey]*big.Int{},
		solvency: map[uint64]ledger.Solvency{},
		failPool: map[uint64]bool{},
		subs:     map[int]*fakeSubscription{},
	}
}

// addPool registers a pool and its PoolCreated event.
func (l *fakeLedger) addPool(id uint64, sender, underlying common.Address, recipients ...common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slots := append([]common.Address(nil), recipients...)
	for len(slots) < 3 {
		slots = append(slots, common.Address{})
	}
	l.pools[id] = ledger.Pool{
		ID:             id,
		Sender:         sender,
		Underlying:     underlying,
		TotalDeposited: big.NewInt(1000),
		Recipients:     slots,
	}
	l.solvency[id] = ledger.NewSolvency(true, 86400*10)
	l.events = append(l.events, ledger.Event{Kind: ledger.EventPoolCreated, PoolID: id, Account: sender})
	for _, r := range recipients {
		if r == (common.Address{}) {
			continue
		}
		l.streams[streamKey{id, r}] = ledger.Stream{RatePerSecond: big.NewInt(1), StartTime: 100, StopTime: 200}
		l.events = append(l.events, ledger.Event{Kind: ledger.EventRecipientAdded, PoolID: id, Account: r})
	}
}

func (l *fakeLedger) addEvent(ev ledger.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *fakeLedger) setFailPool(id uint64, fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failPool[id] = fail
}

func (l *fakeLedger) setFailHistory(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failHistory = fail
}

func (l *fakeLedger) GetPool(_ context.Context, id uint64) (ledger.Pool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPool[id] {
		return ledger.Pool{}, fmt.Errorf("getPool(%d): %w", id, ledger.ErrLedgerUnavailable)
	}
	p, ok := l.pools[id]
	if !ok {
		return ledger.Pool{}, errors.New("no such pool")
	}
	return p, nil
}

func (l *fakeLedger) GetStream(_ context.Context, id uint64, recipient common.Address) (ledger.Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streams[streamKey{id, recipient}], nil
}

func (l *fakeLedger) GetStreamUpdate(_ context.Context, id uint64, recipient common.Address) (ledger.StreamUpdate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updateReads = append(l.updateReads, streamKey{id, recipient})
	return l.updates[streamKey{id, recipient}], nil
}

func (l *fakeLedger) BalanceOf(_ context.Context, id uint64, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[streamKey{id, account}]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (l *fakeLedger) IsSolvent(_ context.Context, id uint64) (ledger.Solvency, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.solvency[id], nil
}

func (l *fakeLedger) QueryEvents(_ context.Context, f ledger.Filter) ([]ledger.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failHistory {
		return nil, fmt.Errorf("eth_getLogs: %w", ledger.ErrLedgerUnavailable)
	}
	var out []ledger.Event
	for _, ev := range l.events {
		if f.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *fakeLedger) TokenDecimals(context.Context, common.Address) (uint8, error) {
	return 6, nil
}

func (l *fakeLedger) Subscribe(_ context.Context, f ledger.Filter, fn func(ledger.Event)) (ledger.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.failSubscribe {
		return nil, errors.New("filter not supported")
	}
	l.nextSub++
	l.opened++
	s := &fakeSubscription{l: l, id: l.nextSub, filter: f, fn: fn}
	l.subs[s.id] = s
	return s, nil
}

func (l *fakeLedger) UnsubscribeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = map[int]*fakeSubscription{}
}

func (l *fakeLedger) live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *fakeLedger) openedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

// emit delivers ev to every matching live subscription.
func (l *fakeLedger) emit(ev ledger.Event) {
	l.mu.Lock()
	var targets []func(ledger.Event)
	for _, s := range l.subs {
		if s.filter.Matches(ev) {
			targets = append(targets, s.fn)
		}
	}
	l.mu.Unlock()
	for _, fn := range targets {
		fn(ev)
	}
}

type fakeOracle struct {
	mu      sync.Mutex
	markets map[common.Address]oracle.MarketInfo
	err     error
	calls   int
}

func (o *fakeOracle) QueryMarkets(_ context.Context, assets []common.Address) (map[common.Address]oracle.MarketInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	out := map[common.Address]oracle.MarketInfo{}
	for _, a := range assets {
		if m, ok := o.markets[a]; ok {
			out[a] = m
		}
	}
	return out, nil
}
