// Package reconciler keeps an in-memory working set of ledger state fresh for
// one account and one view, driven by a refresh timer and by event pushes.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/pkg/identity"
	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/metrics"
	"github.com/stream-pools/poolsync/pkg/oracle"
	"github.com/stream-pools/poolsync/pkg/session"
)

// Trigger sources.
const (
	SourceTimer   = "timer"
	SourceEvent   = "event"
	SourceSession = "session"
	SourceManual  = "manual"
)

// activation is the per-identity part of an active reconciler. It is replaced
// as a whole on every identity change.
type activation struct {
	account common.Address
	ctx     context.Context
	cancel  context.CancelFunc
	trigger chan struct{}
	done    chan struct{}
}

// Reconciler owns one viewing context.
type Reconciler struct {
	cfg      Config
	ledger   Ledger
	oracle   oracle.Gateway
	resolver *identity.Resolver
	session  *session.Session
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// Cron drives the refresh timer. One entry at most is registered.
	Cron    *cron.Cron
	entryID cron.EntryID

	listeners *ledger.ListenerGroup
	workers   pond.Pool
	decimals  *xsync.Map[common.Address, uint8]

	// mu serializes lifecycle transitions. state is written under mu and read
	// without it.
	mu     sync.Mutex
	state  atomic.Int32
	root   context.Context
	active atomic.Pointer[activation]

	// rebuildMu serializes rebuilds and guards the subscription bookkeeping.
	rebuildMu  sync.Mutex
	subKeys    []string
	subsOK     bool
	generation uint64

	snapshot atomic.Pointer[Snapshot]
	rebuilt  atomic.Bool

	hooksMu sync.RWMutex
	hooks   []func(*Snapshot)
}

// Deps are the collaborators of a Reconciler. Oracle and Metrics are optional.
type Deps struct {
	Ledger  Ledger
	Oracle  oracle.Gateway
	Session *session.Session
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// New builds an idle reconciler.
func New(cfg Config, deps Deps) (*Reconciler, error) {
	if !cfg.View.Valid() {
		return nil, fmt.Errorf("unknown view %q", cfg.View)
	}
	if deps.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if deps.Session == nil {
		return nil, errors.New("session required")
	}
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("view", string(cfg.View)))

	r := &Reconciler{
		cfg:       cfg,
		ledger:    deps.Ledger,
		oracle:    deps.Oracle,
		resolver:  identity.NewResolver(deps.Ledger, logger),
		session:   deps.Session,
		metrics:   deps.Metrics,
		logger:    logger,
		Cron:      cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		listeners: ledger.NewListenerGroup(deps.Ledger, logger),
		workers:   pond.NewPool(cfg.ReadParallelism),
		decimals:  xsync.NewMap[common.Address, uint8](),
		root:      context.Background(),
	}
	r.snapshot.Store(&Snapshot{View: cfg.View})
	return r, nil
}

// View is the viewing context of the reconciler.
func (r *Reconciler) View() View { return r.cfg.View }

// Start begins observing the session. The current identity, if any, is
// activated immediately. ctx bounds every rebuild started afterwards.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	r.root = ctx
	r.mu.Unlock()

	r.Cron.Start()
	r.session.OnChange(func(session.Identity) { r.apply() })
	r.apply()
	r.logger.Info("Reconciler started", zap.Duration("refreshInterval", r.cfg.RefreshInterval))
}

// Stop tears the reconciler down for good. Later session changes are ignored.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.State() == StateStopped {
		r.mu.Unlock()
		return
	}
	r.teardownLocked()
	r.setState(StateStopped)
	r.mu.Unlock()

	<-r.Cron.Stop().Done()
	r.workers.StopAndWait()
	r.logger.Info("Reconciler stopped")
}

// State returns the lifecycle state.
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

func (r *Reconciler) setState(s State) {
	r.state.Store(int32(s))
}

// Account returns the active identity, if any.
func (r *Reconciler) Account() (common.Address, bool) {
	a := r.active.Load()
	if a == nil {
		return common.Address{}, false
	}
	return a.account, true
}

// Snapshot returns the current working set. It is never nil.
func (r *Reconciler) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Ready reports whether the reconciler is idle or has completed a rebuild for
// the current identity.
func (r *Reconciler) Ready() bool {
	if r.active.Load() == nil {
		return true
	}
	return r.rebuilt.Load()
}

// SubscriptionCount is the number of live event subscriptions.
func (r *Reconciler) SubscriptionCount() int {
	return r.listeners.Count()
}

// SubscriptionKeys lists the live filter keys, sorted.
func (r *Reconciler) SubscriptionKeys() []string {
	return r.listeners.Keys()
}

// TimerArmed reports whether the refresh timer entry is registered.
func (r *Reconciler) TimerArmed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entryID != 0
}

// OnRebuild registers fn to be called with every new snapshot, from the
// goroutine that rebuilt it. Calls may overlap. fn must not call Stop.
func (r *Reconciler) OnRebuild(fn func(*Snapshot)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// apply converges on the session's current identity. Observer calls can
// arrive out of order, so the notified value is not trusted.
func (r *Reconciler) apply() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State() == StateStopped {
		return
	}
	id := r.session.Current()
	if current := r.active.Load(); current != nil && id.Connected && current.account == id.Account {
		return
	}
	r.teardownLocked()
	if id.Connected {
		r.activateLocked(id.Account)
	}
}

func (r *Reconciler) activateLocked(account common.Address) {
	ctx, cancel := context.WithCancel(r.root)
	a := &activation{
		account: account,
		ctx:     ctx,
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	r.rebuilt.Store(false)
	r.active.Store(a)
	r.setState(StateActive)

	if r.entryID == 0 {
		r.entryID = r.Cron.Schedule(cron.Every(r.cfg.RefreshInterval), cron.FuncJob(func() {
			r.Trigger(SourceTimer)
		}))
	}

	go r.worker(a)
	r.enqueue(a, SourceSession)
	r.logger.Info("Reconciler activated", zap.String("account", account.Hex()))
}

// teardownLocked cancels the timer, stops the worker, removes every listener
// and clears the working set.
func (r *Reconciler) teardownLocked() {
	a := r.active.Swap(nil)
	if a == nil {
		return
	}
	r.setState(StateTearingDown)

	if r.entryID != 0 {
		r.Cron.Remove(r.entryID)
		r.entryID = 0
	}
	a.cancel()
	<-a.done

	r.rebuildMu.Lock()
	r.listeners.RemoveAllListeners()
	r.subKeys = nil
	r.subsOK = false
	r.rebuildMu.Unlock()

	r.snapshot.Store(&Snapshot{View: r.cfg.View})
	r.rebuilt.Store(false)
	r.metrics.SetSubscriptions(string(r.cfg.View), 0)
	r.metrics.SetWorkingSet(string(r.cfg.View), 0)
	r.setState(StateIdle)
	r.logger.Info("Reconciler torn down", zap.String("account", a.account.Hex()))
}

// Trigger requests a rebuild. Triggers arriving while a rebuild is queued
// coalesce into it. Without an identity the call is a no-op.
func (r *Reconciler) Trigger(source string) {
	a := r.active.Load()
	if a == nil {
		return
	}
	r.enqueue(a, source)
}

func (r *Reconciler) enqueue(a *activation, source string) {
	select {
	case a.trigger <- struct{}{}:
		r.metrics.IncTrigger(string(r.cfg.View), source)
	default:
		r.metrics.IncTrigger(string(r.cfg.View), "dropped")
	}
}

func (r *Reconciler) worker(a *activation) {
	defer close(a.done)
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.trigger:
			ctx, cancel := context.WithTimeout(a.ctx, r.cfg.RebuildTimeout)
			if _, err := r.rebuild(ctx, a); err != nil && a.ctx.Err() == nil {
				r.logger.Warn("Rebuild failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Rebuild runs a rebuild synchronously and returns the resulting snapshot. It
// waits for any rebuild already in progress.
func (r *Reconciler) Rebuild(ctx context.Context) (*Snapshot, error) {
	a := r.active.Load()
	if a == nil {
		return nil, ErrNoIdentity
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()
	return r.rebuild(ctx, a)
}

func (r *Reconciler) rebuild(ctx context.Context, a *activation) (*Snapshot, error) {
	snap, err := r.commit(ctx, a)
	if err != nil {
		return nil, err
	}

	r.hooksMu.RLock()
	hooks := slices.Clone(r.hooks)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		if a.ctx.Err() != nil {
			break
		}
		fn(snap)
	}
	return snap, nil
}

// commit builds a snapshot and swaps it in unless the identity changed
// meanwhile.
func (r *Reconciler) commit(ctx context.Context, a *activation) (*Snapshot, error) {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	started := time.Now()
	snap, err := r.buildSnapshot(ctx, a)
	r.metrics.ObserveRebuild(string(r.cfg.View), time.Since(started), err)
	if err != nil {
		return nil, err
	}
	// an identity change during the rebuild discards its result
	if a.ctx.Err() != nil || r.active.Load() != a {
		return nil, fmt.Errorf("rebuild for %s superseded: %w", a.account.Hex(), context.Canceled)
	}

	r.snapshot.Store(snap)
	r.rebuilt.Store(true)
	r.metrics.SetWorkingSet(string(r.cfg.View), snap.Len())
	r.resubscribe(ctx, a, snap)

	r.logger.Info("Working set rebuilt",
		zap.String("account", a.account.Hex()),
		zap.Uint64("generation", snap.Generation),
		zap.Int("records", snap.Len()),
		zap.Int("omitted", len(snap.Omitted)),
		zap.Int("subscriptions", r.listeners.Count()),
		zap.Duration("took", time.Since(started)))
	return snap, nil
}

func (r *Reconciler) buildSnapshot(ctx context.Context, a *activation) (*Snapshot, error) {
	var (
		ids []uint64
		err error
	)
	if r.cfg.View == ViewPools {
		ids, err = r.resolver.ResolveOwnedPoolIDs(ctx, a.account)
	} else {
		ids, err = r.resolver.ResolveParticipatingPoolIDs(ctx, a.account)
	}
	if err != nil {
		return nil, err
	}

	pools, streams, omitted := r.fetchAll(ctx, a.account, ids)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	r.attachMarkets(ctx, pools, streams)

	r.generation++
	return &Snapshot{
		View:       r.cfg.View,
		Account:    a.account,
		Generation: r.generation,
		BuiltAt:    time.Now().UTC(),
		Pools:      pools,
		Streams:    streams,
		Omitted:    omitted,
	}, nil
}

// resubscribe re-arms the listeners for the identifier set that was resolved.
// Omitted identifiers keep their filters: they are still part of the set, only
// their reads failed. An unchanged filter set is left alone.
func (r *Reconciler) resubscribe(ctx context.Context, a *activation, snap *Snapshot) {
	ids := append(snap.IDs(), snap.Omitted...)
	filters := Filters(r.cfg.View, a.account, ids)
	keys := sortedKeys(filters)
	if r.subsOK && slices.Equal(keys, r.subKeys) {
		return
	}

	r.listeners.RemoveAllListeners()
	var errs []error
	for _, f := range filters {
		if err := r.listeners.On(ctx, f, r.onEvent); err != nil {
			errs = append(errs, err)
		}
	}
	r.subKeys = keys
	r.subsOK = len(errs) == 0
	r.metrics.SetSubscriptions(string(r.cfg.View), r.listeners.Count())

	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("Some subscriptions failed, relying on the refresh timer",
			zap.Int("failed", len(errs)),
			zap.Int("live", r.listeners.Count()),
			zap.Error(err))
		return
	}
	r.logger.Debug("Subscriptions re-armed", zap.Int("count", len(filters)))
}

func (r *Reconciler) onEvent(ev ledger.Event) {
	r.logger.Debug("Ledger event",
		zap.Stringer("kind", ev.Kind),
		zap.Uint64("poolId", ev.PoolID),
		zap.Uint64("block", ev.BlockNumber))
	r.Trigger(SourceEvent)
}
