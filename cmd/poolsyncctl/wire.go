package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/app/poolsync"
	"github.com/stream-pools/poolsync/pkg/action"
	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/logging"
	"github.com/stream-pools/poolsync/pkg/oracle"
	"github.com/stream-pools/poolsync/pkg/reconciler"
	"github.com/stream-pools/poolsync/pkg/session"
)

var errNoAccount = errors.New("no account: pass --account, or configure a signer or POOLSYNC_WATCH_ACCOUNT")

// Backend is what the commands need from the ledger.
type Backend interface {
	Submit(ctx context.Context, req action.Request) (action.Result, error)
	// Snapshot runs one rebuild of view for account. A zero account means the default one.
	Snapshot(ctx context.Context, view reconciler.View, account common.Address) (*reconciler.Snapshot, error)
	PoolStreams(ctx context.Context, account common.Address, poolID uint64) (reconciler.PoolRecord, []reconciler.RecipientStream, error)
	Close()
}

type app struct {
	verbose bool
	dial    func(ctx context.Context, verbose bool) (Backend, error)
}

func newApp() *app {
	return &app{dial: dialEth}
}

func (a *app) backend(ctx context.Context) (Backend, error) {
	return a.dial(ctx, a.verbose)
}

type ethBackend struct {
	cfg     poolsync.Config
	gw      *ledger.EthGateway
	client  *ethclient.Client
	markets oracle.Gateway
	logger  *zap.Logger
}

func dialEth(ctx context.Context, verbose bool) (Backend, error) {
	logger := zap.NewNop()
	if verbose {
		l, err := logging.NewTo("poolsyncctl", "stderr")
		if err != nil {
			return nil, err
		}
		logger = l
	}

	cfg, err := poolsync.LoadConfig()
	if err != nil {
		return nil, err
	}
	signer, err := cfg.Signer()
	if err != nil {
		return nil, fmt.Errorf("load signer: %w", err)
	}
	gw, client, err := ledger.Dial(ctx, cfg.Ledger, signer, logger)
	if err != nil {
		return nil, err
	}

	b := &ethBackend{cfg: cfg, gw: gw, client: client, logger: logger}
	if cfg.OracleView != nil {
		b.markets = oracle.NewEulerView(client, *cfg.OracleView, *cfg.OracleEuler, logger)
	}
	return b, nil
}

func (b *ethBackend) Close() {
	b.gw.UnsubscribeAll()
	b.client.Close()
	_ = b.logger.Sync()
}

func (b *ethBackend) Submit(ctx context.Context, req action.Request) (action.Result, error) {
	signer := b.gw.Signer()
	if signer == nil {
		return action.Result{}, ledger.ErrNoSigner
	}
	sess := session.New(b.logger)
	if err := sess.Connect(signer.Address()); err != nil {
		return action.Result{}, err
	}
	return action.NewBuilder(b.gw, sess, nil, b.logger).Submit(ctx, req)
}

func (b *ethBackend) account(account common.Address) (common.Address, error) {
	switch {
	case account != (common.Address{}):
		return account, nil
	case b.gw.Signer() != nil:
		return b.gw.Signer().Address(), nil
	case b.cfg.WatchAccount != nil:
		return *b.cfg.WatchAccount, nil
	default:
		return common.Address{}, errNoAccount
	}
}

// withView runs fn against a started reconciler that has completed one rebuild.
func (b *ethBackend) withView(ctx context.Context, view reconciler.View, account common.Address, fn func(*reconciler.Reconciler, *reconciler.Snapshot) error) error {
	account, err := b.account(account)
	if err != nil {
		return err
	}
	sess := session.New(b.logger)
	if err := sess.Connect(account); err != nil {
		return err
	}
	r, err := reconciler.New(b.cfg.Reconciler(view), reconciler.Deps{
		Ledger:  b.gw,
		Oracle:  b.markets,
		Session: sess,
		Logger:  b.logger,
	})
	if err != nil {
		return err
	}
	r.Start(ctx)
	defer r.Stop()

	snap, err := r.Rebuild(ctx)
	if err != nil {
		return err
	}
	return fn(r, snap)
}

func (b *ethBackend) Snapshot(ctx context.Context, view reconciler.View, account common.Address) (*reconciler.Snapshot, error) {
	var out *reconciler.Snapshot
	err := b.withView(ctx, view, account, func(_ *reconciler.Reconciler, snap *reconciler.Snapshot) error {
		out = snap
		return nil
	})
	return out, err
}

func (b *ethBackend) PoolStreams(ctx context.Context, account common.Address, poolID uint64) (reconciler.PoolRecord, []reconciler.RecipientStream, error) {
	var (
		pool    reconciler.PoolRecord
		streams []reconciler.RecipientStream
	)
	err := b.withView(ctx, reconciler.ViewPools, account, func(r *reconciler.Reconciler, _ *reconciler.Snapshot) error {
		var err error
		pool, streams, err = r.PoolStreams(ctx, poolID)
		return err
	})
	return pool, streams, err
}
