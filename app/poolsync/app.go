package poolsync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/app/poolsync/types"
	"github.com/stream-pools/poolsync/pkg/action"
	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/logging"
	"github.com/stream-pools/poolsync/pkg/metrics"
	"github.com/stream-pools/poolsync/pkg/oracle"
	"github.com/stream-pools/poolsync/pkg/reconciler"
	"github.com/stream-pools/poolsync/pkg/redis"
	"github.com/stream-pools/poolsync/pkg/session"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Initialize wires the daemon from the environment.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New("poolsync")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	signer, err := cfg.Signer()
	if err != nil {
		logger.Fatal("Unable to load signer", zap.Error(err))
	}

	gw, client, err := ledger.Dial(ctx, cfg.Ledger, signer, logger)
	if err != nil {
		logger.Fatal("Unable to connect to the ledger", zap.Error(err))
	}

	var markets oracle.Gateway
	if cfg.OracleView != nil {
		markets = oracle.NewEulerView(client, *cfg.OracleView, *cfg.OracleEuler, logger)
	} else {
		logger.Info("Oracle disabled - market data will not be shown")
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - rebuild notices stay in-process", zap.Error(err))
			redisClient = nil
		}
	}

	app, err := Build(cfg, gw, markets, redisClient, logger)
	if err != nil {
		logger.Fatal("Unable to assemble the daemon", zap.Error(err))
	}
	app.Closers = append(app.Closers, closerFunc(func() error {
		gw.UnsubscribeAll()
		client.Close()
		return nil
	}))
	if redisClient != nil {
		app.Closers = append(app.Closers, redisClient)
	}

	if err := NewServer(app, cfg.Addr); err != nil {
		logger.Fatal("Unable to initialize server", zap.Error(err))
	}
	return app
}

// Build assembles both views, the action builder and the session on top of
// gw. markets and redisClient may be nil. The HTTP server is attached by NewServer.
func Build(cfg Config, gw *ledger.EthGateway, markets oracle.Gateway, redisClient *redis.Client, logger *zap.Logger) (*types.App, error) {
	sess := session.New(logger)
	m := metrics.New()

	deps := reconciler.Deps{Ledger: gw, Oracle: markets, Session: sess, Metrics: m, Logger: logger}
	pools, err := reconciler.New(cfg.Reconciler(reconciler.ViewPools), deps)
	if err != nil {
		return nil, fmt.Errorf("pools view: %w", err)
	}
	streams, err := reconciler.New(cfg.Reconciler(reconciler.ViewStreams), deps)
	if err != nil {
		return nil, fmt.Errorf("streams view: %w", err)
	}

	app := &types.App{
		Session:     sess,
		Pools:       pools,
		Streams:     streams,
		Metrics:     m,
		Hub:         types.NewHub(16),
		RedisClient: redisClient,
		Reconcilers: []types.Lifecycle{pools, streams},
		Logger:      logger,
	}
	pools.OnRebuild(app.Notify)
	streams.OnRebuild(app.Notify)

	if signer := gw.Signer(); signer != nil {
		addr := signer.Address()
		app.Signer = &addr
		app.Actions = action.NewBuilder(gw, sess, m, logger)
		if err := sess.Connect(addr); err != nil {
			return nil, err
		}
		logger.Info("Signing account connected", zap.String("account", addr.Hex()))
	} else if cfg.WatchAccount != nil {
		if err := sess.Connect(*cfg.WatchAccount); err != nil {
			return nil, err
		}
		logger.Info("Watching account read-only", zap.String("account", cfg.WatchAccount.Hex()))
	}
	return app, nil
}
