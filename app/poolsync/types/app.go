package types

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/pkg/action"
	"github.com/stream-pools/poolsync/pkg/metrics"
	"github.com/stream-pools/poolsync/pkg/reconciler"
	"github.com/stream-pools/poolsync/pkg/redis"
	"github.com/stream-pools/poolsync/pkg/session"
)

// ViewSource is a reconciler as seen by the HTTP layer.
type ViewSource interface {
	View() reconciler.View
	State() reconciler.State
	Ready() bool
	Snapshot() *reconciler.Snapshot
	Trigger(source string)
}

// PoolsSource adds the per-pool recipient detail of the pools view.
type PoolsSource interface {
	ViewSource
	PoolStreams(ctx context.Context, poolID uint64) (reconciler.PoolRecord, []reconciler.RecipientStream, error)
}

// Actions submits mutating requests.
type Actions interface {
	Submit(ctx context.Context, req action.Request) (action.Result, error)
}

// Lifecycle is a component started with the app and stopped on shutdown.
type Lifecycle interface {
	Start(ctx context.Context)
	Stop()
}

type App struct {
	Session *session.Session
	Pools   PoolsSource
	Streams ViewSource
	// Actions is nil when no signer is configured.
	Actions Actions
	// Signer is the signing account, if any. Session changes to another account are refused.
	Signer *common.Address

	Metrics *metrics.Metrics
	Hub     *Hub
	// RedisClient is nil when Redis is disabled; rebuild notices then stay in-process.
	RedisClient *redis.Client

	// Reconcilers are started and stopped with the app.
	Reconcilers []Lifecycle
	// Closers run last on shutdown.
	Closers []io.Closer

	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Notify fans a rebuilt snapshot out to websocket clients, through Redis when enabled.
func (a *App) Notify(snap *reconciler.Snapshot) {
	n := NewNotice(snap)
	if a.RedisClient == nil {
		a.Hub.Publish(n)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	a.RedisClient.PublishNotice(ctx, n)
}

// NewNotice summarizes a snapshot.
func NewNotice(snap *reconciler.Snapshot) redis.Notice {
	return redis.Notice{
		View:       string(snap.View),
		Account:    snap.Account.Hex(),
		Generation: snap.Generation,
		Records:    snap.Len(),
		Omitted:    snap.Omitted,
		BuiltAt:    snap.BuiltAt,
	}
}

// Ready reports whether every view is idle or has a working set.
func (a *App) Ready() bool {
	return a.Pools.Ready() && a.Streams.Ready()
}

// Start starts the application and blocks until ctx ends.
func (a *App) Start(ctx context.Context) {
	for _, r := range a.Reconcilers {
		r.Start(ctx)
	}
	if a.RedisClient != nil {
		go a.RedisClient.Relay(ctx, a.Hub.Publish)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	for _, r := range a.Reconcilers {
		r.Stop()
	}
	for _, c := range a.Closers {
		if err := c.Close(); err != nil {
			a.Logger.Error("Failed to close resource", zap.Error(err))
		}
	}
	a.Logger.Info("さようなら!")
}
