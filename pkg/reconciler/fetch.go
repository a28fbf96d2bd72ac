package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/oracle"
	"github.com/stream-pools/poolsync/pkg/retry"
)

// HasPendingUpdate reports whether a (pool, recipient) key has a scheduled
// update that was not executed yet.
func HasPendingUpdate(scheduled, executed int) bool {
	return scheduled > executed
}

type fetchResult struct {
	pool   *PoolRecord
	stream *StreamRecord
	err    error
}

// fetchAll reads every identifier concurrently. Identifiers whose reads fail
// are returned in omitted; the others keep the order of ids.
func (r *Reconciler) fetchAll(ctx context.Context, account common.Address, ids []uint64) ([]PoolRecord, []StreamRecord, []uint64) {
	results := make([]fetchResult, len(ids))

	group := r.workers.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, id := range ids {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				results[i].err = err
				return
			}
			results[i] = r.fetchOne(groupCtx, account, id)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("Parallel ledger reads encountered error", zap.Error(err))
	}

	var (
		pools   []PoolRecord
		streams []StreamRecord
		omitted []uint64
	)
	for i, res := range results {
		switch {
		case res.err != nil:
			omitted = append(omitted, ids[i])
			r.metrics.IncReadFailure(string(r.cfg.View))
			r.logger.Warn("Omitting identifier from working set",
				zap.Uint64("poolId", ids[i]),
				zap.Error(res.err))
		case res.pool != nil:
			pools = append(pools, *res.pool)
		case res.stream != nil:
			streams = append(streams, *res.stream)
		default:
			omitted = append(omitted, ids[i])
		}
	}
	return pools, streams, omitted
}

func (r *Reconciler) fetchOne(ctx context.Context, account common.Address, id uint64) fetchResult {
	cfg := r.cfg.Retry
	cfg.Retryable = func(err error) bool { return !errors.Is(err, ErrCapacityExceeded) }

	var res fetchResult
	err := retry.WithBackoff(ctx, cfg, r.logger, fmt.Sprintf("read pool %d", id), func() error {
		var err error
		if r.cfg.View == ViewPools {
			res.pool, err = r.readPool(ctx, account, id)
		} else {
			res.stream, err = r.readStream(ctx, account, id)
		}
		return err
	})
	if err != nil {
		return fetchResult{err: err}
	}
	return res
}

func (r *Reconciler) readPoolCommon(ctx context.Context, id uint64) (ledger.Pool, uint8, error) {
	pool, err := r.ledger.GetPool(ctx, id)
	if err != nil {
		return ledger.Pool{}, 0, err
	}
	if len(pool.Recipients) > r.cfg.RecipientCapacity {
		return ledger.Pool{}, 0, fmt.Errorf("pool %d reports %d recipient slots, capacity %d: %w",
			id, len(pool.Recipients), r.cfg.RecipientCapacity, ErrCapacityExceeded)
	}
	decimals, err := r.tokenDecimals(ctx, pool.Underlying)
	if err != nil {
		return ledger.Pool{}, 0, err
	}
	return pool, decimals, nil
}

func (r *Reconciler) readPool(ctx context.Context, account common.Address, id uint64) (*PoolRecord, error) {
	pool, decimals, err := r.readPoolCommon(ctx, id)
	if err != nil {
		return nil, err
	}
	balance, err := r.ledger.BalanceOf(ctx, id, account)
	if err != nil {
		return nil, err
	}
	solvency, err := r.ledger.IsSolvent(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PoolRecord{
		ID:             id,
		Sender:         pool.Sender,
		Underlying:     pool.Underlying,
		Recipients:     pool.ActiveRecipients(),
		TotalDeposited: pool.TotalDeposited,
		Balance:        balance,
		Solvency:       solvency,
		Decimals:       decimals,
	}, nil
}

func (r *Reconciler) readStream(ctx context.Context, account common.Address, id uint64) (*StreamRecord, error) {
	pool, decimals, err := r.readPoolCommon(ctx, id)
	if err != nil {
		return nil, err
	}
	stream, err := r.ledger.GetStream(ctx, id, account)
	if err != nil {
		return nil, err
	}
	balance, err := r.ledger.BalanceOf(ctx, id, account)
	if err != nil {
		return nil, err
	}
	solvency, err := r.ledger.IsSolvent(ctx, id)
	if err != nil {
		return nil, err
	}

	scheduled, err := r.countEvents(ctx, ledger.ForPoolAccount(ledger.EventStreamUpdateScheduled, id, account))
	if err != nil {
		return nil, err
	}
	executed, err := r.countEvents(ctx, ledger.ForPoolAccount(ledger.EventStreamUpdateExecuted, id, account))
	if err != nil {
		return nil, err
	}
	var update *ledger.StreamUpdate
	if HasPendingUpdate(scheduled, executed) {
		u, err := r.ledger.GetStreamUpdate(ctx, id, account)
		if err != nil {
			return nil, err
		}
		update = &u
	}

	return &StreamRecord{
		PoolID:          id,
		Recipient:       account,
		Sender:          pool.Sender,
		Underlying:      pool.Underlying,
		RatePerSecond:   stream.RatePerSecond,
		StartTime:       stream.StartTime,
		StopTime:        stream.StopTime,
		NoticePeriod:    stream.NoticePeriod,
		ScheduledUpdate: update,
		Balance:         balance,
		Solvency:        solvency,
		Decimals:        decimals,
	}, nil
}

func (r *Reconciler) countEvents(ctx context.Context, f ledger.Filter) (int, error) {
	events, err := r.ledger.QueryEvents(ctx, f)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range events {
		if !ev.Removed {
			n++
		}
	}
	return n, nil
}

// tokenDecimals caches decimals per asset; they never change.
func (r *Reconciler) tokenDecimals(ctx context.Context, asset common.Address) (uint8, error) {
	if d, ok := r.decimals.Load(asset); ok {
		return d, nil
	}
	d, err := r.ledger.TokenDecimals(ctx, asset)
	if err != nil {
		return 0, err
	}
	r.decimals.Store(asset, d)
	return d, nil
}

// attachMarkets runs one batched oracle query for all underlying assets. A
// failed query leaves the records without market data.
func (r *Reconciler) attachMarkets(ctx context.Context, pools []PoolRecord, streams []StreamRecord) {
	if r.oracle == nil || len(pools)+len(streams) == 0 {
		return
	}
	assets := make([]common.Address, 0, len(pools)+len(streams))
	for _, p := range pools {
		assets = append(assets, p.Underlying)
	}
	for _, s := range streams {
		assets = append(assets, s.Underlying)
	}

	markets, err := r.oracle.QueryMarkets(ctx, assets)
	if err != nil {
		r.logger.Warn("Market query failed, continuing without market data", zap.Error(err))
		return
	}
	lookup := func(asset common.Address) *oracle.MarketInfo {
		m, ok := markets[asset]
		if !ok {
			return nil
		}
		return &m
	}
	for i := range pools {
		pools[i].Market = lookup(pools[i].Underlying)
	}
	for i := range streams {
		streams[i].Market = lookup(streams[i].Underlying)
	}
}
