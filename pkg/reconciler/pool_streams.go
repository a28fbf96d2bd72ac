package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
)

// PoolStreams reads the stream of every occupied slot of an owned pool. The
// pool must be in the current pools-view snapshot.
func (r *Reconciler) PoolStreams(ctx context.Context, poolID uint64) (PoolRecord, []RecipientStream, error) {
	if r.cfg.View != ViewPools {
		return PoolRecord{}, nil, fmt.Errorf("pool streams need the %s view", ViewPools)
	}
	pool, ok := r.Snapshot().Pool(poolID)
	if !ok {
		return PoolRecord{}, nil, fmt.Errorf("pool %d: %w", poolID, ErrNotOwned)
	}

	rows := make([]RecipientStream, len(pool.Recipients))
	errs := make([]error, len(pool.Recipients))

	group := r.workers.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, recipient := range pool.Recipients {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			stream, err := r.ledger.GetStream(groupCtx, poolID, recipient)
			if err != nil {
				errs[i] = err
				return
			}
			balance, err := r.ledger.BalanceOf(groupCtx, poolID, recipient)
			if err != nil {
				errs[i] = err
				return
			}
			rows[i] = RecipientStream{
				Recipient:     recipient,
				RatePerSecond: stream.RatePerSecond,
				StartTime:     stream.StartTime,
				StopTime:      stream.StopTime,
				NoticePeriod:  stream.NoticePeriod,
				Balance:       balance,
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return PoolRecord{}, nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return PoolRecord{}, nil, fmt.Errorf("pool %d streams: %w", poolID, err)
	}
	return pool, rows, nil
}
