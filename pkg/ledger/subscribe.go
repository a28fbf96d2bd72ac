package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const (
	resubscribeInitial = time.Second
	resubscribeMax     = 30 * time.Second
)

// logSubscription pumps one eth_subscribe("logs") stream into a callback and
// re-establishes it when the node drops it.
type logSubscription struct {
	id     uint64
	filter Filter
	fn     func(Event)
	gw     *EthGateway

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe opens a log subscription for f. The first subscribe happens
// synchronously so that callers learn about a failure immediately; later drops
// are retried in the background until Unsubscribe.
func (g *EthGateway) Subscribe(ctx context.Context, f Filter, fn func(Event)) (Subscription, error) {
	if err := g.wait(ctx); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w: %w", f.Key(), ErrSubscriptionChurn, err)
	}
	q := FilterQuery(g.opts.PoolsAddress, f, nil)
	logs := make(chan types.Log, 64)

	// The subscription outlives the request context that created it.
	subCtx, cancel := context.WithCancel(context.Background())
	sub, err := g.client.SubscribeFilterLogs(subCtx, q, logs)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w: %w", f.Key(), ErrSubscriptionChurn, err)
	}

	s := &logSubscription{
		id:     g.nextID.Add(1),
		filter: f,
		fn:     fn,
		gw:     g,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	g.subs.Store(s.id, s)
	go s.run(subCtx, q, sub, logs)
	return s, nil
}

// UnsubscribeAll closes every subscription opened through this gateway.
func (g *EthGateway) UnsubscribeAll() {
	g.subs.Range(func(id uint64, s *logSubscription) bool {
		s.Unsubscribe()
		return true
	})
}

// ActiveSubscriptions reports the number of open log subscriptions.
func (g *EthGateway) ActiveSubscriptions() int {
	return g.subs.Size()
}

func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.gw.subs.Delete(s.id)
		s.cancel()
		<-s.done
	})
}

func (s *logSubscription) run(ctx context.Context, q ethereum.FilterQuery, sub ethereum.Subscription, logs chan types.Log) {
	defer close(s.done)
	logger := s.gw.logger.With(zap.String("filter", s.filter.Key()))
	backoff := resubscribeInitial

	for {
		err := s.pump(ctx, sub, logs)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Log subscription dropped, resubscribing",
			zap.Error(err),
			zap.Duration("backoff", backoff))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			sub, err = s.gw.client.SubscribeFilterLogs(ctx, q, logs)
			if err == nil {
				logger.Info("Log subscription re-established")
				backoff = resubscribeInitial
				break
			}
			backoff *= 2
			if backoff > resubscribeMax {
				backoff = resubscribeMax
			}
			logger.Warn("Resubscribe failed",
				zap.Error(err),
				zap.Duration("backoff", backoff))
		}
	}
}

func (s *logSubscription) pump(ctx context.Context, sub ethereum.Subscription, logs chan types.Log) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return fmt.Errorf("subscription closed")
			}
			return err
		case l := <-logs:
			ev, err := DecodeEvent(l)
			if err != nil {
				s.gw.logger.Warn("Skipping undecodable log", zap.String("filter", s.filter.Key()), zap.Error(err))
				continue
			}
			if s.filter.Matches(ev) {
				s.fn(ev)
			}
		}
	}
}
