package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// ListenerGroup scopes a consumer's subscriptions on a shared Subscriber, so that
// one consumer can drop all of its listeners without touching anyone else's.
// At most one subscription is held per filter key.
type ListenerGroup struct {
	subscriber Subscriber
	logger     *zap.Logger
	subs       *xsync.Map[string, Subscription]
}

// NewListenerGroup returns an empty group over subscriber.
func NewListenerGroup(subscriber Subscriber, logger *zap.Logger) *ListenerGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListenerGroup{
		subscriber: subscriber,
		logger:     logger,
		subs:       xsync.NewMap[string, Subscription](),
	}
}

// On subscribes fn to f. A filter whose key is already live is left as is.
func (g *ListenerGroup) On(ctx context.Context, f Filter, fn func(Event)) error {
	key := f.Key()
	if _, ok := g.subs.Load(key); ok {
		return nil
	}
	sub, err := g.subscriber.Subscribe(ctx, f, fn)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w: %w", key, ErrSubscriptionChurn, err)
	}
	if _, loaded := g.subs.LoadOrStore(key, sub); loaded {
		// lost a race with a concurrent On for the same key
		sub.Unsubscribe()
	}
	return nil
}

// RemoveAllListeners unsubscribes every listener in the group.
func (g *ListenerGroup) RemoveAllListeners() {
	removed := 0
	g.subs.Range(func(key string, sub Subscription) bool {
		if s, ok := g.subs.LoadAndDelete(key); ok {
			s.Unsubscribe()
			removed++
		}
		return true
	})
	if removed > 0 {
		g.logger.Debug("Removed listeners", zap.Int("count", removed))
	}
}

// Count returns the number of live listeners.
func (g *ListenerGroup) Count() int {
	return g.subs.Size()
}

// Keys returns the live filter keys, sorted.
func (g *ListenerGroup) Keys() []string {
	keys := make([]string, 0, g.subs.Size())
	g.subs.Range(func(key string, _ Subscription) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}
