package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "poolsync"
	rebuiltSuffix = "workingset.rebuilt"

	// RebuiltPattern matches the rebuild channel of every view.
	RebuiltPattern = channelPrefix + ":*:" + rebuiltSuffix
)

// Notice announces that a view's working set was replaced.
type Notice struct {
	View       string    `json:"view"`
	Account    string    `json:"account"`
	Generation uint64    `json:"generation"`
	Records    int       `json:"records"`
	Omitted    []uint64  `json:"omitted,omitempty"`
	BuiltAt    time.Time `json:"builtAt"`
}

// Channel returns the rebuild channel of a view: "poolsync:<view>:workingset.rebuilt".
func Channel(view string) string {
	return channelPrefix + ":" + view + ":" + rebuiltSuffix
}

// ViewFromChannel extracts the view from a rebuild channel name, or "" when the
// name has another shape.
func ViewFromChannel(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != channelPrefix || parts[2] != rebuiltSuffix {
		return ""
	}
	return parts[1]
}

// DecodeNotice parses a published payload. The view always comes from the channel.
func DecodeNotice(channel, payload string) (Notice, error) {
	view := ViewFromChannel(channel)
	if view == "" {
		return Notice{}, fmt.Errorf("unexpected channel %q", channel)
	}
	var n Notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return Notice{}, fmt.Errorf("decode notice on %s: %w", channel, err)
	}
	n.View = view
	return n, nil
}

// Relay forwards every rebuild notice published by any replica to fn until ctx
// ends. A lost Redis connection is re-established with exponential backoff.
func (c *Client) Relay(ctx context.Context, fn func(Notice)) {
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 30 * time.Second
		backoffFactor  = 2.0
		jitterFactor   = 0.1
	)

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := c.relayOnce(ctx, fn)
		if ctx.Err() != nil {
			c.logger.Info("Redis relay cancelled")
			return
		}
		if err != nil {
			c.logger.Warn("Redis relay failed, will retry",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
		} else {
			c.logger.Warn("Redis relay channel closed, will retry",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			backoff = initialBackoff
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, maxBackoff, backoffFactor, jitterFactor)
	}
}

func (c *Client) relayOnce(ctx context.Context, fn func(Notice)) error {
	pubsub := c.PSubscribe(ctx, RebuiltPattern)
	defer func() {
		if err := pubsub.Close(); err != nil {
			c.logger.Debug("Error closing Redis subscription", zap.Error(err))
		}
	}()

	receiveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}
	c.logger.Info("Subscribed to rebuild notices", zap.String("pattern", RebuiltPattern))

	return c.pump(ctx, pubsub.Channel(), fn)
}

func (c *Client) pump(ctx context.Context, ch <-chan *redis.Message, fn func(Notice)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n, err := DecodeNotice(msg.Channel, msg.Payload)
			if err != nil {
				c.logger.Warn("Dropping rebuild notice", zap.Error(err))
				continue
			}
			fn(n)
		}
	}
}

// nextBackoff grows current by factor, caps it at max and adds jitter.
func nextBackoff(current, max time.Duration, factor, jitterFactor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		next = max
	}

	jitter := float64(next) * jitterFactor * (2*rand.Float64() - 1)
	withJitter := time.Duration(float64(next) + jitter)

	if withJitter < current {
		withJitter = current
	}
	if withJitter > max {
		withJitter = max
	}
	return withJitter
}
