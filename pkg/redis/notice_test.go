package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestChannelRoundTrip(t *testing.T) {
	assert.Equal(t, "poolsync:pools:workingset.rebuilt", Channel("pools"))
	assert.Equal(t, "streams", ViewFromChannel(Channel("streams")))

	for _, bad := range []string{"", "poolsync:pools", "other:pools:workingset.rebuilt", "poolsync:pools:block.indexed", "a:b:c:d"} {
		assert.Empty(t, ViewFromChannel(bad), bad)
	}
}

// TestDecodeNoticeTakesViewFromChannel ignores a view in the payload.
func TestDecodeNoticeTakesViewFromChannel(t *testing.T) {
	n, err := DecodeNotice(Channel("streams"), `{"view":"pools","account":"0xabc","generation":4,"records":2,"omitted":[9]}`)
	require.NoError(t, err)
	assert.Equal(t, "streams", n.View)
	assert.Equal(t, "0xabc", n.Account)
	assert.Equal(t, uint64(4), n.Generation)
	assert.Equal(t, 2, n.Records)
	assert.Equal(t, []uint64{9}, n.Omitted)

	_, err = DecodeNotice(Channel("pools"), "not json")
	require.Error(t, err)
	_, err = DecodeNotice("other", "{}")
	require.Error(t, err)
}

// TestPumpSkipsMalformedMessages keeps going past undecodable payloads and
// returns nil once the channel closes.
func TestPumpSkipsMalformedMessages(t *testing.T) {
	c := &Client{logger: zaptest.NewLogger(t)}
	ch := make(chan *redis.Message, 3)
	ch <- &redis.Message{Channel: Channel("pools"), Payload: `{"generation":1}`}
	ch <- &redis.Message{Channel: Channel("pools"), Payload: `{`}
	ch <- &redis.Message{Channel: Channel("streams"), Payload: `{"generation":2}`}
	close(ch)

	var got []Notice
	err := c.pump(context.Background(), ch, func(n Notice) { got = append(got, n) })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pools", got[0].View)
	assert.Equal(t, "streams", got[1].View)
	assert.Equal(t, uint64(2), got[1].Generation)
}

func TestPumpStopsOnCancel(t *testing.T) {
	c := &Client{logger: zaptest.NewLogger(t)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.pump(ctx, make(chan *redis.Message), func(Notice) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		name      string
		current   time.Duration
		jitter    float64
		expectMin time.Duration
		expectMax time.Duration
	}{
		{"doubles", time.Second, 0.1, 1800 * time.Millisecond, 2200 * time.Millisecond},
		{"capped", 20 * time.Second, 0.1, 27 * time.Second, 30 * time.Second},
		{"exact without jitter", 5 * time.Second, 0, 10 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				got := nextBackoff(tt.current, 30*time.Second, 2.0, tt.jitter)
				assert.GreaterOrEqual(t, got, tt.expectMin)
				assert.LessOrEqual(t, got, tt.expectMax)
			}
		})
	}
}
