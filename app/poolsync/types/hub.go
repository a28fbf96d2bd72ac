package types

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/stream-pools/poolsync/pkg/redis"
)

// Hub fans rebuild notices out to in-process listeners, usually websocket
// connections. A listener that falls behind loses notices rather than
// blocking the publisher.
type Hub struct {
	listeners *xsync.Map[uint64, chan redis.Notice]
	nextID    atomic.Uint64
	buffer    int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{listeners: xsync.NewMap[uint64, chan redis.Notice](), buffer: buffer}
}

// Listen registers a listener. Call the returned cancel func when done; the
// channel is never closed.
func (h *Hub) Listen() (<-chan redis.Notice, func()) {
	id := h.nextID.Add(1)
	ch := make(chan redis.Notice, h.buffer)
	h.listeners.Store(id, ch)
	return ch, func() { h.listeners.Delete(id) }
}

// Publish delivers n to every listener with room for it.
func (h *Hub) Publish(n redis.Notice) {
	h.listeners.Range(func(_ uint64, ch chan redis.Notice) bool {
		select {
		case ch <- n:
		default:
		}
		return true
	})
}

// Listeners is the number of registered listeners.
func (h *Hub) Listeners() int {
	return h.listeners.Size()
}
