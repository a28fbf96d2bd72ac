package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stream-pools/poolsync/pkg/reconciler"
	"github.com/stream-pools/poolsync/pkg/redis"
)

const (
	// MessageRebuilt carries a redis.Notice.
	MessageRebuilt = "workingset.rebuilt"
	allViews       = "*"

	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage is sent by websocket clients.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	View   string `json:"view"`   // "pools", "streams" or "*"
}

// ServerMessage is sent to websocket clients.
type ServerMessage struct {
	Type    string      `json:"type"` // "workingset.rebuilt", "subscribed", "unsubscribed", "error"
	Payload interface{} `json:"payload"`
}

// viewSubscriptions tracks the views a client listens to.
type viewSubscriptions struct {
	mu    sync.RWMutex
	views map[string]bool
}

func newViewSubscriptions() *viewSubscriptions {
	return &viewSubscriptions{views: make(map[string]bool)}
}

func (vs *viewSubscriptions) subscribe(view string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.views[view] = true
}

func (vs *viewSubscriptions) unsubscribe(view string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.views, view)
}

// wants reports whether view is subscribed. "*" matches every view.
func (vs *viewSubscriptions) wants(view string) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.views[allViews] || vs.views[view]
}

func validView(view string) bool {
	return view == allViews || reconciler.View(view).Valid()
}

// HandleWebSocket upgrades the connection and streams rebuild notices.
//
// Protocol:
// Client sends: {"action": "subscribe", "view": "pools"}
// Client sends: {"action": "subscribe", "view": "*"}
// Client sends: {"action": "unsubscribe", "view": "pools"}
//
// Server sends:
// - {"type": "workingset.rebuilt", "payload": {"view": "pools", "generation": 3, ...}}
// - {"type": "subscribed", "payload": {"view": "pools"}}
// - {"type": "unsubscribed", "payload": {"view": "pools"}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}()

	c.App.Logger.Info("WebSocket client connected", zap.String("remoteAddr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := newViewSubscriptions()
	send := make(chan ServerMessage, 256)
	notices, stop := c.App.Hub.Listen()
	defer stop()

	var wg sync.WaitGroup
	c.goSafe(&wg, cancel, r.RemoteAddr, "notice forwarder", func() { c.forwardNotices(ctx, notices, send, subs) })
	c.goSafe(&wg, cancel, r.RemoteAddr, "ping ticker", func() { c.sendPings(ctx, conn) })
	c.goSafe(&wg, cancel, r.RemoteAddr, "message writer", func() { c.writeMessages(ctx, conn, send) })

	// Blocks until the connection closes.
	c.readClientMessages(ctx, conn, cancel, subs, send)
	cancel()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remoteAddr", r.RemoteAddr))
}

func (c *Controller) goSafe(wg *sync.WaitGroup, cancel context.CancelFunc, remote, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in WebSocket goroutine",
					zap.String("goroutine", name),
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remoteAddr", remote))
				cancel()
			}
		}()
		fn()
	}()
}

// forwardNotices filters hub notices by the client's subscriptions.
func (c *Controller) forwardNotices(ctx context.Context, notices <-chan redis.Notice, send chan<- ServerMessage, subs *viewSubscriptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notices:
			if !subs.wants(n.View) {
				continue
			}
			if !enqueue(ctx, send, ServerMessage{Type: MessageRebuilt, Payload: n}) {
				return
			}
		}
	}
}

func enqueue(ctx context.Context, send chan<- ServerMessage, msg ServerMessage) bool {
	select {
	case send <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendPings sends periodic ping frames. The client's pong resets the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages is the only writer of data frames on conn.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}
	}
}

// readClientMessages handles subscription requests until the connection closes.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *viewSubscriptions, send chan<- ServerMessage) {
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		c.App.Logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for ctx.Err() == nil {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.App.Logger.Warn("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			c.App.Logger.Error("Failed to reset read deadline", zap.Error(err))
			return
		}

		var reply ServerMessage
		switch {
		case msg.Action != "subscribe" && msg.Action != "unsubscribe":
			reply = ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}}
		case !validView(msg.View):
			reply = ServerMessage{Type: "error", Payload: map[string]string{"message": "view must be pools, streams or *"}}
		case msg.Action == "subscribe":
			subs.subscribe(msg.View)
			reply = ServerMessage{Type: "subscribed", Payload: map[string]string{"view": msg.View}}
		default:
			subs.unsubscribe(msg.View)
			reply = ServerMessage{Type: "unsubscribed", Payload: map[string]string{"view": msg.View}}
		}
		if !enqueue(ctx, send, reply) {
			return
		}
	}
}
