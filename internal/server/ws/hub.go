// Package ws pushes realtime updates (delivery progress, moderation flags,
// billing changes) from the signal bus to WebSocket clients.
//
// Every frame is a text message of the form {"channel": "...", "data": {...}}.
// A client picks channels with ?channels=a,b at connect time and may change
// them later by sending {"action": "subscribe"|"unsubscribe", "channels": [...]}.
// Connecting with ?user_id=X scopes the client to X: it may only follow
// ch:delivery:X, never another user's deliveries or the wildcard.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/coparent/internal/domain"
)

const (
	writeTimeout  = 10 * time.Second
	idleTimeout   = 60 * time.Second // refreshed by every pong
	pingInterval  = 50 * time.Second
	maxFrameBytes = 4096
	queueDepth    = 256
)

// busTopics are the signal bus subscriptions the hub holds for its clients.
var busTopics = []string{
	domain.ChannelDeliveryPrefix + "*",
	domain.ChannelModeration,
	domain.ChannelBilling,
}

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// control is a subscription change sent by a client.
type control struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub tracks connected clients and routes bus messages to the ones following
// each channel.
type Hub struct {
	bus       domain.SignalBus
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	startedAt time.Time

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a Hub over bus. allowedOrigins restricts browser origins;
// empty allows all.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger:    logger.With(slog.String("component", "ws_hub")),
		startedAt: time.Now().UTC(),
		conns:     make(map[*conn]struct{}),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
				return true
			}
		}
		return false
	}
}

// Run subscribes to the bus topics and forwards messages until ctx is done,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, topic := range busTopics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.forward(ctx, topic)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	for c := range h.conns {
		delete(h.conns, c)
		c.closeQueue()
	}
	h.mu.Unlock()
	h.logger.Info("ws: hub stopped")
	return nil
}

// forward relays one bus subscription to clients.
func (h *Hub) forward(ctx context.Context, topic string) {
	msgs, err := h.bus.Subscribe(ctx, topic)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("channel", topic),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				if ctx.Err() == nil {
					h.logger.Warn("ws: bus subscription closed", slog.String("channel", topic))
				}
				return
			}
			h.route(resolveChannel(topic, data), data)
		}
	}
}

// route sends one message to every client following channel. Clients whose
// queue is full miss the message.
func (h *Hub) route(channel string, data []byte) {
	frame, err := json.Marshal(envelope{Channel: channel, Data: data})
	if err != nil {
		h.logger.Warn("ws: dropping non-JSON payload", slog.String("channel", channel))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.follows(channel) && !c.enqueue(frame) {
			h.logger.Warn("ws: client queue full, message dropped",
				slog.String("channel", channel),
				slog.String("user_id", c.user),
			)
		}
	}
}

// resolveChannel maps the delivery wildcard back to the concrete per-user
// channel using the user_id every DeliveryUpdate carries.
func resolveChannel(topic string, data []byte) string {
	if topic != domain.ChannelDeliveryPrefix+"*" {
		return topic
	}
	var upd struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &upd); err != nil || upd.UserID == "" {
		return topic
	}
	return domain.DeliveryChannel(upd.UserID)
}

// HandleWS upgrades the request and registers the client.
// GET /ws?user_id=u1&channels=ch:billing,ch:delivery:u1
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	q := r.URL.Query()
	c := newConn(h, ws, strings.TrimSpace(q.Get("user_id")))

	var requested []string
	if raw := q.Get("channels"); raw != "" {
		requested = strings.Split(raw, ",")
	} else {
		requested = c.defaultChannels()
	}
	c.apply(control{Action: "subscribe", Channels: requested})
	c.enqueue(h.hello(c))

	h.mu.Lock()
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("ws: client connected",
		slog.String("user_id", c.user),
		slog.Int("clients", total),
	)

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	total := len(h.conns)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.closeQueue()
	h.logger.Info("ws: client disconnected",
		slog.String("user_id", c.user),
		slog.Int("clients", total),
	)
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// hello is the first frame on every connection.
func (h *Hub) hello(c *conn) []byte {
	frame, _ := json.Marshal(map[string]any{
		"channel": "hello",
		"data": map[string]any{
			"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
			"channels":       c.channels(),
		},
	})
	return frame
}

// conn is one connected client.
type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	user string

	subMu sync.RWMutex
	subs  map[string]bool

	qMu    sync.Mutex
	queue  chan []byte
	closed bool
}

func newConn(h *Hub, ws *websocket.Conn, user string) *conn {
	return &conn{
		hub:   h,
		ws:    ws,
		user:  user,
		subs:  make(map[string]bool),
		queue: make(chan []byte, queueDepth),
	}
}

func (c *conn) defaultChannels() []string {
	if c.user == "" {
		return busTopics
	}
	return []string{domain.DeliveryChannel(c.user), domain.ChannelModeration, domain.ChannelBilling}
}

// permits reports whether the client may follow channel.
func (c *conn) permits(channel string) bool {
	switch channel {
	case domain.ChannelModeration, domain.ChannelBilling:
		return true
	case domain.ChannelDeliveryPrefix + "*":
		return c.user == ""
	}
	userID, ok := strings.CutPrefix(channel, domain.ChannelDeliveryPrefix)
	if !ok || userID == "" || strings.ContainsAny(userID, "*?[") {
		return false
	}
	return c.user == "" || userID == c.user
}

// apply changes the subscriptions and returns the channels it refused.
func (c *conn) apply(msg control) (rejected []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range msg.Channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			if !c.permits(ch) {
				rejected = append(rejected, ch)
				continue
			}
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		default:
			rejected = append(rejected, ch)
		}
	}
	return rejected
}

// follows reports whether channel matches a subscription. A trailing "*"
// matches any suffix.
func (c *conn) follows(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *conn) channels() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// enqueue queues frame without blocking. It reports false when the queue is
// full or already closed.
func (c *conn) enqueue(frame []byte) bool {
	c.qMu.Lock()
	defer c.qMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.queue <- frame:
		return true
	default:
		return false
	}
}

func (c *conn) closeQueue() {
	c.qMu.Lock()
	defer c.qMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// readLoop applies control messages and acknowledges each one.
func (c *conn) readLoop() {
	defer func() {
		c.hub.remove(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		rejected := c.apply(msg)
		if rejected == nil {
			rejected = []string{}
		}
		ack, _ := json.Marshal(map[string]any{
			"channel": "subscriptions",
			"data": map[string]any{
				"channels": c.channels(),
				"rejected": rejected,
			},
		})
		c.enqueue(ack)
	}
}

// writeLoop drains the queue and keeps the connection alive with pings.
func (c *conn) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.queue:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
