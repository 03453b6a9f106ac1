package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koshercapital/kosher/internal/access"
	"github.com/koshercapital/kosher/internal/chat"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/metrics"
	"github.com/koshercapital/kosher/internal/session"
	"github.com/koshercapital/kosher/pkg/types"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsReadLimit    = 16 * 1024
	wsSendBuffer   = 256
)

// WebSocketMessage is the envelope for every frame in both directions.
type WebSocketMessage struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound frame types.
const (
	wsTypeMessage      = "message"
	wsTypeDashboard    = "dashboard"
	wsTypeSubscribed   = "subscribed"
	wsTypeUnsubscribed = "unsubscribed"
	wsTypeDenied       = "denied"
	wsTypeError        = "error"
	wsTypePong         = "pong"
)

// WebSocketHub tracks connected clients so dashboard updates reach every
// connection of a wallet.
type WebSocketHub struct {
	metrics *metrics.Collector

	mu      sync.RWMutex
	clients map[*WebSocketClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewWebSocketHub creates a hub; metrics may be nil.
func NewWebSocketHub(m *metrics.Collector) *WebSocketHub {
	return &WebSocketHub{
		metrics: m,
		clients: make(map[*WebSocketClient]struct{}),
	}
}

func (h *WebSocketHub) register(c *WebSocketClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	if h.metrics != nil {
		h.metrics.IncWSClients()
	}
	return true
}

func (h *WebSocketHub) unregister(c *WebSocketClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		if h.metrics != nil {
			h.metrics.DecWSClients()
		}
	}
	h.mu.Unlock()
}

// PublishDashboard pushes d to every client whose session wallet owns it.
func (h *WebSocketHub) PublishDashboard(d types.StakingDashboard) {
	data, err := json.Marshal(d)
	if err != nil {
		logging.Warn("dashboard encode failed", logging.Component("websocket"), logging.Err(err))
		return
	}
	owner := strings.ToLower(d.Balance.Owner.Hex())

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.walletKey() != owner {
			continue
		}
		c.enqueue(&WebSocketMessage{Type: wsTypeDashboard, Data: data})
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their goroutines.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// WebSocketClient is one upgraded connection. The session is nil for
// anonymous connections, which can only ping.
type WebSocketClient struct {
	server *Server
	hub    *WebSocketHub
	conn   *websocket.Conn
	sess   *session.Session
	send   chan []byte

	mu   sync.Mutex
	subs map[chat.Room]*chat.Subscription
	fwd  sync.WaitGroup
}

// requestContext bounds a tier check made on behalf of a WebSocket frame.
func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), wsWriteWait)
}

func (c *WebSocketClient) walletKey() string {
	if c.sess == nil {
		return ""
	}
	return c.sess.Wallet().Key()
}

// enqueue drops the frame when the client is not keeping up. Callers hold
// the hub read lock, so send is never closed underneath them.
func (c *WebSocketClient) enqueue(msg *WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Debug("websocket send buffer full", logging.Component("websocket"))
	}
}

func (c *WebSocketClient) reply(msgType string, room chat.Room, payload any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.enqueue(&WebSocketMessage{Type: msgType, Room: string(room), Data: raw})
	}
}

func (c *WebSocketClient) readPump() {
	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("websocket read error", logging.Component("websocket"), logging.Err(err))
			}
			return
		}
		var msg WebSocketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(wsTypeError, "", errorResponse{Error: "invalid frame", Code: "validation"})
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) handleMessage(msg *WebSocketMessage) {
	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Room)
	case "unsubscribe":
		c.unsubscribe(msg.Room)
	case "ping":
		c.reply(wsTypePong, "", nil)
	default:
		c.reply(wsTypeError, "", errorResponse{Error: "unknown frame type", Code: "validation", Field: "type"})
	}
}

// subscribe joins a room after the guard allows its route. A denial
// carries the guard decision, including where to redirect.
func (c *WebSocketClient) subscribe(name string) {
	room, ok := chat.ParseRoom(name)
	if !ok {
		c.reply(wsTypeError, "", errorResponse{Error: "unknown room", Code: "validation", Field: "room"})
		return
	}
	ctx, cancel := c.server.requestContext()
	d := c.server.decide(ctx, c.sess, room.Route())
	cancel()
	if d.Action != access.ActionAllow {
		c.reply(wsTypeDenied, room, d)
		return
	}

	c.mu.Lock()
	if _, ok := c.subs[room]; ok {
		c.mu.Unlock()
		c.reply(wsTypeSubscribed, room, nil)
		return
	}
	sub := c.server.deps.Chat.Hub().Subscribe(room)
	c.subs[room] = sub
	c.fwd.Add(1)
	c.mu.Unlock()

	go c.forward(room, sub)
	c.reply(wsTypeSubscribed, room, nil)
}

func (c *WebSocketClient) unsubscribe(name string) {
	room, ok := chat.ParseRoom(name)
	if !ok {
		return
	}
	c.mu.Lock()
	sub, ok := c.subs[room]
	delete(c.subs, room)
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
	c.reply(wsTypeUnsubscribed, room, nil)
}

// forward relays room messages while the session still clears the room.
// The guard is asked again for every message, so a disconnect or a switch
// to a lower tier wallet ends the subscription before anything is relayed.
func (c *WebSocketClient) forward(room chat.Room, sub *chat.Subscription) {
	defer c.fwd.Done()
	for msg := range sub.C {
		ctx, cancel := c.server.requestContext()
		d := c.server.decide(ctx, c.sess, room.Route())
		cancel()
		if d.Action != access.ActionAllow {
			c.revoke(room, sub)
			c.reply(wsTypeDenied, room, d)
			return
		}
		c.reply(wsTypeMessage, room, msg)
	}
}

func (c *WebSocketClient) revoke(room chat.Room, sub *chat.Subscription) {
	c.mu.Lock()
	if c.subs[room] == sub {
		delete(c.subs, room)
	}
	c.mu.Unlock()
	sub.Close()
	logging.Debug("room subscription revoked",
		logging.Component("websocket"),
		logging.Wallet(c.walletKey()),
		"room", string(room),
	)
}

func (c *WebSocketClient) closeSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[chat.Room]*chat.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	c.fwd.Wait()
}

// handleWebSocket handles GET /v1/ws. The session token may be passed as
// the token query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeUnavailable(w, "chat")
		return
	}
	sess, _ := s.lookupSession(r)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", logging.Component("websocket"), logging.Err(err))
		return
	}

	hub := s.deps.Hub
	c := &WebSocketClient{
		server: s,
		hub:    hub,
		conn:   conn,
		sess:   sess,
		send:   make(chan []byte, wsSendBuffer),
		subs:   make(map[chat.Room]*chat.Subscription),
	}
	if !hub.register(c) {
		conn.Close()
		return
	}
	defer hub.wg.Done()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		c.writePump()
	}()

	c.readPump()

	c.closeSubscriptions()
	hub.unregister(c)
	writer.Wait()
}
