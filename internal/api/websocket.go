package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/equipwatch-core/internal/audit"
	"github.com/nerrad567/equipwatch-core/internal/auth"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelAuditEntry is the event type of every audit entry pushed to
	// the feed.
	ChannelAuditEntry = "audit.entry"

	// feedBufferSize is the per-client outbound queue length.
	feedBufferSize = 256

	// defaultFeedSessionCheck is how often an open feed re-validates the
	// session its ticket was issued from.
	defaultFeedSessionCheck = 30 * time.Second
	feedSessionCheckTimeout = 5 * time.Second

	// closeSessionEnded is sent when the backing session is revoked or expires.
	closeSessionEnded = "session ended"
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// FeedFilter narrows the audit feed for one client. Empty fields match
// everything.
type FeedFilter struct {
	Actions  []audit.Action  `json:"actions,omitempty"`
	Outcomes []audit.Outcome `json:"outcomes,omitempty"`
	Actor    string          `json:"actor,omitempty"`
}

func (f FeedFilter) matches(e audit.Entry) bool {
	if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
		return false
	}
	if len(f.Outcomes) > 0 && !slices.Contains(f.Outcomes, e.Outcome) {
		return false
	}
	return f.Actor == "" || f.Actor == e.Actor
}

// Hub fans audit entries out to connected feed clients.
// It implements audit.Sink.
//
// Thread Safety: All methods are safe for concurrent use.
type Hub struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	dropped atomic.Uint64
}

// WSClient is one connected feed consumer.
type WSClient struct {
	hub       *Hub
	conn      *websocket.Conn
	username  string
	role      auth.Role
	tokenHash string

	mu     sync.Mutex
	send   chan []byte
	closed bool
	filter *FeedFilter // nil until the client subscribes
}

func newWSClient(hub *Hub, conn *websocket.Conn, username string, role auth.Role, tokenHash string) *WSClient {
	return &WSClient{
		hub:       hub,
		conn:      conn,
		username:  username,
		role:      role,
		tokenHash: tokenHash,
		send:      make(chan []byte, feedBufferSize),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware and the ticket.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("audit feed client connected", "username", c.username, "clients", n)
}

// Unregister removes a client and closes its queue. Calling it twice is safe.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.shutdown()
	h.logger.Debug("audit feed client disconnected", "username", c.username, "clients", n)
}

// Write pushes e to every subscribed client whose filter matches.
// Slow clients lose the entry rather than blocking the audit log.
func (h *Hub) Write(_ context.Context, e audit.Entry) error {
	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var data []byte
	for _, c := range targets {
		if !c.wants(e) {
			continue
		}
		if data == nil {
			var err error
			data, err = json.Marshal(WSMessage{
				Type:      WSTypeEvent,
				EventType: ChannelAuditEntry,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Payload:   e,
			})
			if err != nil {
				return err
			}
		}
		if !c.enqueue(data) {
			h.dropped.Add(1)
			h.logger.Debug("audit feed client too slow, entry dropped", "username", c.username, "id", e.ID)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many entries were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// wants reports whether the client subscribed and e passes its filter.
func (c *WSClient) wants(e audit.Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter != nil && c.filter.matches(e)
}

// enqueue queues data without blocking. It returns false when the queue is
// full; a closed client silently accepts and discards.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send queue once.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// handleWebSocket upgrades a ticket-authenticated request to the audit feed.
// Tickets come from POST /auth/ws-ticket and are consumed here.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket, time.Now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}
	if _, err := s.sessions.CheckSession(r.Context(), entry.tokenHash); err != nil {
		writeSessionError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, entry.username, entry.role, entry.tokenHash)
	s.hub.Register(client)
	s.logger.Info("audit feed opened", "username", entry.username, "role", entry.role)

	ka := newKeepalive(s.wsCfg)
	check := sessionCheck{
		interval: s.feedCheck,
		verify: func(ctx context.Context) error {
			_, err := s.sessions.CheckSession(ctx, client.tokenHash)
			return err
		},
	}
	go client.writeLoop(ka, check)
	go client.readLoop(ka)
}

// sessionCheck periodically confirms that a feed's session is still live.
type sessionCheck struct {
	interval time.Duration
	verify   func(ctx context.Context) error
}

// ended runs verify and reports whether the session is gone for good.
// Storage faults keep the connection open.
func (sc sessionCheck) ended(logger *logging.Logger, username string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), feedSessionCheckTimeout)
	defer cancel()

	err := sc.verify(ctx)
	switch {
	case err == nil:
		return false
	case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrSessionExpired):
		logger.Info("audit feed closed, session ended", "username", username, "reason", err)
		return true
	default:
		logger.Warn("audit feed session check failed", "username", username, "error", err)
		return false
	}
}

// keepalive holds the ping/pong timing for one connection.
type keepalive struct {
	maxMessage int64
	ping       time.Duration
	pongWait   time.Duration
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	return keepalive{
		maxMessage: int64(cfg.MaxMessageSize),
		ping:       time.Duration(cfg.PingInterval) * time.Second,
		pongWait:   time.Duration(cfg.PongTimeout) * time.Second,
	}
}

func (k keepalive) readDeadline() time.Time {
	return time.Now().Add(k.ping + k.pongWait)
}

func (k keepalive) writeDeadline() time.Time {
	return time.Now().Add(k.pongWait)
}

// readLoop handles client frames until the connection fails.
func (c *WSClient) readLoop(ka keepalive) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(ka.maxMessage)
	_ = c.conn.SetReadDeadline(ka.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(ka.readDeadline())
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("audit feed read error", "username", c.username, "error", err)
			}
			return
		}
		// Application frames count as liveness too; some browsers never
		// answer protocol pings.
		_ = c.conn.SetReadDeadline(ka.readDeadline())
		c.handleFrame(frame)
	}
}

// writeLoop drains the send queue, pings on an interval and closes the
// connection once the backing session has ended.
func (c *WSClient) writeLoop(ka keepalive, check sessionCheck) {
	ticker := time.NewTicker(ka.ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	var recheck <-chan time.Time
	if check.verify != nil && check.interval > 0 {
		t := time.NewTicker(check.interval)
		defer t.Stop()
		recheck = t.C
	}

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(ka.writeDeadline())
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(ka.writeDeadline())
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-recheck:
			if check.ended(c.hub.logger, c.username) {
				_ = c.conn.SetWriteDeadline(ka.writeDeadline())
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, closeSessionEnded))
				return
			}
		}
	}
}

// handleFrame dispatches one client message.
func (c *WSClient) handleFrame(frame []byte) {
	var in struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(frame, &in); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch in.Type {
	case WSTypeSubscribe:
		c.subscribe(in.ID, in.Payload)
	case WSTypeUnsubscribe:
		c.mu.Lock()
		c.filter = nil
		c.mu.Unlock()
		c.reply(in.ID, WSTypeResponse, map[string]any{"unsubscribed": ChannelAuditEntry})
	case WSTypePing:
		c.reply(in.ID, WSTypePong, nil)
	default:
		c.reply(in.ID, WSTypeError, map[string]string{"message": "unknown message type: " + in.Type})
	}
}

// subscribe installs a filter. The role snapshot from the ticket must still
// grant system_config.
func (c *WSClient) subscribe(id string, raw json.RawMessage) {
	if !auth.HasPermission(c.role, auth.PermSystemConfig) {
		c.reply(id, WSTypeError, map[string]string{"message": msgInsufficientPermissions})
		return
	}

	var f FeedFilter
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &f); err != nil {
			c.reply(id, WSTypeError, map[string]string{"message": "invalid subscribe payload"})
			return
		}
	}

	c.mu.Lock()
	c.filter = &f
	c.mu.Unlock()

	c.hub.logger.Debug("audit feed subscribed", "username", c.username, "actions", f.Actions, "actor", f.Actor)
	c.reply(id, WSTypeResponse, map[string]any{
		"subscribed": ChannelAuditEntry,
		"filter":     f,
	})
}

// reply queues a direct response to this client.
func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}
