package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/command"
	"github.com/nerrad567/keygate/internal/infrastructure/config"
	"github.com/nerrad567/keygate/internal/infrastructure/logging"
)

// WebSocket message types not shared with package command.
const (
	WSTypePing       = "ping"
	WSTypePong       = "pong"
	WSTypeHeartbeat  = "heartbeat"
	WSTypeKillSwitch = "kill-switch"
	WSTypeCommandAck = "command-ack"
	WSTypeError      = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is an outbound WebSocket frame.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is an inbound frame; the payload is decoded per type.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventMirror republishes broadcast events outside the process.
type EventMirror interface {
	PublishEvent(eventType string, payload any) error
}

// Hub tracks live WebSocket connections by the session that opened them.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	mirror EventMirror

	onMessage func(c *WSClient, msg wsInbound)
	onClose   func(c *WSClient)

	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connection. Every connection authenticated by the same
// credential shares its SessionID.
type WSClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	id        string
	principal auth.Principal
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub. mirror may be nil.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, mirror EventMirror) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "ws"),
		mirror:  mirror,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "conn", client.id, "username", client.principal.Username)
}

// Unregister removes a client. Only the caller that removes it from the map
// closes the send channel.
func (h *Hub) Unregister(client *WSClient) bool {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	return existed
}

// Broadcast sends an event to every connection and mirrors it to the event
// bus when one is configured.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, ok := h.encode(eventType, "", payload)
	if !ok {
		return
	}
	for _, c := range h.snapshot(nil) {
		c.trySend(data)
	}

	if h.mirror != nil {
		go func() {
			if err := h.mirror.PublishEvent(eventType, payload); err != nil {
				h.logger.Debug("event mirror publish failed", "event", eventType, "error", err)
			}
		}()
	}
}

// SendTo sends an event to the connections of the listed sessions.
func (h *Hub) SendTo(sessionIDs []string, eventType string, payload any) int {
	data, ok := h.encode(eventType, "", payload)
	if !ok {
		return 0
	}
	targets := h.snapshot(func(c *WSClient) bool {
		return slices.Contains(sessionIDs, c.principal.SessionID)
	})
	for _, c := range targets {
		c.trySend(data)
	}
	return len(targets)
}

// DisconnectUser sends notice to every connection held by username, then
// closes them.
func (h *Hub) DisconnectUser(username string, notice any) int {
	return h.evict(func(c *WSClient) bool { return c.principal.Username == username }, notice)
}

// DisconnectSessions sends notice to every connection opened by the listed
// sessions, then closes them.
func (h *Hub) DisconnectSessions(sessionIDs []string, notice any) int {
	return h.evict(func(c *WSClient) bool { return slices.Contains(sessionIDs, c.principal.SessionID) }, notice)
}

// evict removes matching clients and closes their send channels after
// queueing notice. The write pump flushes the notice before closing.
func (h *Hub) evict(match func(*WSClient) bool, notice any) int {
	var data []byte
	if notice != nil {
		data, _ = h.encode(command.EventKicked, "", notice)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for c := range h.clients {
		if !match(c) {
			continue
		}
		if data != nil {
			c.trySend(data)
		}
		delete(h.clients, c)
		close(c.send)
		n++
	}
	if n > 0 {
		h.logger.Debug("websocket clients evicted", "count", n)
	}
	return n
}

// HasSession reports whether any connection belongs to sessionID.
func (h *Hub) HasSession(sessionID string) bool {
	return len(h.snapshot(func(c *WSClient) bool { return c.principal.SessionID == sessionID })) > 0
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// snapshot copies the matching clients under the read lock so sends happen
// without holding it. A nil match selects everyone.
func (h *Hub) snapshot(match func(*WSClient) bool) []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if match == nil || match(c) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) encode(msgType, id string, payload any) ([]byte, bool) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket message", "type", msgType, "error", err)
		return nil, false
	}
	return data, true
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket authenticates and upgrades a connection. The credential
// comes from the Authorization header or, for browsers, the token query
// parameter. Anything else is refused before the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeUnauthorized(w, "credential required")
		return
	}
	p, err := s.auth.Validate(token)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		id:        "ws-" + uuid.NewString()[:8],
		principal: p,
	}
	if !s.registerClient(client) {
		// Only the write pump runs; it flushes the notice and closes conn.
		go client.writePump(s.wsCfg)
		return
	}

	client.sendMessage(command.EventKillSwitchUpdate, "", command.KillSwitchState{Enabled: s.vault.KillSwitchEnabled()})
	version := strings.TrimSpace(r.URL.Query().Get("version"))
	if s.registry.RecordHeartbeat(p.SessionID, p.Username, p.Role, version) {
		s.router.BroadcastPresence()
	} else {
		client.sendMessage(command.EventPresenceUpdate, "", s.registry.ListOnline())
	}

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// registerClient adds c to the hub and then re-checks its session. A
// logout or revoke that landed between Validate and Register has already
// run its eviction, so the late client is evicted here instead.
func (s *Server) registerClient(c *WSClient) bool {
	s.hub.Register(c)
	if s.auth.Sessions().Active(c.principal.SessionID) {
		return true
	}
	s.hub.DisconnectSessions([]string{c.principal.SessionID}, command.Kicked{Reason: "revoked"})
	return false
}

// handleWSClose drops the presence entry once the last connection of a
// session has gone.
func (s *Server) handleWSClose(c *WSClient) {
	sid := c.principal.SessionID
	if s.hub.HasSession(sid) {
		return
	}
	if s.registry.Remove(sid) {
		s.router.BroadcastPresence()
	}
}

// handleWSMessage processes one inbound frame.
func (s *Server) handleWSMessage(c *WSClient, msg wsInbound) {
	s.registry.Touch(c.principal.SessionID)
	ctx := command.WithSource(context.Background(), audit.SourceWebSocket)

	switch msg.Type {
	case WSTypePing:
		c.sendMessage(WSTypePong, msg.ID, nil)

	case WSTypeHeartbeat:
		var hb heartbeatRequest
		if len(msg.Payload) > 0 && json.Unmarshal(msg.Payload, &hb) != nil {
			c.sendError(msg.ID, "invalid heartbeat payload")
			return
		}
		p := c.principal
		if s.registry.RecordHeartbeat(p.SessionID, p.Username, p.Role, strings.TrimSpace(hb.Version)) {
			s.router.BroadcastPresence()
		}

	case command.EventCommand:
		var cmd command.Command
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			c.sendMessage(WSTypeCommandAck, msg.ID, command.Ack{ID: msg.ID, Reason: command.ReasonInvalidInput})
			return
		}
		if cmd.ID == "" {
			cmd.ID = msg.ID
		}
		ack := s.router.Dispatch(ctx, c.principal, cmd)
		c.sendMessage(WSTypeCommandAck, msg.ID, ack)

	case WSTypeKillSwitch:
		var req killSwitchRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendMessage(WSTypeCommandAck, msg.ID, command.Ack{ID: msg.ID, Reason: command.ReasonInvalidInput})
			return
		}
		ack := command.Ack{ID: msg.ID, OK: true}
		if _, err := s.router.SetKillSwitch(ctx, c.principal, req.Enable); err != nil {
			ack.OK = false
			ack.Reason = command.ReasonInternal
			switch {
			case errors.Is(err, auth.ErrForbidden):
				ack.Reason = command.ReasonForbidden
			case errors.Is(err, auth.ErrTokenRevoked):
				ack.Reason = command.ReasonUnauthorized
			}
		}
		c.sendMessage(WSTypeCommandAck, msg.ID, ack)

	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// wsTimings returns the ping interval and pong wait, defaulting unset values.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong = time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		if c.hub.onClose != nil {
			c.hub.onClose(c)
		}
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval, pongWait := wsTimings(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "conn", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "conn", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "invalid JSON message")
			continue
		}
		if c.hub.onMessage != nil {
			c.hub.onMessage(c, msg)
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := wsTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data without blocking. A closed channel (client gone
// mid-broadcast) or a full buffer (slow client) drops the message.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) sendMessage(msgType, id string, payload any) {
	if data, ok := c.hub.encode(msgType, id, payload); ok {
		c.trySend(data)
	}
}

func (c *WSClient) sendError(id, message string) {
	c.sendMessage(WSTypeError, id, map[string]string{"message": message})
}
