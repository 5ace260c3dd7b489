package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-discovery/internal/discovery"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeSnapshot    = "snapshot"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels.
const (
	// ChannelDiscovered carries discovery.EventDiscovered events.
	ChannelDiscovered = "discovery.discovered"

	// ChannelVanished carries discovery.EventVanished events.
	ChannelVanished = "discovery.vanished"

	// ChannelScan carries a ScanNotice each time a scan window opens.
	ChannelScan = "discovery.scan"

	// ChannelAll subscribes to every discovery channel.
	ChannelAll = "discovery.*"
)

const (
	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	defaultWSPath = "/ws"
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
//
// Protocols narrows delivery to events decoded by the named codecs. It is
// replaced on every subscribe; an empty list accepts all protocols.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	Protocols []string `json:"protocols,omitempty"`
}

// Hub fans discovery events out to WebSocket clients.
//
// HandleEvent has the discovery.Listener signature, so the hub is
// registered directly on the engine.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	// snapshot returns the current ledger for snapshot requests. Set by
	// the server that owns the hub.
	snapshot atomic.Pointer[func() any]

	dropped atomic.Uint64
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string

	mu        sync.RWMutex
	channels  map[string]struct{}
	protocols []string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// HandleEvent broadcasts a discovery event to subscribed clients.
func (h *Hub) HandleEvent(ev discovery.Event) {
	switch ev.Kind {
	case discovery.EventDiscovered:
		h.broadcast(ChannelDiscovered, ev.Protocol, ev)
	case discovery.EventVanished:
		h.broadcast(ChannelVanished, ev.Protocol, ev)
	}
}

// Broadcast sends payload to every client subscribed to channel,
// regardless of protocol filters.
func (h *Hub) Broadcast(channel string, payload any) {
	h.broadcast(channel, "", payload)
}

func (h *Hub) broadcast(channel, protocol string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	recipients := 0
	for _, c := range h.snapshotClients() {
		if c.wants(channel, protocol) {
			c.trySend(data)
			recipients++
		}
	}
	if recipients > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", recipients)
	}
}

func (h *Hub) snapshotClients() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", client.subject)
}

// Unregister removes a client from the hub. Only the goroutine that
// removes the client from the map closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n, "subject", client.subject)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many outbound messages were discarded because a
// client's send buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) setSnapshot(fn func() any) {
	h.snapshot.Store(&fn)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// wsPath is the WebSocket route below /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return defaultWSPath
	}
	return s.wsCfg.Path
}

// handleWebSocket upgrades the connection. The auth middleware has already
// verified the token.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		subject:  subject(r),
		channels: make(map[string]struct{}),
	}
	s.hub.Register(client)

	k := newKeepalive(s.wsCfg)
	go client.writePump(k)
	go client.readPump(k, s.wsCfg.MaxMessageSize)
}

// keepalive holds the ping schedule derived from WebSocketConfig.
type keepalive struct {
	ping time.Duration
	pong time.Duration
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	return keepalive{
		ping: time.Duration(cfg.PingInterval) * time.Second,
		pong: time.Duration(cfg.PongTimeout) * time.Second,
	}
}

// readDeadline is when the next frame or pong must have arrived.
func (k keepalive) readDeadline() time.Time {
	return time.Now().Add(k.ping + k.pong)
}

func (c *WSClient) readPump(k keepalive, maxSize int) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(maxSize))
	c.conn.SetReadDeadline(k.readDeadline()) //nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(k.readDeadline())
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(k.readDeadline()) //nolint:errcheck // Best-effort deadline reset
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(k keepalive) {
	ticker := time.NewTicker(k.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(k.pong)) //nolint:errcheck // write error caught below
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Best-effort close message
				return
			}
			if write(websocket.TextMessage, message) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.subscribe(msg.Payload)
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
			"subscribed": msg.Payload.Channels,
			"protocols":  msg.Payload.Protocols,
		})
	case WSTypeUnsubscribe:
		c.unsubscribe(msg.Payload.Channels)
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": msg.Payload.Channels})
	case WSTypeSnapshot:
		fn := c.hub.snapshot.Load()
		if fn == nil {
			c.sendError(msg.ID, "snapshot unavailable")
			return
		}
		c.sendResponse(msg.ID, WSTypeSnapshot, (*fn)())
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) subscribe(p WSSubscribePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range p.Channels {
		c.channels[ch] = struct{}{}
	}
	c.protocols = slices.Clone(p.Protocols)
}

func (c *WSClient) unsubscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
}

// wants reports whether an event on channel from protocol should be sent.
// An empty protocol bypasses the protocol filter.
func (c *WSClient) wants(channel, protocol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exact := c.channels[channel]
	_, all := c.channels[ChannelAll]
	if !exact && !all {
		return false
	}
	return protocol == "" || len(c.protocols) == 0 || slices.Contains(c.protocols, protocol)
}

// trySend queues data without blocking; a full buffer drops the message.
// The hub may close send concurrently during shutdown, so the send is
// guarded against the resulting panic.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel during shutdown
	}()
	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
		c.hub.logger.Warn("websocket send buffer full, dropping message", "subject", c.subject)
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket response", "type", msgType, "error", err)
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
