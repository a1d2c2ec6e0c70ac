package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/tailgate-core/internal/infrastructure/config"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeSnapshot    = "snapshot"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize frames may queue per client before broadcasts drop it.
	wsSendBufferSize = 256
)

// WSMessage is a frame sent to a WebSocket client. Seq increases by one
// per broadcast, so a client that sees a gap knows it was too slow.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a frame received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// HubStats counts hub traffic since it was created.
type HubStats struct {
	Clients    int    `json:"connected_clients"`
	Broadcasts uint64 `json:"broadcasts"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
}

// Hub fans component events out to subscribed WebSocket clients.
//
// A channel may have a snapshot function. A client subscribing to it gets
// the current value straight away, before any later event, so it never
// has to poll the REST API to learn where the tailgate is.
type Hub struct {
	cfg       config.WebSocketConfig
	logger    *logging.Logger
	clients   map[*WSClient]struct{}
	snapshots map[string]func() any
	mu        sync.RWMutex

	seq       atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// WSClient is one connected event-stream consumer.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// CORS middleware has already vetted the origin.
		return true
	},
}

// NewHub creates an empty hub; Run must be started before clients connect.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		clients:   make(map[*WSClient]struct{}),
		snapshots: make(map[string]func() any),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// SetSnapshot registers fn as the current-value source for channel.
// A nil fn removes it.
func (h *Hub) SetSnapshot(channel string, fn func() any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.snapshots, channel)
		return
	}
	h.snapshots[channel] = fn
}

// Register tracks client for broadcasts.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister forgets client and closes its send channel once.
// Only the goroutine that removes the client from the map closes its send
// channel, so shutdown and a dropped connection cannot both close it.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends payload to every client subscribed to channel, or to
// ChannelAll. Clients whose buffer is full miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Seq:       h.seq.Add(1),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	// Snapshot the client list so no client lock is taken under the hub lock.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if !client.isSubscribed(channel) {
			continue
		}
		if client.trySend(data) {
			sent++
			h.delivered.Add(1)
		} else {
			h.dropped.Add(1)
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns the traffic counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:    h.ClientCount(),
		Broadcasts: h.seq.Load(),
		Delivered:  h.delivered.Load(),
		Dropped:    h.dropped.Load(),
	}
}

func (h *Hub) snapshot(channel string) (func() any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.snapshots[channel]
	return fn, ok
}

// closeAll closes every send channel, ending each writePump.
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

// handleWebSocket upgrades the connection and starts the client pumps.
// Clients then subscribe to the Channel constants.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeUnavailable(w, "websocket hub not running")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads client frames until the connection drops.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client frame counts as liveness, not only protocol pongs.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

// writePump drains the send buffer and pings on an interval.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(req)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(req)
	case WSTypePing:
		c.sendResponse(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

func parseChannels(raw json.RawMessage) ([]string, bool) {
	var sub WSSubscribePayload
	if len(raw) == 0 || json.Unmarshal(raw, &sub) != nil || len(sub.Channels) == 0 {
		return nil, false
	}
	return sub.Channels, true
}

// handleSubscribe adds the known channels in the request, then sends a
// snapshot for each that has one.
func (c *WSClient) handleSubscribe(req wsRequest) {
	channels, ok := parseChannels(req.Payload)
	if !ok {
		c.sendError(req.ID, "invalid subscribe payload")
		return
	}

	var accepted, rejected []string
	for _, ch := range channels {
		if IsChannel(ch) {
			accepted = append(accepted, ch)
		} else {
			rejected = append(rejected, ch)
		}
	}
	if len(accepted) == 0 {
		c.sendError(req.ID, "no known channels in subscribe request")
		return
	}

	c.mu.Lock()
	for _, ch := range accepted {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "channels", accepted, "rejected", rejected)

	resp := map[string]any{"subscribed": accepted}
	if len(rejected) > 0 {
		resp["rejected"] = rejected
	}
	c.sendResponse(req.ID, WSTypeResponse, resp)
	c.sendSnapshots(accepted)
}

func (c *WSClient) sendSnapshots(channels []string) {
	if len(channels) == 1 && channels[0] == ChannelAll {
		channels = Channels()
	}
	sort.Strings(channels)
	for _, ch := range channels {
		fn, ok := c.hub.snapshot(ch)
		if !ok {
			continue
		}
		data, err := json.Marshal(WSMessage{
			Type:      WSTypeSnapshot,
			EventType: ch,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Payload:   fn(),
		})
		if err != nil {
			c.hub.logger.Error("failed to marshal snapshot", "channel", ch, "error", err)
			continue
		}
		c.trySend(data)
	}
}

func (c *WSClient) handleUnsubscribe(req wsRequest) {
	channels, ok := parseChannels(req.Payload)
	if !ok {
		c.sendError(req.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(req.ID, WSTypeResponse, map[string]any{
		"unsubscribed": channels,
	})
}

// trySend queues data without blocking. It reports false when the client
// buffer is full or the client has already been unregistered.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subscriptions[ChannelAll]; ok {
		return true
	}
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
