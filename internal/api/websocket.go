package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/config"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

// Message types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256
)

// Event channels broadcast by the hub.
const (
	ChannelThingData  = "thing.data"
	ChannelScanResult = "scan.result"
)

var knownChannels = map[string]bool{
	ChannelThingData:  true,
	ChannelScanResult: true,
}

// WSMessage is the envelope of every message sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is a message received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans bridged thing data and scan results out to WebSocket clients.
// A client's send channel is closed only while the hub holds its write
// lock, and every send happens under the read lock after a membership
// check, so a send never races a close.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware already rejected foreign origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub with no clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close() //nolint:errcheck // shutting down
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and closes its send channel. Calling it for
// a client that is already gone is a no-op.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver queues data for c. Slow clients drop messages rather than
// stalling the broadcaster.
func (h *Hub) deliver(c *WSClient, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		h.logger.Debug("websocket client too slow, message dropped")
		return false
	}
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.isSubscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
}

// thingDataEvent is the payload of a thing.data event.
type thingDataEvent struct {
	PeripheralID   string          `json:"peripheral_id"`
	CloudID        string          `json:"cloud_id,omitempty"`
	Characteristic string          `json:"characteristic"`
	Topic          string          `json:"topic"`
	Direction      thing.Direction `json:"direction"`
	Data           string          `json:"data"`
	Timestamp      string          `json:"timestamp"`
}

// Record implements thing.Recorder. Payloads are hex encoded.
func (h *Hub) Record(ev thing.Event) {
	h.Broadcast(ChannelThingData, thingDataEvent{
		PeripheralID:   ev.PeripheralID,
		CloudID:        ev.CloudID,
		Characteristic: ev.Characteristic,
		Topic:          ev.Topic,
		Direction:      ev.Direction,
		Data:           hex.EncodeToString(ev.Data),
		Timestamp:      ev.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// ScanFinished broadcasts the result of a scan.
func (h *Hub) ScanFinished(things []device.Info) {
	h.Broadcast(ChannelScanResult, map[string]any{
		"things": things,
		"count":  len(things),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(c)

	go c.writePump()
	go c.readPump()
}

func (c *WSClient) timeouts() (ping, pong time.Duration) {
	return time.Duration(c.hub.cfg.PingInterval) * time.Second,
		time.Duration(c.hub.cfg.PongTimeout) * time.Second
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close() //nolint:errcheck // already disconnecting
	}()

	ping, pong := c.timeouts()
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(ping + pong))
	}

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	_ = extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application messages count as liveness too.
		_ = extend() //nolint:errcheck // see above
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	ping, pong := c.timeouts()
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() //nolint:errcheck // already disconnecting
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(pong)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil) //nolint:errcheck // best effort
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateSubscriptions(req)
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

// updateSubscriptions applies a subscribe or unsubscribe request. Unknown
// channels reject the whole request.
func (c *WSClient) updateSubscriptions(req wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &sub); err != nil || len(sub.Channels) == 0 {
		c.reply(req.ID, WSTypeError, errorPayload("payload must list channels"))
		return
	}
	for _, ch := range sub.Channels {
		if !knownChannels[ch] {
			c.reply(req.ID, WSTypeError, errorPayload("unknown channel: "+ch))
			return
		}
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if req.Type == WSTypeSubscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket subscriptions changed", "op", req.Type, "channels", sub.Channels)
	c.reply(req.ID, WSTypeResponse, map[string]any{req.Type + "d": sub.Channels})
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

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
	c.hub.deliver(c, data)
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}
