package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/logger"
)

const (
	// Time allowed to write a message to the peer
	defaultWriteWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	defaultPongWait = 60 * time.Second
	// Maximum message size allowed from peer
	defaultMaxMessageSize = 512
)

// Hub maintains the set of active clients and broadcasts events to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound events awaiting fan-out
	broadcast chan Event

	// Register requests from new connections
	register chan *Client

	// Unregister requests from closing connections
	unregister chan *Client

	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *logger.Logger

	// Guards clients and stats against concurrent GetStats/deliver calls
	mu sync.Mutex

	stats *HubStats
}

// HubStats tracks hub connection and delivery statistics
type HubStats struct {
	TotalConnections   int64
	ActiveConnections  int64
	TotalMessages      int64
	TotalBroadcasts    int64
	DroppedEvents      int64
	LastConnectionTime time.Time
	LastDisconnectTime time.Time
	LastBroadcastTime  time.Time
}

// NewHub creates a new event hub
func NewHub(cfg config.WebSocketConfig, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: log,
		stats:  &HubStats{},
	}
}

// originChecker builds the upgrade origin policy from the configured list.
// Non-browser clients send no Origin header and are always allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := false
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// Run handles client registration, unregistration and broadcasting until
// the context is cancelled, then closes every client connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting event hub", zap.String("component", "events"))

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections++
	h.stats.LastConnectionTime = time.Now()
	active := h.stats.ActiveConnections
	h.mu.Unlock()

	h.logger.Info("Client connected",
		zap.String("component", "events"),
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int64("active_connections", active),
	)

	h.announce("connected", client)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.Send)
	h.stats.ActiveConnections--
	h.stats.LastDisconnectTime = time.Now()
	active := h.stats.ActiveConnections
	h.mu.Unlock()

	h.logger.Info("Client disconnected",
		zap.String("component", "events"),
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int64("active_connections", active),
	)

	h.announce("disconnected", client)
}

// announce sends a connection event to every client except the subject.
func (h *Hub) announce(action string, subject *Client) {
	if !h.cfg.Events.BroadcastConnections {
		return
	}
	event := New(EventTypeConnection, "", ConnectionEvent{
		Action:    action,
		ClientID:  subject.ID,
		ClientIP:  subject.IP,
		UserAgent: subject.UserAgent,
	})
	h.deliver(event, subject)
}

func (h *Hub) broadcastEvent(event Event) {
	h.mu.Lock()
	h.stats.TotalBroadcasts++
	h.stats.LastBroadcastTime = time.Now()
	h.mu.Unlock()

	h.deliver(event, nil)
}

// deliver fans an event out to all subscribed clients, skipping exclude.
// Clients whose send buffer is full are dropped rather than blocking the hub.
func (h *Hub) deliver(event Event, exclude *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client == exclude || !h.shouldSendToClient(client, event) {
			continue
		}
		select {
		case client.Send <- event:
			h.stats.TotalMessages++
		default:
			h.logger.Warn("Client send channel full, closing connection",
				zap.String("component", "events"),
				zap.String("client_id", client.ID),
			)
			delete(h.clients, client)
			close(client.Send)
			h.stats.ActiveConnections--
		}
	}
}

// shouldSendToClient applies the client's subscription, if any.
func (h *Hub) shouldSendToClient(client *Client, event Event) bool {
	if client.Subscription == nil {
		return true
	}

	subscribed := false
	for _, eventType := range client.Subscription.Events {
		if eventType == event.Type {
			subscribed = true
			break
		}
	}
	if !subscribed {
		return false
	}

	if client.Subscription.Filter != nil {
		return applyEventFilter(client.Subscription.Filter, event)
	}
	return true
}

// applyEventFilter narrows detection events by confidence, category and
// redaction outcome. Other event types pass through untouched.
func applyEventFilter(filter *EventFilter, event Event) bool {
	det, ok := event.Data.(DetectionEvent)
	if !ok {
		return true
	}
	if filter.RedactedOnly && !det.Redacted {
		return false
	}
	for _, f := range det.Findings {
		if f.Confidence < filter.MinConfidence {
			continue
		}
		if len(filter.Categories) == 0 || containsString(filter.Categories, f.Category) {
			return true
		}
	}
	return len(det.Findings) == 0 && filter.MinConfidence == 0 && len(filter.Categories) == 0
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Broadcast queues an event for fan-out if its type is enabled in config.
// It never blocks; a full queue drops the event with a warning.
func (h *Hub) Broadcast(event Event) {
	if !h.shouldBroadcastEvent(event.Type) {
		return
	}

	select {
	case h.broadcast <- event:
	default:
		h.mu.Lock()
		h.stats.DroppedEvents++
		h.mu.Unlock()
		h.logger.Warn("Broadcast channel full, dropping event",
			zap.String("component", "events"),
			zap.String("event_type", string(event.Type)),
		)
	}
}

func (h *Hub) shouldBroadcastEvent(eventType EventType) bool {
	switch eventType {
	case EventTypeCapture, EventTypeDelete:
		return h.cfg.Events.BroadcastCaptures
	case EventTypeDetection:
		return h.cfg.Events.BroadcastDetections
	case EventTypePressure:
		return h.cfg.Events.BroadcastPressure
	case EventTypeSystemStatus:
		return h.cfg.Events.BroadcastSystem
	case EventTypeConnection:
		return h.cfg.Events.BroadcastConnections
	default:
		return false
	}
}

// HandleWebSocket upgrades an HTTP request and attaches the client to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	active := h.stats.ActiveConnections
	h.mu.Unlock()
	if h.cfg.MaxConnections > 0 && active >= int64(h.cfg.MaxConnections) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection",
			zap.String("component", "events"),
			zap.Error(err),
		)
		return
	}

	client := &Client{
		ID:          generateClientID(),
		Conn:        conn,
		Send:        make(chan Event, 256),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	}

	h.register <- client

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

func (h *Hub) writeWait() time.Duration {
	if h.cfg.WriteTimeout > 0 {
		return h.cfg.WriteTimeout
	}
	return defaultWriteWait
}

func (h *Hub) pongWait() time.Duration {
	if h.cfg.PongTimeout > 0 {
		return h.cfg.PongTimeout
	}
	return defaultPongWait
}

func (h *Hub) pingPeriod() time.Duration {
	if h.cfg.PingInterval > 0 && h.cfg.PingInterval < h.pongWait() {
		return h.cfg.PingInterval
	}
	return (h.pongWait() * 9) / 10
}

func (h *Hub) maxMessageSize() int64 {
	if h.cfg.MaxMessageSize > 0 {
		return h.cfg.MaxMessageSize
	}
	return defaultMaxMessageSize
}

// handleClientWrite pumps events from the Send channel to the socket.
func (h *Hub) handleClientWrite(client *Client) {
	ticker := time.NewTicker(h.pingPeriod())
	defer func() {
		ticker.Stop()
		if conn, ok := client.Conn.(*websocket.Conn); ok {
			conn.Close()
		}
	}()

	for {
		select {
		case event, channelOk := <-client.Send:
			conn, ok := client.Conn.(*websocket.Conn)
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeWait()))
			if !channelOk {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Error("Failed to write WebSocket message",
					zap.String("component", "events"),
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			conn, ok := client.Conn.(*websocket.Conn)
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeWait()))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientRead pumps client messages off the socket until it closes.
func (h *Hub) handleClientRead(client *Client) {
	defer func() {
		h.unregister <- client
		if conn, ok := client.Conn.(*websocket.Conn); ok {
			conn.Close()
		}
	}()

	conn, ok := client.Conn.(*websocket.Conn)
	if !ok {
		return
	}

	conn.SetReadLimit(h.maxMessageSize())
	conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	conn.SetPongHandler(func(string) error {
		client.LastPing = time.Now()
		conn.SetReadDeadline(time.Now().Add(h.pongWait()))
		return nil
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error",
					zap.String("component", "events"),
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			break
		}
		h.handleClientMessage(client, msg)
	}
}

// handleClientMessage processes subscribe and ping requests from clients.
func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		data, ok := msg.Data.(map[string]interface{})
		if !ok {
			return
		}
		jsonData, _ := json.Marshal(data)
		var subscription SubscriptionRequest
		if err := json.Unmarshal(jsonData, &subscription); err == nil {
			client.Subscription = &subscription
			h.logger.Info("Client subscription updated",
				zap.String("component", "events"),
				zap.String("client_id", client.ID),
				zap.Any("subscription", subscription),
			)
		}
	case "ping":
		pongEvent := Event{
			Type:      "pong",
			Timestamp: time.Now(),
			Data:      map[string]string{"message": "pong"},
		}
		select {
		case client.Send <- pongEvent:
		default:
		}
	}
}

// closeAll disconnects every client. Called when the hub shuts down.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.Send)
		h.stats.ActiveConnections--
	}
	h.logger.Info("Event hub stopped", zap.String("component", "events"))
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := *h.stats
	stats.ActiveConnections = int64(len(h.clients))
	return stats
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func generateClientID() string {
	return fmt.Sprintf("client_%s", uuid.NewString()[:8])
}

// clientIP extracts the client IP from the request, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
