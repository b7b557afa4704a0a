package events

import (
	"time"
)

// EventType represents the type of event pushed to WebSocket clients
type EventType string

const (
	// EventTypeCapture represents a new clipboard item entering the history
	EventTypeCapture EventType = "item_captured"
	// EventTypeDetection represents a completed sensitive-data scan
	EventTypeDetection EventType = "item_sanitized"
	// EventTypeDelete represents an item leaving the history
	EventTypeDelete EventType = "item_deleted"
	// EventTypePressure represents a memory-pressure level change
	EventTypePressure EventType = "pressure_changed"
	// EventTypeSystemStatus represents a periodic system status report
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents client connect/disconnect events
	EventTypeConnection EventType = "connection"
)

// Event represents a single event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	ItemID    string      `json:"item_id,omitempty"`
}

// New builds an event stamped with the current time.
func New(t EventType, itemID string, data interface{}) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
		ItemID:    itemID,
	}
}

// CaptureEvent announces a new history item. It carries metadata only,
// never the clipboard content itself.
type CaptureEvent struct {
	ItemID    string `json:"item_id"`
	Kind      string `json:"kind"`
	TextLen   int    `json:"text_len,omitempty"`
	Sanitized bool   `json:"sanitized"`
	Source    string `json:"source"` // "watcher" or "api"
}

// FindingSummary describes one detection without exposing the matched text.
type FindingSummary struct {
	Pattern    string  `json:"pattern"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Redacted   bool    `json:"redacted"`
}

// DetectionEvent announces the result of scanning an item.
type DetectionEvent struct {
	ItemID        string           `json:"item_id"`
	Findings      []FindingSummary `json:"findings"`
	TotalFindings int              `json:"total_findings"`
	RuleHits      int              `json:"rule_hits"`
	Redacted      bool             `json:"redacted"`
	ProcessingMS  float64          `json:"processing_ms"`
}

// DeleteEvent announces an item removal and why it happened.
type DeleteEvent struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"` // "api", "trim", "pressure"
}

// PressureEvent announces a memory-pressure transition and the work it triggered.
type PressureEvent struct {
	Level      string `json:"level"`
	Evicted    int    `json:"evicted"`
	Compressed int    `json:"compressed"`
	Dropped    int    `json:"dropped"`
	Compacted  bool   `json:"compacted"`
}

// SystemStatusEvent represents daemon status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalItems       int    `json:"total_items"`
	TotalDetections  int64  `json:"total_detections"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
	MemoryUsage      string `json:"memory_usage,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to the hub
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows the events a client receives
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter represents filtering options for detection events
type EventFilter struct {
	MinConfidence float64  `json:"min_confidence,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	RedactedOnly  bool     `json:"redacted_only,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	Conn         interface{} // *websocket.Conn; interface{} so tests can register without a socket
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
