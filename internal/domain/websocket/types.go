// internal/domain/websocket/types.go
package websocket

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType represents different real-time event types
type EventType string

const (
	// Connection events
	EventTypePing         EventType = "ping"
	EventTypePong         EventType = "pong"
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"

	// Customer events (server -> client)
	EventTypeCustomerCreated EventType = "customer:created"
	EventTypeCustomerUpdated EventType = "customer:updated"
	EventTypeCustomerDeleted EventType = "customer:deleted"

	// Ledger events
	EventTypeActionCreated EventType = "action:created"
	EventTypeActionsList   EventType = "actions:list"

	// Batch events
	EventTypeBatchCompleted EventType = "batch:completed"

	// Session events
	EventTypeForceLogout EventType = "session:force_logout"

	// Subscription events
	EventTypeSubscribe   EventType = "subscribe"
	EventTypeUnsubscribe EventType = "unsubscribe"
)

// WSMessage is the universal message format
type WSMessage struct {
	Type      EventType              `json:"type"`
	Data      interface{}            `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id,omitempty"`
}

// Subscription channels that clients can subscribe to
type ChannelType string

const (
	ChannelCustomers ChannelType = "customers"
	ChannelActions   ChannelType = "actions"
	ChannelBatches   ChannelType = "batches"
	ChannelSystem    ChannelType = "system"
)

// DefaultChannels are subscribed on connect.
var DefaultChannels = []ChannelType{ChannelCustomers, ChannelActions, ChannelBatches, ChannelSystem}

func (c ChannelType) Valid() bool {
	switch c {
	case ChannelCustomers, ChannelActions, ChannelBatches, ChannelSystem:
		return true
	}
	return false
}

// SubscribeRequest sent by client to subscribe to specific channels
type SubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

// UnsubscribeRequest sent by client to unsubscribe from channels
type UnsubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

// ErrorData for error events
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// BatchCompletedData summarises a finished batch for dashboards.
type BatchCompletedData struct {
	BatchID              string `json:"batch_id"`
	PerformedBy          string `json:"performed_by"`
	Processed            int    `json:"processed"`
	Succeeded            int    `json:"succeeded"`
	Rejected             int    `json:"rejected"`
	NotificationFailures int    `json:"notification_failures"`
}

// Publisher fans events out to connected clients. Publish must not block.
type Publisher interface {
	Publish(channel ChannelType, event EventType, data interface{})
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(ChannelType, EventType, interface{}) {}

// Helper to create messages
func NewMessage(eventType EventType, data interface{}) *WSMessage {
	return &WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		ID:        ulid.Make().String(),
	}
}

func (m *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}
