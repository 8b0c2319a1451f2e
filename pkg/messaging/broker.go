package messaging

import (
	"context"
	"encoding/json"
	"strings"
)

// ChannelDataChanged carries notifications that patient/disease/document rows changed.
const ChannelDataChanged = "healthbridge.data_changed"

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope published for every relayed outbox event.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChannelFor maps an outbox event type to its channel, so DATA_CHANGED
// lands on ChannelDataChanged.
func ChannelFor(eventType string) string {
	return "healthbridge." + strings.ToLower(eventType)
}
