package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Miner-related messages
	MessageTypeMinerResolved MessageType = "miner_resolved"
	MessageTypeMinerPolled   MessageType = "miner_polled"
	MessageTypeMinerError    MessageType = "miner_error"
	MessageTypeCacheCleared  MessageType = "cache_cleared"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Miner     string      `json:"miner,omitempty"`
	Data      any         `json:"data"`
}

// MinerData carries a miner event. Payload holds the raw API response for polls.
type MinerData struct {
	Family  string `json:"family,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CacheClearedData struct {
	Evicted int `json:"evicted"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewMinerResolvedMessage(address, family string) Message {
	msg := NewMessage(MessageTypeMinerResolved, MinerData{Family: family})
	msg.Miner = address
	return msg
}

func NewMinerPolledMessage(address, family string, payload any) Message {
	msg := NewMessage(MessageTypeMinerPolled, MinerData{Family: family, Payload: payload})
	msg.Miner = address
	return msg
}

func NewMinerErrorMessage(address, family string, err error) Message {
	data := MinerData{Family: family}
	if err != nil {
		data.Error = err.Error()
	}
	msg := NewMessage(MessageTypeMinerError, data)
	msg.Miner = address
	return msg
}

func NewCacheClearedMessage(evicted int) Message {
	return NewMessage(MessageTypeCacheCleared, CacheClearedData{Evicted: evicted})
}

func NewSystemStatusMessage(status any) Message {
	return NewMessage(MessageTypeSystemStatus, status)
}
