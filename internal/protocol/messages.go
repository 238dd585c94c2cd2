package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message
type MessageType string

const (
	// Client to Server
	MsgTypeIdentify  MessageType = "identify"
	MsgTypeReadings  MessageType = "readings"
	MsgTypeKeepalive MessageType = "keepalive"

	// Server to Client
	MsgTypeAck MessageType = "ack"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage is sent by the meter on connection
type IdentifyMessage struct {
	Type        MessageType `json:"type"`
	DeviceID    string      `json:"device_id"`
	DeviceType  string      `json:"device_type,omitempty"`
	Description string      `json:"description,omitempty"`
}

// ReadingData contains one interval measurement
type ReadingData struct {
	Timestamp     string  `json:"timestamp"`
	EnergyKWh     float64 `json:"energy_kwh"`
	ReactiveKVarh float64 `json:"reactive_kvarh"`
}

// ReadingsMessage is sent by the meter once per reading interval. Meters
// recovering from an outage may batch several intervals in one message.
type ReadingsMessage struct {
	Type MessageType   `json:"type"`
	Data []ReadingData `json:"data"`
}

// KeepaliveMessage is sent by the meter between reading intervals
type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AckMessage is sent by the server in response to messages
type AckMessage struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// AckStatus constants
const (
	AckStatusIdentified = "identified"
	AckStatusAlive      = "alive"
	AckStatusError      = "error"
)

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid identify message: %w", err)
		}
		if err := validateIdentify(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeReadings:
		var msg ReadingsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid readings message: %w", err)
		}
		if err := validateReadings(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeKeepalive:
		var msg KeepaliveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid keepalive message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

// validateIdentify validates an identify message
func validateIdentify(msg *IdentifyMessage) error {
	if msg.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	return nil
}

// validateReadings validates a readings message
func validateReadings(msg *ReadingsMessage) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("at least one reading is required")
	}
	for i, d := range msg.Data {
		if d.Timestamp == "" {
			return fmt.Errorf("reading %d: timestamp is required", i)
		}
		// Validate timestamp format
		if _, err := time.Parse(time.RFC3339, d.Timestamp); err != nil {
			return fmt.Errorf("reading %d: invalid timestamp format (must be RFC3339): %w", i, err)
		}
		if d.EnergyKWh < 0 {
			return fmt.Errorf("reading %d: energy_kwh must be non-negative", i)
		}
	}
	return nil
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}
