package protocol

import (
	"encoding/json"
	"time"

	"github.com/jrmarin/energy-server/internal/analysis"
)

// ReadingMessage is the internal message format for the readings topic
type ReadingMessage struct {
	ConnectionID string      `json:"connection_id"`
	DeviceID     string      `json:"device_id"`
	ReceivedAt   time.Time   `json:"received_at"`
	Data         ReadingData `json:"data"`
}

// Parse converts the wire-format reading into an analysis.Reading
func (m *ReadingMessage) Parse() (*analysis.Reading, error) {
	ts, err := time.Parse(time.RFC3339, m.Data.Timestamp)
	if err != nil {
		return nil, err
	}

	return &analysis.Reading{
		DeviceID:      m.DeviceID,
		Timestamp:     ts,
		EnergyKWh:     m.Data.EnergyKWh,
		ReactiveKVarh: m.Data.ReactiveKVarh,
	}, nil
}

// AlertEvent is the message format for the alerts topic
type AlertEvent struct {
	Type        string    `json:"type"` // ALERT_RAISED, ALERT_CLEARED
	DeviceID    string    `json:"device_id"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	State       string    `json:"state"`
	// MaxAbsDeviation may be infinite under the zero-mean convention;
	// analysis.Percent keeps that encodable.
	MaxAbsDeviation analysis.Percent `json:"max_abs_deviation"`
	Summary         string           `json:"summary,omitempty"`
	RaisedAt        time.Time        `json:"raised_at"`
}

const (
	AlertTypeRaised  = "ALERT_RAISED"
	AlertTypeCleared = "ALERT_CLEARED"
)

// EncodeReadingMessage encodes a ReadingMessage to JSON
func EncodeReadingMessage(msg *ReadingMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeReadingMessage decodes JSON to ReadingMessage
func DecodeReadingMessage(data []byte) (*ReadingMessage, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeAlertEvent encodes an AlertEvent to JSON
func EncodeAlertEvent(alert *AlertEvent) ([]byte, error) {
	return json.Marshal(alert)
}

// DecodeAlertEvent decodes JSON to AlertEvent
func DecodeAlertEvent(data []byte) (*AlertEvent, error) {
	var alert AlertEvent
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}
