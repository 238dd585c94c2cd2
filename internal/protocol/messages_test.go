package protocol

import (
	"math"
	"strings"
	"testing"

	"github.com/jrmarin/energy-server/internal/analysis"
)

func TestParseIdentify(t *testing.T) {
	line := `{"type":"identify","device_id":"MTR-001","device_type":"electricity","description":"Apartment 4B"}`
	msg, err := ParseMessage([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	identify, ok := msg.(*IdentifyMessage)
	if !ok {
		t.Fatalf("expected *IdentifyMessage, got %T", msg)
	}
	if identify.DeviceID != "MTR-001" {
		t.Errorf("expected MTR-001, got %s", identify.DeviceID)
	}
}

func TestParseIdentifyMissingDevice(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type":"identify","description":"no id"}`))
	if err == nil {
		t.Fatal("expected error for missing device_id")
	}
}

func TestParseReadingsBatch(t *testing.T) {
	line := `{"type":"readings","data":[` +
		`{"timestamp":"2025-06-02T10:00:00Z","energy_kwh":0.42,"reactive_kvarh":0.05},` +
		`{"timestamp":"2025-06-02T10:15:00Z","energy_kwh":0.38,"reactive_kvarh":0.04}]}`
	msg, err := ParseMessage([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	readings, ok := msg.(*ReadingsMessage)
	if !ok {
		t.Fatalf("expected *ReadingsMessage, got %T", msg)
	}
	if len(readings.Data) != 2 {
		t.Errorf("expected 2 readings, got %d", len(readings.Data))
	}
}

func TestParseReadingsValidation(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string
	}{
		{"empty data", `{"type":"readings","data":[]}`, "at least one reading"},
		{"bad timestamp", `{"type":"readings","data":[{"timestamp":"yesterday","energy_kwh":1}]}`, "timestamp"},
		{"negative energy", `{"type":"readings","data":[{"timestamp":"2025-06-02T10:00:00Z","energy_kwh":-1}]}`, "non-negative"},
	}
	for _, tc := range cases {
		_, err := ParseMessage([]byte(tc.line))
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestParseUnknownType(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type":"telemetry"}`))
	if err == nil || !strings.Contains(err.Error(), "unknown message type") {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestAlertEventRoundTrip(t *testing.T) {
	event := &AlertEvent{
		Type:            AlertTypeRaised,
		DeviceID:        "MTR-001",
		State:           "ALERT",
		MaxAbsDeviation: 42.5,
	}
	data, err := EncodeAlertEvent(event)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeAlertEvent(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.DeviceID != "MTR-001" || decoded.MaxAbsDeviation != 42.5 {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
}

func TestAlertEventEncodesInfiniteDeviation(t *testing.T) {
	event := &AlertEvent{
		Type:            AlertTypeRaised,
		DeviceID:        "MTR-001",
		State:           "CRITICAL",
		MaxAbsDeviation: analysis.Percent(math.Inf(1)),
	}
	data, err := EncodeAlertEvent(event)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeAlertEvent(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !math.IsInf(float64(decoded.MaxAbsDeviation), 1) {
		t.Errorf("round-tripped deviation = %v, want +Inf", decoded.MaxAbsDeviation)
	}
}
