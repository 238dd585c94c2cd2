package ingest

import (
	"strings"
	"testing"
	"time"
)

func TestParseReadings(t *testing.T) {
	data := `timestamp,energy_kwh,reactive_kvarh
2024-03-01 00:00:00,0.125,0.010
2024-03-01 00:15:00,0.130,0.012
2024-03-01 00:30:00,0.128,0.011
`
	result, err := ParseReadings(strings.NewReader(data), "MTR-001")
	if err != nil {
		t.Fatalf("ParseReadings failed: %v", err)
	}

	if len(result.Readings) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(result.Readings))
	}
	if len(result.Skipped) != 0 {
		t.Errorf("Expected no skipped rows, got %d", len(result.Skipped))
	}

	first := result.Readings[0]
	if first.DeviceID != "MTR-001" {
		t.Errorf("Expected device MTR-001, got %s", first.DeviceID)
	}
	if first.EnergyKWh != 0.125 {
		t.Errorf("Expected energy 0.125, got %f", first.EnergyKWh)
	}
	if first.ReactiveKVarh != 0.010 {
		t.Errorf("Expected reactive 0.010, got %f", first.ReactiveKVarh)
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !first.Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %v, got %v", want, first.Timestamp)
	}
}

func TestParseReadings_AliasedHeaders(t *testing.T) {
	data := `FECHA,CONSUMO,REACTIVA
01/03/2024 00:00,0.125,0.010
01/03/2024 00:15,0.130,0.012
`
	result, err := ParseReadings(strings.NewReader(data), "MTR-001")
	if err != nil {
		t.Fatalf("ParseReadings failed: %v", err)
	}
	if len(result.Readings) != 2 {
		t.Fatalf("Expected 2 readings, got %d", len(result.Readings))
	}
	if result.Readings[0].Timestamp.Day() != 1 || result.Readings[0].Timestamp.Month() != 3 {
		t.Errorf("Day/month parsed wrong: %v", result.Readings[0].Timestamp)
	}
}

func TestParseReadings_DecimalComma(t *testing.T) {
	csv := `timestamp,energy_kwh
2024-03-01 00:00:00,"0,125"
`
	result, err := ParseReadings(strings.NewReader(csv), "MTR-001")
	if err != nil {
		t.Fatalf("ParseReadings failed: %v", err)
	}
	if len(result.Readings) != 1 {
		t.Fatalf("Expected 1 reading, got %d", len(result.Readings))
	}
	if result.Readings[0].EnergyKWh != 0.125 {
		t.Errorf("Expected energy 0.125, got %f", result.Readings[0].EnergyKWh)
	}
}

func TestParseReadings_BadRowsSkipped(t *testing.T) {
	data := `timestamp,energy_kwh
2024-03-01 00:00:00,0.125
not-a-date,0.130
2024-03-01 00:30:00,not-a-number
2024-03-01 00:45:00,0.128
`
	result, err := ParseReadings(strings.NewReader(data), "MTR-001")
	if err != nil {
		t.Fatalf("ParseReadings failed: %v", err)
	}
	if len(result.Readings) != 2 {
		t.Errorf("Expected 2 good readings, got %d", len(result.Readings))
	}
	if len(result.Skipped) != 2 {
		t.Errorf("Expected 2 skipped rows, got %d", len(result.Skipped))
	}
	if result.Skipped[0].Row != 3 {
		t.Errorf("Expected first bad row at 3, got %d", result.Skipped[0].Row)
	}
}

func TestParseReadings_MissingRequiredColumn(t *testing.T) {
	data := `timestamp,voltage
2024-03-01 00:00:00,230.1
`
	if _, err := ParseReadings(strings.NewReader(data), "MTR-001"); err == nil {
		t.Fatal("Expected error for missing energy column")
	}
}

func TestParseReadings_NoReactiveColumn(t *testing.T) {
	data := `timestamp,energy_kwh
2024-03-01 00:00:00,0.125
`
	result, err := ParseReadings(strings.NewReader(data), "MTR-001")
	if err != nil {
		t.Fatalf("ParseReadings failed: %v", err)
	}
	if result.Readings[0].ReactiveKVarh != 0 {
		t.Errorf("Expected zero reactive, got %f", result.Readings[0].ReactiveKVarh)
	}
}

func TestYearsFromReadings(t *testing.T) {
	data := `timestamp,energy_kwh
2025-06-01 00:00:00,0.125
2024-03-01 00:00:00,0.125
2024-07-01 00:00:00,0.130
2023-01-01 00:00:00,0.120
`
	result, err := ParseReadings(strings.NewReader(data), "MTR-001")
	if err != nil {
		t.Fatalf("ParseReadings failed: %v", err)
	}

	years := YearsFromReadings(result.Readings)
	if len(years) != 3 {
		t.Fatalf("Expected 3 years, got %d", len(years))
	}
	if years[0] != 2023 || years[1] != 2024 || years[2] != 2025 {
		t.Errorf("Years not ascending: %v", years)
	}
}

func TestParseReadings_BOMHeader(t *testing.T) {
	data := "\uFEFF" + "timestamp,energy_kwh\n" +
		"2024-03-01 00:00:00,0.125\n"
	result, err := ParseReadings(strings.NewReader(data), "MTR-001")
	if err != nil {
		t.Fatalf("ParseReadings failed: %v", err)
	}
	if len(result.Readings) != 1 {
		t.Fatalf("Expected 1 reading, got %d", len(result.Readings))
	}
	if result.Readings[0].EnergyKWh != 0.125 {
		t.Errorf("Expected energy 0.125, got %f", result.Readings[0].EnergyKWh)
	}
}
