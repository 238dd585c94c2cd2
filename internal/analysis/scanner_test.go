package analysis

import (
	"context"
	"testing"
	"time"
)

// seedMondays2024 fills every Monday of 2024 with a flat 15-minute series.
func seedMondays2024(store *fakeStore, deviceID string, kwh float64) {
	for d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == 2024; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Monday {
			continue
		}
		for slot := 0; slot < 24*4; slot++ {
			store.addReading(deviceID, d.Add(time.Duration(slot)*15*time.Minute), kwh)
		}
	}
}

// seedDay fills one day with a flat 15-minute series, overriding the value
// inside [spikeFrom, spikeTo).
func seedDay(store *fakeStore, deviceID string, day time.Time, kwh float64, spikeFrom, spikeTo int, spikeKWh float64) {
	for slot := 0; slot < 24*4; slot++ {
		ts := day.Add(time.Duration(slot) * 15 * time.Minute)
		v := kwh
		if slot >= spikeFrom && slot < spikeTo {
			v = spikeKWh
		}
		store.addReading(deviceID, ts, v)
	}
}

func TestFleetScanner_EmptyFleetReturnsEmptyList(t *testing.T) {
	store := newFakeStore()
	scanner := NewFleetScanner(store)

	records, err := scanner.Scan(context.Background(), 2024,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC), 20)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}

func TestFleetScanner_FindsSpikeAboveThreshold(t *testing.T) {
	store := newFakeStore()
	store.addMeter(Meter{DeviceID: "M1", Description: "feeder 1"})
	seedMondays2024(store, "M1", 10)

	// Monday 2025-01-06: flat 10 kWh except a doubled hour (slots 56-60 = 14:00-15:00).
	seedDay(store, "M1", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 10, 56, 60, 20)

	scanner := NewFleetScanner(store, WithWorkers(2))
	records, err := scanner.Scan(context.Background(), 2024,
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 50)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}

	rec := records[0]
	if rec.DeviceID != "M1" {
		t.Errorf("device = %s, want M1", rec.DeviceID)
	}
	if rec.MaxAbsDeviation != 100 {
		t.Errorf("max deviation = %v, want 100", rec.MaxAbsDeviation)
	}
	if rec.Meter.Description != "feeder 1" {
		t.Errorf("meter summary not carried: %+v", rec.Meter)
	}
}

func TestFleetScanner_BelowThresholdYieldsNothing(t *testing.T) {
	store := newFakeStore()
	store.addMeter(Meter{DeviceID: "M1"})
	seedMondays2024(store, "M1", 10)
	seedDay(store, "M1", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 10, 56, 60, 11)

	scanner := NewFleetScanner(store)
	records, err := scanner.Scan(context.Background(), 2024,
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 50)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}

func TestFleetScanner_SkipsMetersWithoutBaselineOrData(t *testing.T) {
	store := newFakeStore()
	store.addMeter(Meter{DeviceID: "NOHIST"}) // readings in range, no base year
	store.addMeter(Meter{DeviceID: "NODATA"}) // base year only, nothing in range
	store.addMeter(Meter{DeviceID: "GOOD"})

	seedDay(store, "NOHIST", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 10, 0, 0, 0)
	seedMondays2024(store, "NODATA", 10)
	seedMondays2024(store, "GOOD", 10)
	seedDay(store, "GOOD", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 10, 0, 96, 30)

	scanner := NewFleetScanner(store)
	records, err := scanner.Scan(context.Background(), 2024,
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 20)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(records) != 1 || records[0].DeviceID != "GOOD" {
		t.Fatalf("records = %+v, want single GOOD record", records)
	}
}

func TestFleetScanner_FailingMeterIsSkippedNotFatal(t *testing.T) {
	store := newFakeStore()
	store.addMeter(Meter{DeviceID: "BROKEN"})
	store.addMeter(Meter{DeviceID: "GOOD"})
	store.failFor["BROKEN"] = errStoreDown

	seedMondays2024(store, "GOOD", 10)
	seedDay(store, "GOOD", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 10, 0, 96, 30)

	scanner := NewFleetScanner(store)
	records, err := scanner.Scan(context.Background(), 2024,
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 20)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(records) != 1 || records[0].DeviceID != "GOOD" {
		t.Fatalf("records = %+v, want single GOOD record", records)
	}
}

func TestFleetScanner_DeactivatedMetersExcluded(t *testing.T) {
	store := newFakeStore()
	off := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store.addMeter(Meter{DeviceID: "OFF", DeactivatedAt: &off})
	seedMondays2024(store, "OFF", 10)
	seedDay(store, "OFF", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 10, 0, 96, 100)

	scanner := NewFleetScanner(store)
	records, err := scanner.Scan(context.Background(), 2024,
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 20)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0 (deactivated meter)", len(records))
	}
}

func TestFleetScanner_ProgressReported(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		store.addMeter(Meter{DeviceID: string(rune('A' + i))})
	}

	var calls []ScanProgress
	scanner := NewFleetScanner(store,
		WithWorkers(1),
		WithProgress(2, func(p ScanProgress) { calls = append(calls, p) }))

	if _, err := scanner.Scan(context.Background(), 2024,
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 20); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}

	// 5 meters at a cadence of 2: callbacks after meters 2 and 4, then one
	// final callback at completion.
	if len(calls) != 3 {
		t.Fatalf("progress calls = %d, want 3", len(calls))
	}
	if calls[0].MetersProcessed != 2 || calls[0].MetersTotal != 5 {
		t.Errorf("first progress = %+v", calls[0])
	}
	last := calls[len(calls)-1]
	if last.MetersProcessed != 5 || last.MetersTotal != 5 {
		t.Errorf("final progress = %+v, want all 5 meters processed", last)
	}
}

func TestFleetScanner_CancellationStopsScan(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 50; i++ {
		store.addMeter(Meter{DeviceID: string(rune('A' + i))})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := NewFleetScanner(store)
	_, err := scanner.Scan(ctx, 2024,
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC), 20)
	if err == nil {
		t.Fatal("Scan should return the context error after cancellation")
	}
}
