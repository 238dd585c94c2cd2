package analysis

import (
	"context"
	"math"
	"testing"
	"time"
)

func seedPeriod(store *fakeStore, deviceID string, start time.Time, days int, kwhPerDay float64) {
	for d := 0; d < days; d++ {
		store.addReading(deviceID, start.AddDate(0, 0, d).Add(12*time.Hour), kwhPerDay)
	}
}

var (
	curStart  = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	curEnd    = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	prevStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prevEnd   = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
)

func TestGrowthAnalyzer_TenPercentGrowth(t *testing.T) {
	store := newFakeStore()
	store.addMeter(Meter{DeviceID: "M1"})
	seedPeriod(store, "M1", prevStart, 10, 100) // 1000 kWh
	seedPeriod(store, "M1", curStart, 11, 100)  // 1100 kWh

	g := NewGrowthAnalyzer(store, 2)
	records, err := g.Compare(context.Background(), curStart, curEnd, prevStart, prevEnd, 0)
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}

	rec := records[0]
	if math.Abs(rec.GrowthPercent-10) > 1e-9 {
		t.Errorf("growth = %v%%, want 10", rec.GrowthPercent)
	}
	if math.Abs(rec.GrowthKWh-100) > 1e-9 {
		t.Errorf("growth kWh = %v, want 100", rec.GrowthKWh)
	}
}

func TestGrowthAnalyzer_ZeroPreviousPeriodExcluded(t *testing.T) {
	store := newFakeStore()
	store.addMeter(Meter{DeviceID: "M1"})
	// Previous period has readings summing to exactly zero.
	store.addReading("M1", prevStart.Add(12*time.Hour), 0)
	seedPeriod(store, "M1", curStart, 10, 100)

	g := NewGrowthAnalyzer(store, 1)
	records, err := g.Compare(context.Background(), curStart, curEnd, prevStart, prevEnd, 0)
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0 (previous period energy is zero)", len(records))
	}
}

func TestGrowthAnalyzer_MissingPeriodExcluded(t *testing.T) {
	store := newFakeStore()
	store.addMeter(Meter{DeviceID: "M1"})
	seedPeriod(store, "M1", curStart, 10, 100) // only the current period

	g := NewGrowthAnalyzer(store, 1)
	records, err := g.Compare(context.Background(), curStart, curEnd, prevStart, prevEnd, 0)
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0 (no previous period data)", len(records))
	}
}

func TestGrowthAnalyzer_MinimumGrowthFilter(t *testing.T) {
	store := newFakeStore()
	store.addMeter(Meter{DeviceID: "SMALL"})
	store.addMeter(Meter{DeviceID: "BIG"})
	seedPeriod(store, "SMALL", prevStart, 10, 100)
	seedPeriod(store, "SMALL", curStart, 10, 105) // +5%
	seedPeriod(store, "BIG", prevStart, 10, 100)
	seedPeriod(store, "BIG", curStart, 10, 150) // +50%

	g := NewGrowthAnalyzer(store, 2)
	records, err := g.Compare(context.Background(), curStart, curEnd, prevStart, prevEnd, 20)
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if len(records) != 1 || records[0].DeviceID != "BIG" {
		t.Fatalf("records = %+v, want only BIG", records)
	}
}

func TestGrowthAnalyzer_SortedByGrowthDescending(t *testing.T) {
	store := newFakeStore()
	for _, m := range []struct {
		id  string
		cur float64
	}{{"A", 110}, {"B", 150}, {"C", 120}} {
		store.addMeter(Meter{DeviceID: m.id})
		seedPeriod(store, m.id, prevStart, 10, 100)
		seedPeriod(store, m.id, curStart, 10, m.cur)
	}

	g := NewGrowthAnalyzer(store, 3)
	records, err := g.Compare(context.Background(), curStart, curEnd, prevStart, prevEnd, 0)
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}

	want := []string{"B", "C", "A"}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	for i, id := range want {
		if records[i].DeviceID != id {
			t.Errorf("rank %d = %s, want %s", i, records[i].DeviceID, id)
		}
	}
}

func TestGrowthAnalyzer_FailingMeterSkipped(t *testing.T) {
	store := newFakeStore()
	store.addMeter(Meter{DeviceID: "BROKEN"})
	store.addMeter(Meter{DeviceID: "GOOD"})
	store.failFor["BROKEN"] = errStoreDown
	seedPeriod(store, "GOOD", prevStart, 10, 100)
	seedPeriod(store, "GOOD", curStart, 10, 120)

	g := NewGrowthAnalyzer(store, 2)
	records, err := g.Compare(context.Background(), curStart, curEnd, prevStart, prevEnd, 0)
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if len(records) != 1 || records[0].DeviceID != "GOOD" {
		t.Fatalf("records = %+v, want only GOOD", records)
	}
}
