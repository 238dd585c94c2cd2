package chat

import (
	"testing"
	"time"
)

func TestParseLocal_TotalEnergy(t *testing.T) {
	q := ParseLocal("How much energy did meter MTR-001 use in June 2025?")

	if q.Intent != IntentTotalEnergy {
		t.Errorf("Expected total_energy intent, got %s", q.Intent)
	}
	if q.DeviceID != "MTR-001" {
		t.Errorf("Expected device MTR-001, got %q", q.DeviceID)
	}
	wantStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if !q.Start.Equal(wantStart) {
		t.Errorf("Expected start %v, got %v", wantStart, q.Start)
	}
	if !q.End.Equal(wantStart.AddDate(0, 1, 0)) {
		t.Errorf("Expected end one month later, got %v", q.End)
	}
}

func TestParseLocal_MaxPower(t *testing.T) {
	q := ParseLocal("what was the peak demand for device MTR-002 in January 2025")
	if q.Intent != IntentMaxPower {
		t.Errorf("Expected max_power intent, got %s", q.Intent)
	}
	if q.DeviceID != "MTR-002" {
		t.Errorf("Expected device MTR-002, got %q", q.DeviceID)
	}
}

func TestParseLocal_LoadCurveWithDate(t *testing.T) {
	q := ParseLocal("analyze meter MTR-001 on 2025-06-12 against 2024")

	if q.Intent != IntentLoadCurve {
		t.Errorf("Expected load_curve intent, got %s", q.Intent)
	}
	wantDate := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	if !q.Date.Equal(wantDate) {
		t.Errorf("Expected date %v, got %v", wantDate, q.Date)
	}
	if q.BaseYear != 2024 {
		t.Errorf("Expected base year 2024, got %d", q.BaseYear)
	}
}

func TestParseLocal_SlashDate(t *testing.T) {
	q := ParseLocal("analyze meter MTR-001 on 12/06/2025")
	wantDate := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	if !q.Date.Equal(wantDate) {
		t.Errorf("Expected date %v (day/month/year), got %v", wantDate, q.Date)
	}
}

func TestParseLocal_Anomalies(t *testing.T) {
	q := ParseLocal("any anomalies in the fleet during March 2025?")
	if q.Intent != IntentAnomalies {
		t.Errorf("Expected anomalies intent, got %s", q.Intent)
	}
	if q.Start.Month() != time.March {
		t.Errorf("Expected March period, got %v", q.Start)
	}
}

func TestParseLocal_Growth(t *testing.T) {
	q := ParseLocal("which meters grew the most in June 2025?")
	if q.Intent != IntentGrowth {
		t.Errorf("Expected growth intent, got %s", q.Intent)
	}
}

func TestParseLocal_ListMeters(t *testing.T) {
	q := ParseLocal("list the available meters")
	if q.Intent != IntentListMeters {
		t.Errorf("Expected list_meters intent, got %s", q.Intent)
	}
}

func TestParseLocal_BareYearAsPeriod(t *testing.T) {
	q := ParseLocal("total consumption of meter MTR-001 in 2024")

	wantStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !q.Start.Equal(wantStart) {
		t.Errorf("Expected whole-year start %v, got %v", wantStart, q.Start)
	}
	if !q.End.Equal(wantStart.AddDate(1, 0, 0)) {
		t.Errorf("Expected whole-year end, got %v", q.End)
	}
}

func TestQuery_Missing(t *testing.T) {
	q := Query{Intent: IntentTotalEnergy}
	missing := q.Missing()
	if len(missing) != 2 {
		t.Fatalf("Expected 2 missing params, got %v", missing)
	}

	q = Query{Intent: IntentLoadCurve, DeviceID: "MTR-001"}
	missing = q.Missing()
	if len(missing) != 1 || missing[0] != "date (for example '2025-06-12')" {
		t.Errorf("Expected missing date, got %v", missing)
	}

	q = Query{Intent: IntentListMeters}
	if len(q.Missing()) != 0 {
		t.Errorf("list_meters should need no parameters")
	}
}

func TestIntentRoundTrip(t *testing.T) {
	intents := []Intent{
		IntentTotalEnergy, IntentMaxPower, IntentLoadCurve,
		IntentAnomalies, IntentGrowth, IntentListMeters, IntentUnknown,
	}
	for _, in := range intents {
		if got := IntentFromString(in.String()); got != in {
			t.Errorf("Round trip failed for %s: got %s", in, got)
		}
	}
}
