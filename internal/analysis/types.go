package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Meter represents an energy metering endpoint from the meter registry.
// The registry is maintained externally; the engine only reads it.
type Meter struct {
	DeviceID    string     `json:"device_id"`
	DeviceType  string     `json:"device_type"`
	Description string     `json:"description"`
	CustomerID  string     `json:"customer_id"`
	UserGroup   string     `json:"user_group"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	// DeactivatedAt being set excludes the meter from fleet-wide scans.
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Active reports whether the meter is still in service.
func (m *Meter) Active() bool {
	return m.DeactivatedAt == nil
}

// Reading is one timestamped energy measurement for a meter.
// Readings arrive at a nominal 15-minute interval, but the engine never
// assumes a complete grid.
type Reading struct {
	DeviceID      string    `json:"device_id"`
	Timestamp     time.Time `json:"timestamp"`
	EnergyKWh     float64   `json:"energy_kwh"`
	ReactiveKVarh float64   `json:"reactive_kvarh"`
}

// TimeOfDay returns the reading's time-of-day truncated to the reading
// granularity, e.g. "14:30". This is the join key between a target day's
// readings and the historical baseline.
func (r *Reading) TimeOfDay() string {
	return r.Timestamp.Format("15:04")
}

// TimeSlot identifies a normalized (weekday, time-of-day) position that
// aligns readings across calendar dates sharing the same weekday.
type TimeSlot struct {
	Weekday   time.Weekday
	TimeOfDay string // "HH:MM"
}

// SlotStat holds the aggregated expectation for one time-of-day slot.
type SlotStat struct {
	TimeOfDay string  `json:"time_of_day"`
	Mean      float64 `json:"mean"`
	Std       float64 `json:"std"`
	Samples   int     `json:"samples"`
}

// BaselineCurve is the expectation curve for one meter and one weekday,
// keyed by time-of-day. Built fresh per request; never persisted.
type BaselineCurve struct {
	DeviceID string
	Weekday  time.Weekday
	Slots    map[string]SlotStat
}

// Empty reports whether the curve has no slots. An empty curve is the
// engine's "no historical data" signal, not an error.
func (c *BaselineCurve) Empty() bool {
	return c == nil || len(c.Slots) == 0
}

// Percent is a deviation percentage. The zero-mean convention makes +Inf a
// legal value, which encoding/json cannot represent as a number, so infinite
// values travel as the strings "+Inf" and "-Inf" instead.
type Percent float64

func (p Percent) MarshalJSON() ([]byte, error) {
	f := float64(p)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(f)
}

func (p *Percent) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*p = Percent(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid percent value: %s", data)
	}
	switch s {
	case "+Inf", "Inf":
		*p = Percent(math.Inf(1))
	case "-Inf":
		*p = Percent(math.Inf(-1))
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid percent value %q", s)
		}
		*p = Percent(f)
	}
	return nil
}

// OverallState classifies a day's deviation from baseline.
type OverallState string

const (
	StateNormal   OverallState = "NORMAL"
	StateAlert    OverallState = "ALERT"
	StateCritical OverallState = "CRITICAL"
	// StateUnknown means no baseline slots matched the day's readings.
	StateUnknown OverallState = "UNKNOWN"
)

// DeviationPoint compares one actual reading against its baseline slot.
// PercentDeviation follows the engine's zero-mean convention: +Inf when the
// expected mean is zero but the actual value is not, zero when both are zero.
type DeviationPoint struct {
	TimeOfDay        string  `json:"time_of_day"`
	Actual           float64 `json:"actual"`
	ExpectedMean     float64 `json:"expected_mean"`
	ExpectedStd      float64 `json:"expected_std"`
	PercentDeviation Percent `json:"percent_deviation"`
}

// DeviationReport is the result of evaluating one meter's day against its
// weekday baseline.
type DeviationReport struct {
	DeviceID  string           `json:"device_id"`
	Date      time.Time        `json:"date"`
	Weekday   time.Weekday     `json:"weekday"`
	Points    []DeviationPoint `json:"points"`
	State     OverallState     `json:"state"`
	MaxAbsDev Percent          `json:"max_abs_deviation"`
}

// AnomalyRecord is one meter-day surfaced by a fleet scan.
type AnomalyRecord struct {
	DeviceID        string           `json:"device_id"`
	Date            time.Time        `json:"date"`
	MaxAbsDeviation Percent          `json:"max_abs_deviation"`
	Points          []DeviationPoint `json:"points"`
	Meter           Meter            `json:"meter"`
}

// GrowthRecord compares a meter's total energy between two periods.
type GrowthRecord struct {
	DeviceID             string  `json:"device_id"`
	Description          string  `json:"description"`
	CustomerID           string  `json:"customer_id"`
	CurrentPeriodEnergy  float64 `json:"current_period_energy_kwh"`
	PreviousPeriodEnergy float64 `json:"previous_period_energy_kwh"`
	GrowthKWh            float64 `json:"growth_kwh"`
	GrowthPercent        float64 `json:"growth_percent"`
}

// EnergyTotal summarizes consumption over a date range.
type EnergyTotal struct {
	DeviceID       string    `json:"device_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	TotalKWh       float64   `json:"total_energy_kwh"`
	ReadingCount   int       `json:"reading_count"`
	AveragePowerKW float64   `json:"average_power_kw"`
	PeriodDays     int       `json:"period_days"`
}

// PowerPeak is the maximum demand point found in a date range. Power is
// derived from interval energy at the 15-minute nominal granularity.
type PowerPeak struct {
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	MaxPowerKW float64   `json:"max_power_kw"`
}

// Annotation is the narrative layer's interpretation of a DeviationReport.
// State always echoes the engine's classification; the annotator narrates,
// it never overrides severity.
type Annotation struct {
	Summary        string          `json:"summary"`
	Habits         string          `json:"habits"`
	Anomalies      []AnomalyPeriod `json:"anomalies"`
	Recommendation string          `json:"recommendation"`
	State          OverallState    `json:"state"`
}

// AnomalyPeriod is one narrated anomalous time range.
type AnomalyPeriod struct {
	Period      string `json:"period"`
	Description string `json:"description"`
}

// DayAnalysis is the full single-day report returned to callers.
type DayAnalysis struct {
	DeviceID   string          `json:"device_id"`
	Meter      Meter           `json:"meter"`
	Date       time.Time       `json:"date"`
	Weekday    time.Weekday    `json:"weekday"`
	Report     DeviationReport `json:"report"`
	Annotation Annotation      `json:"annotation"`
}
