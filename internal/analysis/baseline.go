package analysis

import (
	"context"
	"fmt"
	"math"
	"time"
)

// BaselineBuilder turns a year of historical readings into per-weekday
// expectation curves. It has no state beyond the store handle and performs
// no writes.
type BaselineBuilder struct {
	store ReadingStore
}

// NewBaselineBuilder creates a baseline builder backed by the given store.
func NewBaselineBuilder(store ReadingStore) *BaselineBuilder {
	return &BaselineBuilder{store: store}
}

// Build fetches the meter's readings for the base year and aggregates them
// into one BaselineCurve per weekday. A year without data yields a map of
// empty curves, not an error; callers check Empty().
func (b *BaselineBuilder) Build(ctx context.Context, deviceID string, baseYear int) (map[time.Weekday]*BaselineCurve, error) {
	readings, err := b.store.HistoricalYear(ctx, deviceID, baseYear)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch base year %d for %s: %w", baseYear, deviceID, err)
	}
	return BuildCurves(deviceID, readings), nil
}

// BuildForWeekday builds only the curve slice for one weekday.
func (b *BaselineBuilder) BuildForWeekday(ctx context.Context, deviceID string, baseYear int, weekday time.Weekday) (*BaselineCurve, error) {
	curves, err := b.Build(ctx, deviceID, baseYear)
	if err != nil {
		return nil, err
	}
	return curves[weekday], nil
}

// BuildCurves aggregates an already-fetched reading set into per-weekday
// curves. Pure function: group by (weekday, time-of-day), then mean and
// sample standard deviation of the energy value within each group.
func BuildCurves(deviceID string, readings []Reading) map[time.Weekday]*BaselineCurve {
	groups := make(map[TimeSlot][]float64)
	for _, r := range readings {
		slot := TimeSlot{Weekday: r.Timestamp.Weekday(), TimeOfDay: r.TimeOfDay()}
		groups[slot] = append(groups[slot], r.EnergyKWh)
	}

	curves := make(map[time.Weekday]*BaselineCurve, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		curves[d] = &BaselineCurve{
			DeviceID: deviceID,
			Weekday:  d,
			Slots:    make(map[string]SlotStat),
		}
	}

	for slot, values := range groups {
		curves[slot.Weekday].Slots[slot.TimeOfDay] = SlotStat{
			TimeOfDay: slot.TimeOfDay,
			Mean:      mean(values),
			Std:       sampleStd(values),
			Samples:   len(values),
		}
	}

	return curves
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd computes the sample standard deviation (n-1 denominator).
// A single sample has no spread to estimate and yields 0.
func sampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}
