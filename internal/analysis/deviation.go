package analysis

import (
	"math"
	"sort"
	"time"
)

// Classification boundaries. The 21.0001 literal (rather than 21) keeps the
// exact 21% boundary from matching both the NORMAL and ALERT bands; it is a
// deliberate policy carried over from the original classifier and must not
// be "cleaned up" into a symmetric 20/70 split.
const (
	alertLow     = -21.0001
	alertHigh    = 21.0001
	criticalLow  = -71.0
	criticalHigh = 71.0
)

// Evaluate merges a target day's readings against the baseline curve for the
// matching weekday and classifies the overall state. Slots present on only
// one side of the join are dropped silently; an empty join yields UNKNOWN.
func Evaluate(deviceID string, date time.Time, actual []Reading, baseline *BaselineCurve) DeviationReport {
	report := DeviationReport{
		DeviceID: deviceID,
		Date:     date,
		Weekday:  date.Weekday(),
		State:    StateUnknown,
	}

	if baseline.Empty() {
		return report
	}

	for _, r := range actual {
		stat, ok := baseline.Slots[r.TimeOfDay()]
		if !ok {
			continue
		}
		dev := percentDeviation(r.EnergyKWh, stat.Mean)
		report.Points = append(report.Points, DeviationPoint{
			TimeOfDay:        r.TimeOfDay(),
			Actual:           r.EnergyKWh,
			ExpectedMean:     stat.Mean,
			ExpectedStd:      stat.Std,
			PercentDeviation: Percent(dev),
		})
		if abs := Percent(math.Abs(dev)); abs > report.MaxAbsDev {
			report.MaxAbsDev = abs
		}
	}

	sort.Slice(report.Points, func(i, j int) bool {
		return report.Points[i].TimeOfDay < report.Points[j].TimeOfDay
	})

	report.State = classify(report.Points)
	return report
}

// percentDeviation applies the engine's zero-mean convention: a reading
// against a zero expectation is an infinite-magnitude deviation (maximal
// severity), and zero against zero is no deviation at all.
func percentDeviation(actual, expectedMean float64) float64 {
	if expectedMean != 0 {
		return (actual - expectedMean) / expectedMean * 100
	}
	if actual != 0 {
		return math.Inf(1)
	}
	return 0
}

// classify determines the overall state from per-point deviations, critical
// band first. No points means there was nothing to compare against.
func classify(points []DeviationPoint) OverallState {
	if len(points) == 0 {
		return StateUnknown
	}

	for _, p := range points {
		if p.PercentDeviation < criticalLow || p.PercentDeviation > criticalHigh {
			return StateCritical
		}
	}

	for _, p := range points {
		d := p.PercentDeviation
		if (d >= criticalLow && d <= alertLow) || (d >= alertHigh && d <= criticalHigh) {
			return StateAlert
		}
	}

	return StateNormal
}
