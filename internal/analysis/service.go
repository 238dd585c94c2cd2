package analysis

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Observer is notified after each completed single-day analysis. Observers
// run synchronously and must not fail the analysis; they are for auditing
// and alerting side channels.
type Observer interface {
	OnAnalysis(ctx context.Context, result *DayAnalysis)
}

// Service orchestrates single-meter analysis and exposes the engine's
// simple read operations. It is stateless between calls: every request
// builds fresh baselines and reports.
type Service struct {
	store     ReadingStore
	builder   *BaselineBuilder
	annotator Annotator
	observers []Observer
}

// NewService creates an analysis service. annotator may be nil, in which
// case every analysis carries the stub annotation.
func NewService(store ReadingStore, annotator Annotator) *Service {
	return &Service{
		store:     store,
		builder:   NewBaselineBuilder(store),
		annotator: annotator,
	}
}

// Attach registers an observer for completed analyses.
func (s *Service) Attach(o Observer) {
	s.observers = append(s.observers, o)
}

// Store exposes the underlying reading store for thin passthrough callers.
func (s *Service) Store() ReadingStore {
	return s.store
}

// AnalyzeDay runs the full single-day analysis: validate the meter, fetch
// the day's readings, build the weekday baseline from the base year,
// evaluate the deviation report, and attach the narrative annotation.
//
// Terminal failures: ErrMeterNotFound, ErrNoData, ErrNoBaseline. An
// unreachable annotator is not terminal; the result degrades to a stub
// annotation with the engine's state preserved.
func (s *Service) AnalyzeDay(ctx context.Context, deviceID string, targetDate time.Time, baseYear int) (*DayAnalysis, error) {
	meter, err := s.store.Meter(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up meter %s: %w", deviceID, err)
	}
	if meter == nil {
		return nil, fmt.Errorf("meter %s: %w", deviceID, ErrMeterNotFound)
	}

	actual, err := s.store.ReadingsByDate(ctx, deviceID, targetDate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch readings for %s: %w", deviceID, err)
	}
	if len(actual) == 0 {
		return nil, fmt.Errorf("meter %s on %s: %w", deviceID, targetDate.Format("2006-01-02"), ErrNoData)
	}

	curve, err := s.builder.BuildForWeekday(ctx, deviceID, baseYear, targetDate.Weekday())
	if err != nil {
		return nil, err
	}
	if curve.Empty() {
		return nil, fmt.Errorf("meter %s, base year %d: %w", deviceID, baseYear, ErrNoBaseline)
	}

	report := Evaluate(deviceID, truncateDay(targetDate), actual, curve)

	result := &DayAnalysis{
		DeviceID:   deviceID,
		Meter:      *meter,
		Date:       truncateDay(targetDate),
		Weekday:    targetDate.Weekday(),
		Report:     report,
		Annotation: s.annotate(ctx, *meter, report),
	}

	for _, o := range s.observers {
		o.OnAnalysis(ctx, result)
	}
	return result, nil
}

// annotate calls the narrative layer and degrades to the stub on any
// failure. The annotator only narrates: whatever state it returns is
// replaced with the engine's classification.
func (s *Service) annotate(ctx context.Context, meter Meter, report DeviationReport) Annotation {
	if s.annotator == nil {
		return StubAnnotation(report.State)
	}

	ann, err := s.annotator.Annotate(ctx, meter, report)
	if err != nil {
		log.Printf("annotation unavailable for %s: %v", meter.DeviceID, err)
		return StubAnnotation(report.State)
	}

	ann.State = report.State
	if ann.Anomalies == nil {
		ann.Anomalies = []AnomalyPeriod{}
	}
	return ann
}

// AvailableMeters returns the active meter roster.
func (s *Service) AvailableMeters(ctx context.Context) ([]Meter, error) {
	return s.store.ActiveMeters(ctx)
}

// AvailableYears returns the calendar years with readings for a meter,
// validating that the meter exists first.
func (s *Service) AvailableYears(ctx context.Context, deviceID string) ([]int, error) {
	meter, err := s.store.Meter(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up meter %s: %w", deviceID, err)
	}
	if meter == nil {
		return nil, fmt.Errorf("meter %s: %w", deviceID, ErrMeterNotFound)
	}
	return s.store.AvailableYears(ctx, deviceID)
}

// TotalEnergy returns consumption totals for a meter over a date range.
func (s *Service) TotalEnergy(ctx context.Context, deviceID string, start, end time.Time) (*EnergyTotal, error) {
	meter, err := s.store.Meter(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up meter %s: %w", deviceID, err)
	}
	if meter == nil {
		return nil, fmt.Errorf("meter %s: %w", deviceID, ErrMeterNotFound)
	}

	total, err := s.store.TotalEnergy(ctx, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum energy for %s: %w", deviceID, err)
	}
	if total == nil {
		return nil, fmt.Errorf("meter %s: %w", deviceID, ErrNoData)
	}
	return total, nil
}

// MaxPower returns the peak demand point for a meter over a date range.
func (s *Service) MaxPower(ctx context.Context, deviceID string, start, end time.Time) (*PowerPeak, error) {
	meter, err := s.store.Meter(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up meter %s: %w", deviceID, err)
	}
	if meter == nil {
		return nil, fmt.Errorf("meter %s: %w", deviceID, ErrMeterNotFound)
	}

	peak, err := s.store.MaxPower(ctx, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to find peak power for %s: %w", deviceID, err)
	}
	if peak == nil {
		return nil, fmt.Errorf("meter %s: %w", deviceID, ErrNoData)
	}
	return peak, nil
}
