package analysis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ScanProgress reports liveness of a running fleet scan.
type ScanProgress struct {
	MetersProcessed int
	MetersTotal     int
	AnomaliesFound  int
}

// FleetScanner sweeps every active meter over a date range and surfaces the
// meter-days whose deviation from baseline crosses a threshold. Meters are
// independent, so the sweep fans out over a bounded worker pool; the
// dominant cost is the per-meter fetch plus O(readings) aggregation.
type FleetScanner struct {
	store    ReadingStore
	builder  *BaselineBuilder
	workers  int
	progress func(ScanProgress)
	// progressEvery controls the meter cadence of progress callbacks.
	progressEvery int
}

// ScannerOption configures a FleetScanner.
type ScannerOption func(*FleetScanner)

// WithWorkers sets the number of concurrent per-meter workers.
func WithWorkers(n int) ScannerOption {
	return func(s *FleetScanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithProgress installs a progress callback, invoked every n meters.
func WithProgress(every int, fn func(ScanProgress)) ScannerOption {
	return func(s *FleetScanner) {
		if every > 0 {
			s.progressEvery = every
		}
		s.progress = fn
	}
}

// NewFleetScanner creates a scanner over the given store.
func NewFleetScanner(store ReadingStore, opts ...ScannerOption) *FleetScanner {
	s := &FleetScanner{
		store:         store,
		builder:       NewBaselineBuilder(store),
		workers:       4,
		progressEvery: 10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type meterScanJob struct {
	index int
	meter Meter
}

// Scan evaluates every active meter against its baseline over each calendar
// day in [start, end]. Results keep roster order (then day order) so repeated
// scans over the same data are comparable; callers sort by severity
// downstream if they need to.
//
// A meter with no readings in range, no base-year history, or an empty join
// is skipped silently: those are normal conditions in a fleet with
// heterogeneous coverage. A meter whose processing fails is logged and
// skipped; it never aborts the sweep.
func (s *FleetScanner) Scan(ctx context.Context, baseYear int, start, end time.Time, thresholdPercent float64) ([]AnomalyRecord, error) {
	meters, err := s.store.ActiveMeters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active meters: %w", err)
	}
	if len(meters) == 0 {
		return []AnomalyRecord{}, nil
	}

	days := enumerateDays(start, end)

	jobs := make(chan meterScanJob)
	perMeter := make([][]AnomalyRecord, len(meters))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
		found     int
	)

	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				records, err := s.scanMeter(ctx, job.meter, baseYear, start, end, days, thresholdPercent)
				if err != nil {
					log.Printf("fleet scan: skipping meter %s: %v", job.meter.DeviceID, err)
				}
				mu.Lock()
				perMeter[job.index] = records
				processed++
				found += len(records)
				if s.progress != nil && processed%s.progressEvery == 0 {
					s.progress(ScanProgress{
						MetersProcessed: processed,
						MetersTotal:     len(meters),
						AnomaliesFound:  found,
					})
				}
				mu.Unlock()
			}
		}()
	}

	// Feed jobs, honoring cancellation between meters.
	var feedErr error
	for i, m := range meters {
		select {
		case jobs <- meterScanJob{index: i, meter: m}:
		case <-ctx.Done():
			feedErr = ctx.Err()
		}
		if feedErr != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	// Roster sizes are rarely a multiple of the cadence; always report the
	// final state so callers see completion.
	if s.progress != nil {
		s.progress(ScanProgress{
			MetersProcessed: processed,
			MetersTotal:     len(meters),
			AnomaliesFound:  found,
		})
	}

	if feedErr != nil {
		return nil, feedErr
	}

	results := make([]AnomalyRecord, 0, found)
	for _, records := range perMeter {
		results = append(results, records...)
	}
	return results, nil
}

// scanMeter fetches the full range and the base year once (one batched query
// each, not one per day), builds the baseline once, then slices each day out
// of the already-fetched batch.
func (s *FleetScanner) scanMeter(ctx context.Context, meter Meter, baseYear int, start, end time.Time, days []time.Time, threshold float64) ([]AnomalyRecord, error) {
	all, err := s.store.ReadingsRange(ctx, meter.DeviceID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("range query failed: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	hist, err := s.store.HistoricalYear(ctx, meter.DeviceID, baseYear)
	if err != nil {
		return nil, fmt.Errorf("base year query failed: %w", err)
	}
	if len(hist) == 0 {
		return nil, nil
	}

	curves := BuildCurves(meter.DeviceID, hist)
	byDay := groupByDay(all)

	var records []AnomalyRecord
	for _, day := range days {
		dayReadings := byDay[dayKey(day)]
		if len(dayReadings) == 0 {
			continue
		}

		curve := curves[day.Weekday()]
		if curve.Empty() {
			continue
		}

		report := Evaluate(meter.DeviceID, day, dayReadings, curve)
		if len(report.Points) == 0 {
			continue
		}

		if report.MaxAbsDev >= Percent(threshold) {
			records = append(records, AnomalyRecord{
				DeviceID:        meter.DeviceID,
				Date:            day,
				MaxAbsDeviation: report.MaxAbsDev,
				Points:          report.Points,
				Meter:           meter,
			})
		}
	}
	return records, nil
}

func enumerateDays(start, end time.Time) []time.Time {
	start = truncateDay(start)
	end = truncateDay(end)

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func groupByDay(readings []Reading) map[string][]Reading {
	byDay := make(map[string][]Reading)
	for _, r := range readings {
		k := dayKey(r.Timestamp)
		byDay[k] = append(byDay[k], r)
	}
	return byDay
}
