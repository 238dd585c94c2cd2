package analysis

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// GrowthAnalyzer ranks active meters by period-over-period energy growth.
type GrowthAnalyzer struct {
	store   ReadingStore
	workers int
}

// NewGrowthAnalyzer creates a growth analyzer over the given store.
func NewGrowthAnalyzer(store ReadingStore, workers int) *GrowthAnalyzer {
	if workers <= 0 {
		workers = 4
	}
	return &GrowthAnalyzer{store: store, workers: workers}
}

// Compare sums each active meter's energy over the current and previous
// periods and keeps meters whose growth percentage meets the minimum,
// sorted by growth percentage descending.
//
// A meter with no data in either period is skipped. So is a meter whose
// previous-period total is exactly zero: growth against a zero base is
// undefined in this system, not infinite. That deliberately differs from
// the deviation evaluator's zero-mean convention; the two must not be
// unified.
func (g *GrowthAnalyzer) Compare(ctx context.Context, curStart, curEnd, prevStart, prevEnd time.Time, minGrowthPercent float64) ([]GrowthRecord, error) {
	meters, err := g.store.ActiveMeters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active meters: %w", err)
	}

	jobs := make(chan Meter)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []GrowthRecord
	)

	for w := 0; w < g.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				rec, err := g.compareMeter(ctx, m, curStart, curEnd, prevStart, prevEnd)
				if err != nil {
					log.Printf("growth analysis: skipping meter %s: %v", m.DeviceID, err)
					continue
				}
				if rec == nil || rec.GrowthPercent < minGrowthPercent {
					continue
				}
				mu.Lock()
				results = append(results, *rec)
				mu.Unlock()
			}
		}()
	}

	var feedErr error
	for _, m := range meters {
		select {
		case jobs <- m:
		case <-ctx.Done():
			feedErr = ctx.Err()
		}
		if feedErr != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	if feedErr != nil {
		return nil, feedErr
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].GrowthPercent > results[j].GrowthPercent
	})
	return results, nil
}

func (g *GrowthAnalyzer) compareMeter(ctx context.Context, m Meter, curStart, curEnd, prevStart, prevEnd time.Time) (*GrowthRecord, error) {
	current, err := g.store.TotalEnergy(ctx, m.DeviceID, curStart, curEnd)
	if err != nil {
		return nil, fmt.Errorf("current period query failed: %w", err)
	}
	previous, err := g.store.TotalEnergy(ctx, m.DeviceID, prevStart, prevEnd)
	if err != nil {
		return nil, fmt.Errorf("previous period query failed: %w", err)
	}

	if current == nil || previous == nil {
		return nil, nil
	}
	if previous.TotalKWh <= 0 {
		return nil, nil
	}

	growthKWh := current.TotalKWh - previous.TotalKWh
	return &GrowthRecord{
		DeviceID:             m.DeviceID,
		Description:          m.Description,
		CustomerID:           m.CustomerID,
		CurrentPeriodEnergy:  current.TotalKWh,
		PreviousPeriodEnergy: previous.TotalKWh,
		GrowthKWh:            growthKWh,
		GrowthPercent:        growthKWh / previous.TotalKWh * 100,
	}, nil
}
