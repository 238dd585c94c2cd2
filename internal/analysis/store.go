package analysis

import (
	"context"
	"time"
)

// ReadingStore is the engine's read-only view of the reading repository.
// All reading sequences are returned ordered by timestamp ascending.
// Implementations must be safe for concurrent use: fleet operations issue
// queries from a bounded pool of workers.
type ReadingStore interface {
	// ReadingsByDate returns all readings for one meter on one calendar day
	// (00:00:00 through 23:59:59 of the date's day).
	ReadingsByDate(ctx context.Context, deviceID string, date time.Time) ([]Reading, error)

	// ReadingsRange returns all readings for one meter with
	// start <= timestamp < end.
	ReadingsRange(ctx context.Context, deviceID string, start, end time.Time) ([]Reading, error)

	// HistoricalYear returns every reading for the meter whose timestamp
	// falls in the given calendar year.
	HistoricalYear(ctx context.Context, deviceID string, year int) ([]Reading, error)

	// AvailableYears returns the distinct calendar years with readings for
	// the meter, ascending.
	AvailableYears(ctx context.Context, deviceID string) ([]int, error)

	// ActiveMeters returns the roster of meters without a deactivation
	// timestamp.
	ActiveMeters(ctx context.Context) ([]Meter, error)

	// Meter returns the meter with the given device id, or nil when the
	// registry has no such meter. A nil meter with a nil error means
	// "not found", never "query failed".
	Meter(ctx context.Context, deviceID string) (*Meter, error)

	// TotalEnergy sums energy over a date range. Returns nil when the range
	// holds no readings.
	TotalEnergy(ctx context.Context, deviceID string, start, end time.Time) (*EnergyTotal, error)

	// MaxPower returns the peak demand point in a date range. Returns nil
	// when the range holds no readings.
	MaxPower(ctx context.Context, deviceID string, start, end time.Time) (*PowerPeak, error)
}
