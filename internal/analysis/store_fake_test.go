package analysis

import (
	"context"
	"errors"
	"sort"
	"time"
)

// fakeStore is an in-memory ReadingStore for tests.
type fakeStore struct {
	meters   []Meter
	readings map[string][]Reading // by device id, unordered
	failFor  map[string]error     // device id -> error to return from queries
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		readings: make(map[string][]Reading),
		failFor:  make(map[string]error),
	}
}

func (f *fakeStore) addMeter(m Meter) {
	f.meters = append(f.meters, m)
}

func (f *fakeStore) addReading(deviceID string, ts time.Time, kwh float64) {
	f.readings[deviceID] = append(f.readings[deviceID], Reading{
		DeviceID:  deviceID,
		Timestamp: ts,
		EnergyKWh: kwh,
	})
}

func (f *fakeStore) sorted(deviceID string, keep func(Reading) bool) []Reading {
	var out []Reading
	for _, r := range f.readings[deviceID] {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (f *fakeStore) ReadingsByDate(_ context.Context, deviceID string, date time.Time) ([]Reading, error) {
	if err := f.failFor[deviceID]; err != nil {
		return nil, err
	}
	day := date.Format("2006-01-02")
	return f.sorted(deviceID, func(r Reading) bool {
		return r.Timestamp.Format("2006-01-02") == day
	}), nil
}

func (f *fakeStore) ReadingsRange(_ context.Context, deviceID string, start, end time.Time) ([]Reading, error) {
	if err := f.failFor[deviceID]; err != nil {
		return nil, err
	}
	return f.sorted(deviceID, func(r Reading) bool {
		return !r.Timestamp.Before(start) && r.Timestamp.Before(end)
	}), nil
}

func (f *fakeStore) HistoricalYear(_ context.Context, deviceID string, year int) ([]Reading, error) {
	if err := f.failFor[deviceID]; err != nil {
		return nil, err
	}
	return f.sorted(deviceID, func(r Reading) bool {
		return r.Timestamp.Year() == year
	}), nil
}

func (f *fakeStore) AvailableYears(_ context.Context, deviceID string) ([]int, error) {
	seen := make(map[int]bool)
	for _, r := range f.readings[deviceID] {
		seen[r.Timestamp.Year()] = true
	}
	var years []int
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

func (f *fakeStore) ActiveMeters(_ context.Context) ([]Meter, error) {
	var out []Meter
	for _, m := range f.meters {
		if m.Active() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) Meter(_ context.Context, deviceID string) (*Meter, error) {
	for i := range f.meters {
		if f.meters[i].DeviceID == deviceID {
			return &f.meters[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) TotalEnergy(_ context.Context, deviceID string, start, end time.Time) (*EnergyTotal, error) {
	if err := f.failFor[deviceID]; err != nil {
		return nil, err
	}
	in := f.sorted(deviceID, func(r Reading) bool {
		return !r.Timestamp.Before(start) && r.Timestamp.Before(end)
	})
	if len(in) == 0 {
		return nil, nil
	}
	total := 0.0
	for _, r := range in {
		total += r.EnergyKWh
	}
	return &EnergyTotal{
		DeviceID:     deviceID,
		Start:        start,
		End:          end,
		TotalKWh:     total,
		ReadingCount: len(in),
	}, nil
}

func (f *fakeStore) MaxPower(_ context.Context, deviceID string, start, end time.Time) (*PowerPeak, error) {
	in := f.sorted(deviceID, func(r Reading) bool {
		return !r.Timestamp.Before(start) && r.Timestamp.Before(end)
	})
	if len(in) == 0 {
		return nil, nil
	}
	peak := in[0]
	for _, r := range in[1:] {
		if r.EnergyKWh > peak.EnergyKWh {
			peak = r
		}
	}
	return &PowerPeak{
		DeviceID:   deviceID,
		Timestamp:  peak.Timestamp,
		MaxPowerKW: peak.EnergyKWh * 4,
	}, nil
}

var errStoreDown = errors.New("store unavailable")
