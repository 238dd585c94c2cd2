package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jrmarin/energy-server/internal/analysis"
)

// Column aliases accepted in uploaded files. Export formats vary between
// metering vendors, so matching is case-insensitive after normalization.
var (
	timestampColumns = []string{"timestamp", "datetime", "date_time", "fecha", "time"}
	energyColumns    = []string{"energy_kwh", "consumo", "consumption", "kwh", "energy", "ae_kwh"}
	reactiveColumns  = []string{"reactive_kvarh", "reactiva", "reactive", "kvarh", "r1_kvarh"}
)

// Accepted timestamp layouts, tried in order
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// ParseResult summarizes one parsed CSV upload
type ParseResult struct {
	Readings []analysis.Reading
	Skipped  []RowError
}

// RowError records a row that could not be parsed
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ParseReadings parses a CSV export of interval readings for one meter. The
// first row must be a header; timestamp and energy columns are required,
// reactive energy is optional. Bad rows are collected, not fatal.
func ParseReadings(r io.Reader, deviceID string) (*ParseResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	tsIdx := findColumn(header, timestampColumns)
	energyIdx := findColumn(header, energyColumns)
	reactiveIdx := findColumn(header, reactiveColumns)

	if tsIdx < 0 {
		return nil, fmt.Errorf("no timestamp column found (accepted: %s)", strings.Join(timestampColumns, ", "))
	}
	if energyIdx < 0 {
		return nil, fmt.Errorf("no energy column found (accepted: %s)", strings.Join(energyColumns, ", "))
	}

	result := &ParseResult{}
	row := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			result.Skipped = append(result.Skipped, RowError{Row: row, Reason: err.Error()})
			continue
		}

		if tsIdx >= len(record) || energyIdx >= len(record) {
			result.Skipped = append(result.Skipped, RowError{Row: row, Reason: "missing columns"})
			continue
		}

		ts, err := parseTimestamp(record[tsIdx])
		if err != nil {
			result.Skipped = append(result.Skipped, RowError{Row: row, Reason: fmt.Sprintf("bad timestamp %q", record[tsIdx])})
			continue
		}

		energy, err := parseFloat(record[energyIdx])
		if err != nil {
			result.Skipped = append(result.Skipped, RowError{Row: row, Reason: fmt.Sprintf("bad energy value %q", record[energyIdx])})
			continue
		}

		reading := analysis.Reading{
			DeviceID:  deviceID,
			Timestamp: ts,
			EnergyKWh: energy,
		}

		if reactiveIdx >= 0 && reactiveIdx < len(record) && strings.TrimSpace(record[reactiveIdx]) != "" {
			if reactive, err := parseFloat(record[reactiveIdx]); err == nil {
				reading.ReactiveKVarh = reactive
			}
		}

		result.Readings = append(result.Readings, reading)
	}

	return result, nil
}

// YearsFromReadings returns the distinct calendar years covered by a set of
// readings, ascending
func YearsFromReadings(readings []analysis.Reading) []int {
	seen := make(map[int]bool)
	var years []int
	for _, r := range readings {
		y := r.Timestamp.Year()
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	// Insertion order follows the file; sort ascending
	for i := 1; i < len(years); i++ {
		for j := i; j > 0 && years[j] < years[j-1]; j-- {
			years[j], years[j-1] = years[j-1], years[j]
		}
	}
	return years
}

func findColumn(header []string, aliases []string) int {
	for i, col := range header {
		normalized := normalizeHeader(col)
		for _, alias := range aliases {
			if normalized == alias {
				return i
			}
		}
	}
	return -1
}

func normalizeHeader(col string) string {
	col = strings.TrimSpace(col)
	col = strings.ToLower(col)
	col = strings.ReplaceAll(col, " ", "_")
	col = strings.ReplaceAll(col, "-", "_")
	// Strip a UTF-8 BOM left by spreadsheet exports
	col = strings.TrimPrefix(col, "\uFEFF")
	return col
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

func parseFloat(value string) (float64, error) {
	value = strings.TrimSpace(value)
	// Decimal comma appears in some exports
	value = strings.ReplaceAll(value, ",", ".")
	return strconv.ParseFloat(value, 64)
}
