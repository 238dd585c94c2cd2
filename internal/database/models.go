package database

import (
	"time"
)

// CoverageSummary describes the stored data range for one meter.
type CoverageSummary struct {
	DeviceID     string    `json:"device_id"`
	Description  string    `json:"description"`
	FirstReading time.Time `json:"first_reading"`
	LastReading  time.Time `json:"last_reading"`
	ReadingCount int       `json:"reading_count"`
}
