package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/jrmarin/energy-server/internal/analysis"
)

// DB wraps the database connection. It implements analysis.ReadingStore;
// database/sql's pool makes the read path safe for the engine's concurrent
// per-meter workers.
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// ReadingsByDate retrieves one meter's readings for a full calendar day,
// ordered by timestamp.
func (db *DB) ReadingsByDate(ctx context.Context, deviceID string, date time.Time) ([]analysis.Reading, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	end := start.AddDate(0, 0, 1)
	return db.ReadingsRange(ctx, deviceID, start, end)
}

// ReadingsRange retrieves one meter's readings with start <= ts < end,
// ordered by timestamp.
func (db *DB) ReadingsRange(ctx context.Context, deviceID string, start, end time.Time) ([]analysis.Reading, error) {
	query := `
		SELECT device_id, recorded_at, energy_kwh, reactive_kvarh
		FROM readings
		WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at
	`
	rows, err := db.QueryContext(ctx, query, deviceID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReadings(rows)
}

// HistoricalYear retrieves every reading for a meter in one calendar year,
// ordered by timestamp.
func (db *DB) HistoricalYear(ctx context.Context, deviceID string, year int) ([]analysis.Reading, error) {
	query := `
		SELECT device_id, recorded_at, energy_kwh, reactive_kvarh
		FROM readings
		WHERE device_id = $1 AND EXTRACT(YEAR FROM recorded_at) = $2
		ORDER BY recorded_at
	`
	rows, err := db.QueryContext(ctx, query, deviceID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReadings(rows)
}

// AvailableYears returns the distinct calendar years with readings for a
// meter, ascending.
func (db *DB) AvailableYears(ctx context.Context, deviceID string) ([]int, error) {
	query := `
		SELECT DISTINCT EXTRACT(YEAR FROM recorded_at)::int AS year
		FROM readings
		WHERE device_id = $1
		ORDER BY year
	`
	rows, err := db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// ActiveMeters returns all meters without a deactivation timestamp.
func (db *DB) ActiveMeters(ctx context.Context) ([]analysis.Meter, error) {
	query := `
		SELECT device_id, device_type, description, customer_id, user_group,
		       activated_at, deactivated_at
		FROM meters
		WHERE deactivated_at IS NULL
		ORDER BY device_id
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meters []analysis.Meter
	for rows.Next() {
		m, err := scanMeter(rows)
		if err != nil {
			return nil, err
		}
		meters = append(meters, *m)
	}
	return meters, rows.Err()
}

// Meter retrieves a meter by device id. A missing meter is (nil, nil) so a
// nil result never doubles as a query failure.
func (db *DB) Meter(ctx context.Context, deviceID string) (*analysis.Meter, error) {
	query := `
		SELECT device_id, device_type, description, customer_id, user_group,
		       activated_at, deactivated_at
		FROM meters
		WHERE device_id = $1
	`
	row := db.QueryRowContext(ctx, query, deviceID)
	m, err := scanMeter(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpsertMeter inserts or updates a meter record. Used by the ingestion
// pipeline when a device identifies itself.
func (db *DB) UpsertMeter(ctx context.Context, m *analysis.Meter) error {
	query := `
		INSERT INTO meters (device_id, device_type, description, customer_id, user_group, activated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, CURRENT_TIMESTAMP))
		ON CONFLICT (device_id) DO UPDATE
		SET device_type = EXCLUDED.device_type,
		    description = EXCLUDED.description,
		    customer_id = EXCLUDED.customer_id,
		    user_group = EXCLUDED.user_group
	`
	var activated interface{}
	if m.ActivatedAt != nil {
		activated = *m.ActivatedAt
	}
	_, err := db.ExecContext(ctx, query, m.DeviceID, m.DeviceType, m.Description, m.CustomerID, m.UserGroup, activated)
	return err
}

// TotalEnergy sums a meter's energy over a date range. Returns nil when the
// range holds no readings.
func (db *DB) TotalEnergy(ctx context.Context, deviceID string, start, end time.Time) (*analysis.EnergyTotal, error) {
	query := `
		SELECT COALESCE(SUM(energy_kwh), 0), COUNT(*)
		FROM readings
		WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at < $3
	`
	var (
		total float64
		count int
	)
	if err := db.QueryRowContext(ctx, query, deviceID, start, end).Scan(&total, &count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	days := int(end.Sub(start).Hours() / 24)
	if days < 1 {
		days = 1
	}

	return &analysis.EnergyTotal{
		DeviceID:       deviceID,
		Start:          start,
		End:            end,
		TotalKWh:       total,
		ReadingCount:   count,
		AveragePowerKW: total / (float64(count) * 0.25),
		PeriodDays:     days,
	}, nil
}

// MaxPower finds the peak demand point in a date range. Interval energy is
// converted to power at the nominal 15-minute granularity (kWh * 4 = kW).
// Returns nil when the range holds no readings.
func (db *DB) MaxPower(ctx context.Context, deviceID string, start, end time.Time) (*analysis.PowerPeak, error) {
	query := `
		SELECT recorded_at, energy_kwh * 4 AS power_kw
		FROM readings
		WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY energy_kwh DESC, recorded_at
		LIMIT 1
	`
	var peak analysis.PowerPeak
	peak.DeviceID = deviceID
	err := db.QueryRowContext(ctx, query, deviceID, start, end).Scan(&peak.Timestamp, &peak.MaxPowerKW)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &peak, nil
}

// BulkUpsertReadings inserts or updates readings on the (device_id,
// recorded_at) composite key. Used by the CSV importer and the Kafka batch
// writer.
func (db *DB) BulkUpsertReadings(ctx context.Context, readings []analysis.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings (device_id, recorded_at, energy_kwh, reactive_kvarh)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, recorded_at) DO UPDATE
		SET energy_kwh = EXCLUDED.energy_kwh,
		    reactive_kvarh = EXCLUDED.reactive_kvarh
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, r.DeviceID, r.Timestamp, r.EnergyKWh, r.ReactiveKVarh); err != nil {
			return fmt.Errorf("failed to upsert reading %s@%s: %w", r.DeviceID, r.Timestamp, err)
		}
	}

	return tx.Commit()
}

// DataCoverage returns the meters with the most readings and their covered
// date ranges.
func (db *DB) DataCoverage(ctx context.Context, limit int) ([]CoverageSummary, error) {
	query := `
		SELECT m.device_id, COALESCE(m.description, ''),
		       MIN(r.recorded_at), MAX(r.recorded_at), COUNT(r.recorded_at)
		FROM meters m
		JOIN readings r ON m.device_id = r.device_id
		GROUP BY m.device_id, m.description
		ORDER BY COUNT(r.recorded_at) DESC
		LIMIT $1
	`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []CoverageSummary
	for rows.Next() {
		var s CoverageSummary
		if err := rows.Scan(&s.DeviceID, &s.Description, &s.FirstReading, &s.LastReading, &s.ReadingCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeter(row rowScanner) (*analysis.Meter, error) {
	var (
		m           analysis.Meter
		deviceType  sql.NullString
		description sql.NullString
		customerID  sql.NullString
		userGroup   sql.NullString
	)
	err := row.Scan(&m.DeviceID, &deviceType, &description, &customerID, &userGroup,
		&m.ActivatedAt, &m.DeactivatedAt)
	if err != nil {
		return nil, err
	}
	m.DeviceType = deviceType.String
	m.Description = description.String
	m.CustomerID = customerID.String
	m.UserGroup = userGroup.String
	return &m, nil
}

func scanReadings(rows *sql.Rows) ([]analysis.Reading, error) {
	var readings []analysis.Reading
	for rows.Next() {
		var r analysis.Reading
		if err := rows.Scan(&r.DeviceID, &r.Timestamp, &r.EnergyKWh, &r.ReactiveKVarh); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
