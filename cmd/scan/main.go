package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jrmarin/energy-server/internal/analysis"
	"github.com/jrmarin/energy-server/internal/database"
	"github.com/jrmarin/energy-server/pkg/config"
)

func main() {
	var (
		mode      = flag.String("mode", "outliers", "analysis mode: outliers or growth")
		startStr  = flag.String("start", "", "range start (YYYY-MM-DD)")
		endStr    = flag.String("end", "", "range end (YYYY-MM-DD, inclusive)")
		baseYear  = flag.Int("base-year", 0, "baseline year (default from config)")
		threshold = flag.Float64("threshold", 0, "deviation threshold percent (default from config)")
		minGrowth = flag.Float64("min-growth", 10.0, "minimum growth percent for growth mode")
		workers   = flag.Int("workers", 0, "concurrent meter workers (default from config)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *baseYear == 0 {
		*baseYear = cfg.Scan.BaseYear
	}
	if *threshold == 0 {
		*threshold = cfg.Scan.AlertThreshold
	}
	if *workers == 0 {
		*workers = cfg.Scan.Workers
	}

	start, end := parseRange(*startStr, *endStr)

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	switch *mode {
	case "outliers":
		runOutliers(ctx, db, cfg, *baseYear, start, end, *threshold, *workers)
	case "growth":
		runGrowth(ctx, db, start, end, *minGrowth, *workers)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q (want outliers or growth)\n", *mode)
		os.Exit(2)
	}
}

// parseRange resolves the scan window, defaulting to the last 7 full days.
func parseRange(startStr, endStr string) (time.Time, time.Time) {
	end := time.Now().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -6)

	var err error
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			log.Fatalf("Invalid -end date: %v", err)
		}
	}
	if startStr != "" {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			log.Fatalf("Invalid -start date: %v", err)
		}
	}
	if end.Before(start) {
		log.Fatalf("-end precedes -start")
	}
	return start, end
}

func runOutliers(ctx context.Context, db *database.DB, cfg *config.Config, baseYear int, start, end time.Time, threshold float64, workers int) {
	fmt.Printf("Scanning fleet %s .. %s against base year %d (threshold %.2f%%)\n",
		start.Format("2006-01-02"), end.Format("2006-01-02"), baseYear, threshold)

	scanner := analysis.NewFleetScanner(db,
		analysis.WithWorkers(workers),
		analysis.WithProgress(cfg.Scan.ProgressInterval, func(p analysis.ScanProgress) {
			fmt.Printf("  ...%d/%d meters, %d anomalies so far\n",
				p.MetersProcessed, p.MetersTotal, p.AnomaliesFound)
		}),
	)

	started := time.Now()
	records, err := scanner.Scan(ctx, baseYear, start, end, threshold)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	fmt.Printf("\nFound %d anomalous meter-days in %s\n\n", len(records), time.Since(started).Round(time.Millisecond))
	if len(records) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tDATE\tMAX DEV %\tDESCRIPTION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%+.1f\t%s\n",
			r.DeviceID, r.Date.Format("2006-01-02"), r.MaxAbsDeviation, r.Meter.Description)
	}
	w.Flush()
}

func runGrowth(ctx context.Context, db *database.DB, start, end time.Time, minGrowth float64, workers int) {
	// Growth compares the window against the same window one year earlier.
	endExcl := end.AddDate(0, 0, 1)
	prevStart := start.AddDate(-1, 0, 0)
	prevEnd := endExcl.AddDate(-1, 0, 0)

	fmt.Printf("Comparing %s .. %s against %s .. %s (min growth %.1f%%)\n",
		start.Format("2006-01-02"), end.Format("2006-01-02"),
		prevStart.Format("2006-01-02"), prevEnd.AddDate(0, 0, -1).Format("2006-01-02"), minGrowth)

	growth := analysis.NewGrowthAnalyzer(db, workers)
	records, err := growth.Compare(ctx, start, endExcl, prevStart, prevEnd, minGrowth)
	if err != nil {
		log.Fatalf("Growth analysis failed: %v", err)
	}

	fmt.Printf("\n%d meters above the growth threshold\n\n", len(records))
	if len(records) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tCURRENT kWh\tPREVIOUS kWh\tGROWTH kWh\tGROWTH %\tDESCRIPTION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%+.1f\t%+.1f\t%s\n",
			r.DeviceID, r.CurrentPeriodEnergy, r.PreviousPeriodEnergy,
			r.GrowthKWh, r.GrowthPercent, r.Description)
	}
	w.Flush()
}
