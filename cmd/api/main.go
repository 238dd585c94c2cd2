package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrmarin/energy-server/internal/alerting"
	"github.com/jrmarin/energy-server/internal/analysis"
	"github.com/jrmarin/energy-server/internal/chat"
	"github.com/jrmarin/energy-server/internal/database"
	"github.com/jrmarin/energy-server/internal/httpapi"
	"github.com/jrmarin/energy-server/internal/narrative"
	"github.com/jrmarin/energy-server/internal/queue"
	"github.com/jrmarin/energy-server/internal/scheduler"
	"github.com/jrmarin/energy-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Analytics API Service...")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	alertProducer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()

	// Narrative layer is optional: without an API key analyses carry the
	// stub annotation and chat parsing falls back to local rules.
	var annotator analysis.Annotator
	var llm chat.LanguageModel
	if gemini := narrative.NewGeminiAnnotator(&cfg.Gemini); gemini != nil {
		annotator = gemini
		llm = gemini
		fmt.Printf("Narrative annotator enabled (model: %s)\n", cfg.Gemini.Model)
	} else {
		fmt.Println("Narrative annotator disabled (no API key)")
	}

	svc := analysis.NewService(db, annotator)
	svc.Attach(&alerting.AuditLogger{})
	svc.Attach(alerting.NewAlerter(alerting.NewStateManager(redisClient), alertProducer))

	scanner := analysis.NewFleetScanner(db,
		analysis.WithWorkers(cfg.Scan.Workers),
		analysis.WithProgress(cfg.Scan.ProgressInterval, func(p analysis.ScanProgress) {
			fmt.Printf("Scan progress: %d/%d meters, %d anomalies\n",
				p.MetersProcessed, p.MetersTotal, p.AnomaliesFound)
		}),
	)
	growth := analysis.NewGrowthAnalyzer(db, cfg.Scan.Workers)
	assistant := chat.NewAssistant(svc, scanner, growth, llm, cfg.Scan.BaseYear)

	apiServer := httpapi.NewServer(svc, scanner, growth, assistant, db,
		cfg.Scan.BaseYear, cfg.Scan.AlertThreshold)

	// Nightly sweep re-analyzes yesterday for every active meter so the
	// alert state in Redis tracks the fleet without manual requests.
	sched := scheduler.New(2)
	sched.Start()
	defer sched.Stop()
	if err := sched.ScheduleEvery("nightly-sweep", 24*time.Hour, func() {
		runNightlySweep(svc, cfg.Scan.BaseYear)
	}); err != nil {
		log.Fatalf("Failed to schedule nightly sweep: %v", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      apiServer.Handler(cfg.HTTP.AllowedOrigins),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		fmt.Printf("\n✓ Analytics API listening on port %d\n", cfg.HTTP.Port)
		fmt.Println("✓ Press Ctrl+C to stop")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	fmt.Println("Analytics API Service stopped")
}

// runNightlySweep analyzes yesterday for every active meter. Meters without
// data or baseline are normal in a mixed fleet and skipped quietly.
func runNightlySweep(svc *analysis.Service, baseYear int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	yesterday := time.Now().AddDate(0, 0, -1)
	meters, err := svc.AvailableMeters(ctx)
	if err != nil {
		log.Printf("nightly sweep: listing meters failed: %v", err)
		return
	}

	fmt.Printf("Nightly sweep: analyzing %d meters for %s\n",
		len(meters), yesterday.Format("2006-01-02"))

	var analyzed, skipped int
	for _, m := range meters {
		_, err := svc.AnalyzeDay(ctx, m.DeviceID, yesterday, baseYear)
		switch {
		case err == nil:
			analyzed++
		case errors.Is(err, analysis.ErrNoData), errors.Is(err, analysis.ErrNoBaseline):
			skipped++
		default:
			log.Printf("nightly sweep: meter %s: %v", m.DeviceID, err)
			skipped++
		}
	}
	fmt.Printf("Nightly sweep done: %d analyzed, %d skipped\n", analyzed, skipped)
}
