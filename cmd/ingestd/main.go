package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jrmarin/energy-server/internal/connection"
	"github.com/jrmarin/energy-server/internal/queue"
	"github.com/jrmarin/energy-server/internal/scheduler"
	"github.com/jrmarin/energy-server/internal/server"
	"github.com/jrmarin/energy-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Meter Ingest Service...")

	// Create Kafka topics
	if err := queue.CreateTopic(
		cfg.Kafka.Brokers,
		cfg.Kafka.TopicReadings,
		cfg.Kafka.NumPartitions,
		1, // replication factor
	); err != nil {
		fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
	}

	if err := queue.CreateTopic(
		cfg.Kafka.Brokers,
		cfg.Kafka.TopicAlerts,
		1, // single partition for alerts
		1, // replication factor
	); err != nil {
		fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings)
	defer producer.Close()
	fmt.Println("Kafka producer initialized")

	connManager := connection.NewManager(cfg.TCPServer.MaxConnections)
	fmt.Println("Connection manager initialized")

	sched := scheduler.New(10)
	sched.Start()
	defer sched.Stop()
	fmt.Println("Scheduler started")

	workerCount := runtime.NumCPU() * 4
	fmt.Printf("Starting TCP server with worker pool (%d workers)\n", workerCount)

	tcpServer := server.NewWorkerPoolTCPServer(
		&cfg.TCPServer,
		connManager,
		sched,
		producer,
		workerCount,
		1000, // job queue size
	)
	if err := tcpServer.Start(); err != nil {
		log.Fatalf("Failed to start TCP server: %v", err)
	}
	defer tcpServer.Stop()

	// Print statistics periodically
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := connManager.Stats()
			schedStats := sched.Stats()
			fmt.Printf("\n--- Server Statistics ---\n")
			fmt.Printf("Active Connections: %d / %d\n", stats.TotalConnections, stats.MaxConnections)
			fmt.Printf("Unique Devices: %d\n", stats.UniqueDevices)
			fmt.Printf("Scheduled Jobs: %d\n", schedStats.PendingJobs)
			fmt.Printf("------------------------\n\n")
		}
	}()

	fmt.Println("\n✓ Meter Ingest Service is running")
	fmt.Printf("✓ TCP Server listening on port %d\n", cfg.TCPServer.Port)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
