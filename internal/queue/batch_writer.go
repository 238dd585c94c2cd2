package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jrmarin/energy-server/internal/analysis"
	"github.com/jrmarin/energy-server/internal/database"
	"github.com/jrmarin/energy-server/internal/protocol"
)

// BatchWriter consumes readings from Kafka and batch-writes to database
type BatchWriter struct {
	consumer      *Consumer
	db            *database.DB
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup

	// knownDevices caches device ids already upserted into the registry so
	// steady-state flushes skip the meter lookup.
	knownDevices map[string]bool
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(consumer *Consumer, db *database.DB, batchSize int, flushInterval time.Duration) *BatchWriter {
	return &BatchWriter{
		consumer:      consumer,
		db:            db,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		knownDevices:  make(map[string]bool),
	}
}

// Start begins consuming and writing to database
func (bw *BatchWriter) Start(ctx context.Context) error {
	bw.wg.Add(1)
	go bw.run(ctx)
	return nil
}

// Stop stops the batch writer gracefully
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, 10)
	go func() {
		for {
			msg, err := bw.consumer.Consume(ctx)
			if err != nil {
				fmt.Printf("Consumer error: %v\n", err)
				continue
			}
			msgChan <- msg
		}
	}()

	for {
		select {
		case <-bw.stopCh:
			// Flush remaining batch before stopping
			if len(batch) > 0 {
				bw.flush(ctx, batch)
			}
			return

		case <-ticker.C:
			// Periodic flush
			if len(batch) > 0 {
				fmt.Printf("Flush interval reached (%d messages), flushing...\n", len(batch))
				bw.flush(ctx, batch)
				batch = nil
			}

		case msg := <-msgChan:
			batch = append(batch, msg)

			// Flush if batch is full
			if len(batch) >= bw.batchSize {
				fmt.Printf("Batch full (%d messages), flushing...\n", len(batch))
				bw.flush(ctx, batch)
				batch = nil
			}
		}
	}
}

func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}

	// Decode the whole batch first so one bulk upsert covers it. A message
	// that fails to decode is dropped and still committed; redelivering it
	// would fail the same way.
	var readings []analysis.Reading
	for _, msg := range batch {
		reading, err := bw.decodeMessage(ctx, msg)
		if err != nil {
			fmt.Printf("Failed to decode message (partition=%d, offset=%d): %v\n",
				msg.Partition, msg.Offset, err)
			continue
		}
		readings = append(readings, *reading)
	}

	if len(readings) > 0 {
		if err := bw.db.BulkUpsertReadings(ctx, readings); err != nil {
			// Leave offsets uncommitted so the batch is redelivered.
			fmt.Printf("Failed to write batch: %v\n", err)
			return
		}
	}

	for _, msg := range batch {
		if err := bw.consumer.Commit(ctx, msg); err != nil {
			fmt.Printf("Failed to commit offset: %v\n", err)
		}
	}

	fmt.Printf("Flushed batch of %d readings to database\n", len(readings))
}

func (bw *BatchWriter) decodeMessage(ctx context.Context, msg kafka.Message) (*analysis.Reading, error) {
	readingMsg, err := protocol.DecodeReadingMessage(msg.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	reading, err := readingMsg.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse reading: %w", err)
	}

	// Ensure the meter exists in the registry
	if !bw.knownDevices[readingMsg.DeviceID] {
		meter, err := bw.db.Meter(ctx, readingMsg.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up meter: %w", err)
		}
		if meter == nil {
			if err := bw.db.UpsertMeter(ctx, &analysis.Meter{DeviceID: readingMsg.DeviceID}); err != nil {
				return nil, fmt.Errorf("failed to register meter: %w", err)
			}
		}
		bw.knownDevices[readingMsg.DeviceID] = true
	}

	return reading, nil
}
