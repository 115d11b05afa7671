package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roaddata/webtris-scraper/internal/aggregate"
	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/database"
)

// messageSource is the consumer surface the batch writer needs.
type messageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// readingStore is the slice of the database layer the batch writer writes
// through.
type readingStore interface {
	EnsureRun(run *database.Run) error
	InsertReadings(runID string, family catalogue.Family, rows []aggregate.Row) error
}

// BatchWriter consumes reading batches from Kafka and batch-writes to database
type BatchWriter struct {
	consumer      messageSource
	db            readingStore
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(consumer messageSource, db readingStore, batchSize int, flushInterval time.Duration) *BatchWriter {
	return &BatchWriter{
		consumer:      consumer,
		db:            db,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
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
	go bw.consumeLoop(ctx, msgChan)

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
			fmt.Printf("Consumed message from topic (partition=%d, offset=%d)\n",
				msg.Partition, msg.Offset)
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

// consumeLoop feeds msgChan until the writer stops or ctx is cancelled. The
// stop checks keep it from blocking on a full channel after shutdown.
func (bw *BatchWriter) consumeLoop(ctx context.Context, msgChan chan<- kafka.Message) {
	for {
		msg, err := bw.consumer.Consume(ctx)
		if err != nil {
			select {
			case <-bw.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			fmt.Printf("Consumer error: %v\n", err)
			continue
		}

		select {
		case msgChan <- msg:
		case <-bw.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}

	successCount := 0
	for _, msg := range batch {
		if err := bw.processMessage(msg); err != nil {
			fmt.Printf("Failed to process message: %v\n", err)
			continue
		}
		successCount++

		// Commit offset after successful processing
		if err := bw.consumer.Commit(ctx, msg); err != nil {
			fmt.Printf("Failed to commit offset: %v\n", err)
		}
	}

	fmt.Printf("Flushed batch of %d messages to database\n", successCount)
}

func (bw *BatchWriter) processMessage(msg kafka.Message) error {
	batchMsg, err := DecodeReadingBatch(msg.Value)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	// The readings table references scrape_runs, so a run record must exist
	// before the first batch lands. The stub built here carries the window
	// from the message; the scraper's own record supersedes it if written.
	run, err := runStub(batchMsg)
	if err != nil {
		return err
	}
	if err := bw.db.EnsureRun(run); err != nil {
		return fmt.Errorf("failed to ensure run record: %w", err)
	}

	rows := make([]aggregate.Row, 0, len(batchMsg.Rows))
	for _, r := range batchMsg.Rows {
		rows = append(rows, aggregate.Row{
			SiteID:     r.SiteID,
			RangeStart: r.RangeStart,
			RangeEnd:   r.RangeEnd,
			Data:       r.Data,
		})
	}

	family := catalogue.Family(batchMsg.Family)
	if err := bw.db.InsertReadings(batchMsg.RunID, family, rows); err != nil {
		return fmt.Errorf("failed to insert readings: %w", err)
	}

	return nil
}

// runStub derives a minimal run record from a batch message. Complete stays
// false until the full record arrives from the scraper.
func runStub(msg *ReadingBatchMessage) (*database.Run, error) {
	start, err := time.ParseInLocation("2006-01-02", msg.StartDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid start_date in batch message: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02", msg.EndDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid end_date in batch message: %w", err)
	}

	return &database.Run{
		RunID:      msg.RunID,
		StartDate:  start,
		EndDate:    end,
		TestRun:    msg.TestRun,
		StartedAt:  msg.PublishedAt,
		FinishedAt: msg.PublishedAt,
	}, nil
}
