package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/pipeline"
)

const defaultBatchRows = 500

// Publisher is the producer surface the run publishers need.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	PublishBatch(ctx context.Context, messages []kafka.Message) error
}

// PublishResult pushes a run's rows to the readings topic in family-keyed
// chunks of at most batchRows rows each. All chunks go out in one producer
// batch.
func PublishResult(ctx context.Context, producer Publisher, result *pipeline.Result, batchRows int) error {
	if batchRows <= 0 {
		batchRows = defaultBatchRows
	}

	var messages []kafka.Message
	published := 0
	for _, family := range catalogue.Families() {
		rows := result.Dataset.Rows[family]
		for start := 0; start < len(rows); start += batchRows {
			end := start + batchRows
			if end > len(rows) {
				end = len(rows)
			}

			batch := make([]ReadingRow, 0, end-start)
			for _, row := range rows[start:end] {
				batch = append(batch, ReadingRow{
					SiteID:     row.SiteID,
					RangeStart: row.RangeStart,
					RangeEnd:   row.RangeEnd,
					Data:       row.Data,
				})
			}

			msg := &ReadingBatchMessage{
				RunID:       result.RunID,
				Family:      string(family),
				StartDate:   result.Start.Format("2006-01-02"),
				EndDate:     result.End.Format("2006-01-02"),
				TestRun:     result.TestRun,
				Rows:        batch,
				PublishedAt: time.Now().UTC(),
			}
			data, err := EncodeReadingBatch(msg)
			if err != nil {
				return fmt.Errorf("failed to encode reading batch: %w", err)
			}
			messages = append(messages, kafka.Message{Key: []byte(family), Value: data})
			published += len(batch)
		}
	}

	if len(messages) == 0 {
		return nil
	}
	if err := producer.PublishBatch(ctx, messages); err != nil {
		return fmt.Errorf("failed to publish reading batches: %w", err)
	}

	fmt.Printf("Published %d rows in %d batches to readings topic for run %s\n",
		published, len(messages), result.RunID)
	return nil
}

// PublishActivityReport pushes a run's activity table to the reports topic.
func PublishActivityReport(ctx context.Context, producer Publisher, result *pipeline.Result) error {
	counts := make(map[string]FamilyCounts, len(result.Activity))
	for family, c := range result.Activity {
		counts[string(family)] = FamilyCounts{Active: c.Active, Inactive: c.Inactive}
	}

	msg := &ActivityReportMessage{
		RunID:       result.RunID,
		StartDate:   result.Start.Format("2006-01-02"),
		EndDate:     result.End.Format("2006-01-02"),
		Complete:    result.Complete,
		Counts:      counts,
		PublishedAt: time.Now().UTC(),
	}
	data, err := EncodeActivityReport(msg)
	if err != nil {
		return fmt.Errorf("failed to encode activity report: %w", err)
	}
	if err := producer.Publish(ctx, result.RunID, data); err != nil {
		return fmt.Errorf("failed to publish activity report: %w", err)
	}
	return nil
}
