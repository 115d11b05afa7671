package queue

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roaddata/webtris-scraper/internal/aggregate"
	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/classify"
	"github.com/roaddata/webtris-scraper/internal/pipeline"
	"github.com/roaddata/webtris-scraper/internal/webtris"
)

// fakePublisher records everything published.
type fakePublisher struct {
	single  []kafka.Message
	batches [][]kafka.Message
}

func (f *fakePublisher) Publish(ctx context.Context, key string, value []byte) error {
	f.single = append(f.single, kafka.Message{Key: []byte(key), Value: value})
	return nil
}

func (f *fakePublisher) PublishBatch(ctx context.Context, messages []kafka.Message) error {
	f.batches = append(f.batches, messages)
	return nil
}

func resultWithRows(midas, tmu int) *pipeline.Result {
	start := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.May, 31, 0, 0, 0, 0, time.UTC)

	dataset := &aggregate.Dataset{
		Rows:      make(map[catalogue.Family][]aggregate.Row, 4),
		Malformed: make(map[catalogue.Family]int, 4),
	}
	for i := 0; i < midas; i++ {
		dataset.Rows[catalogue.FamilyMIDAS] = append(dataset.Rows[catalogue.FamilyMIDAS], aggregate.Row{
			SiteID: i + 1, RangeStart: start, RangeEnd: end,
			Data: webtris.ReportRow{TotalVolume: "10"},
		})
	}
	for i := 0; i < tmu; i++ {
		dataset.Rows[catalogue.FamilyTMU] = append(dataset.Rows[catalogue.FamilyTMU], aggregate.Row{
			SiteID: 100 + i, RangeStart: start, RangeEnd: end,
			Data: webtris.ReportRow{TotalVolume: "20"},
		})
	}

	return &pipeline.Result{
		RunID:   "run-123",
		Start:   start,
		End:     end,
		TestRun: true,
		Dataset: dataset,
		Activity: classify.Table{
			catalogue.FamilyMIDAS: {Active: 2, Inactive: 1},
			catalogue.FamilyTMU:   {Active: 0, Inactive: 3},
		},
		Complete: false,
	}
}

func TestPublishResult_ChunksByFamily(t *testing.T) {
	pub := &fakePublisher{}
	result := resultWithRows(5, 1)

	if err := PublishResult(context.Background(), pub, result, 2); err != nil {
		t.Fatalf("PublishResult failed: %v", err)
	}

	// One producer batch carrying all chunks
	if len(pub.batches) != 1 {
		t.Fatalf("got %d producer batches, want 1", len(pub.batches))
	}
	messages := pub.batches[0]
	// 5 midas rows in chunks of 2 = 3 messages, plus 1 tmu message
	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(messages))
	}

	var midasRows int
	for _, msg := range messages[:3] {
		if string(msg.Key) != "midas" {
			t.Errorf("key = %q, want midas", msg.Key)
		}
		decoded, err := DecodeReadingBatch(msg.Value)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(decoded.Rows) > 2 {
			t.Errorf("chunk has %d rows, max is 2", len(decoded.Rows))
		}
		midasRows += len(decoded.Rows)
	}
	if midasRows != 5 {
		t.Errorf("midas rows across chunks = %d, want 5", midasRows)
	}
	if string(messages[3].Key) != "tmu" {
		t.Errorf("last key = %q, want tmu", messages[3].Key)
	}
}

func TestPublishResult_BatchCarriesRunWindow(t *testing.T) {
	pub := &fakePublisher{}
	result := resultWithRows(1, 0)

	if err := PublishResult(context.Background(), pub, result, 500); err != nil {
		t.Fatalf("PublishResult failed: %v", err)
	}

	decoded, err := DecodeReadingBatch(pub.batches[0][0].Value)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	// A consumer must be able to create the run record from the batch alone
	if decoded.RunID != "run-123" {
		t.Errorf("RunID = %q", decoded.RunID)
	}
	if decoded.StartDate != "2026-05-01" || decoded.EndDate != "2026-05-31" {
		t.Errorf("window = [%q, %q]", decoded.StartDate, decoded.EndDate)
	}
	if !decoded.TestRun {
		t.Error("TestRun not carried")
	}
}

func TestPublishResult_EmptyDatasetPublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	result := resultWithRows(0, 0)

	if err := PublishResult(context.Background(), pub, result, 500); err != nil {
		t.Fatalf("PublishResult failed: %v", err)
	}
	if len(pub.batches) != 0 {
		t.Errorf("got %d batches, want 0", len(pub.batches))
	}
}

func TestPublishActivityReport(t *testing.T) {
	pub := &fakePublisher{}
	result := resultWithRows(1, 0)

	if err := PublishActivityReport(context.Background(), pub, result); err != nil {
		t.Fatalf("PublishActivityReport failed: %v", err)
	}
	if len(pub.single) != 1 {
		t.Fatalf("got %d messages, want 1", len(pub.single))
	}

	decoded, err := DecodeActivityReport(pub.single[0].Value)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Complete {
		t.Error("aborted run reported as complete coverage")
	}
	if decoded.Counts["midas"] != (FamilyCounts{Active: 2, Inactive: 1}) {
		t.Errorf("midas counts = %+v", decoded.Counts["midas"])
	}
}
