package queue

import (
	"encoding/json"
	"time"

	"github.com/roaddata/webtris-scraper/internal/webtris"
)

// ReadingRow is one daily report row inside a batch message.
type ReadingRow struct {
	SiteID     int               `json:"site_id"`
	RangeStart time.Time         `json:"range_start"`
	RangeEnd   time.Time         `json:"range_end"`
	Data       webtris.ReportRow `json:"data"`
}

// ReadingBatchMessage carries a chunk of one family's rows for one run.
// Messages are keyed by family so a family's rows land on one partition
// in order. The run window travels with every batch so a consumer can
// create the run record without seeing any other topic.
type ReadingBatchMessage struct {
	RunID       string       `json:"run_id"`
	Family      string       `json:"family"`
	StartDate   string       `json:"start_date"`
	EndDate     string       `json:"end_date"`
	TestRun     bool         `json:"test_run"`
	Rows        []ReadingRow `json:"rows"`
	PublishedAt time.Time    `json:"published_at"`
}

// FamilyCounts is one family's line in an activity report message.
type FamilyCounts struct {
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// ActivityReportMessage carries the per-family activity table for a run.
// Complete is false for aborted runs; downstream consumers must flag the
// coverage as partial rather than treat missing sites as inactive.
type ActivityReportMessage struct {
	RunID       string                  `json:"run_id"`
	StartDate   string                  `json:"start_date"`
	EndDate     string                  `json:"end_date"`
	Complete    bool                    `json:"complete"`
	Counts      map[string]FamilyCounts `json:"counts"`
	PublishedAt time.Time               `json:"published_at"`
}

// EncodeReadingBatch encodes a ReadingBatchMessage to JSON
func EncodeReadingBatch(msg *ReadingBatchMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeReadingBatch decodes JSON to ReadingBatchMessage
func DecodeReadingBatch(data []byte) (*ReadingBatchMessage, error) {
	var msg ReadingBatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeActivityReport encodes an ActivityReportMessage to JSON
func EncodeActivityReport(msg *ActivityReportMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeActivityReport decodes JSON to ActivityReportMessage
func DecodeActivityReport(data []byte) (*ActivityReportMessage, error) {
	var msg ActivityReportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
