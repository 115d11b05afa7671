package aggregate

import (
	"encoding/json"
	"time"

	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/fetch"
	"github.com/roaddata/webtris-scraper/internal/webtris"
)

// Row is one report row tagged with the site and sub-range it came from, so
// downstream consumers can deduplicate or reorder.
type Row struct {
	SiteID     int
	RangeStart time.Time
	RangeEnd   time.Time
	Data       webtris.ReportRow
}

// Dataset holds the merged rows for each sensor family. Row order reflects
// the order of the outcome sequence, not site or date order. Malformed
// counts rows that could not be decoded and were excluded.
type Dataset struct {
	Rows      map[catalogue.Family][]Row
	Malformed map[catalogue.Family]int
}

// RowCount returns the number of rows held for a family.
func (d *Dataset) RowCount(family catalogue.Family) int {
	return len(d.Rows[family])
}

// TotalRows returns the number of rows across all families.
func (d *Dataset) TotalRows() int {
	total := 0
	for _, rows := range d.Rows {
		total += len(rows)
	}
	return total
}

// Build folds an outcome sequence into per-family datasets. Only Success
// outcomes contribute rows. A malformed row inside an otherwise good payload
// is excluded and counted, never fatal. Build is a pure fold: the same
// outcome sequence always produces the same dataset.
func Build(outcomes []fetch.Outcome) *Dataset {
	ds := &Dataset{
		Rows:      make(map[catalogue.Family][]Row, 4),
		Malformed: make(map[catalogue.Family]int, 4),
	}
	for _, family := range catalogue.Families() {
		ds.Rows[family] = nil
		ds.Malformed[family] = 0
	}

	for _, outcome := range outcomes {
		if outcome.Status != fetch.StatusSuccess {
			continue
		}
		family := outcome.Task.Site.Family
		for _, raw := range outcome.Rows {
			var data webtris.ReportRow
			if err := json.Unmarshal(raw, &data); err != nil {
				ds.Malformed[family]++
				continue
			}
			ds.Rows[family] = append(ds.Rows[family], Row{
				SiteID:     outcome.Task.Site.ID,
				RangeStart: outcome.Task.Start,
				RangeEnd:   outcome.Task.End,
				Data:       data,
			})
		}
	}
	return ds
}
