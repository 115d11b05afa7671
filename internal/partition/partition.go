package partition

import (
	"errors"
	"time"

	"github.com/roaddata/webtris-scraper/internal/catalogue"
)

// ErrInvalidDateRange is returned when the window start falls after its end.
var ErrInvalidDateRange = errors.New("invalid date range: start is after end")

// DefaultMaxSpanDays bounds a single fetch task so individual upstream
// responses stay small.
const DefaultMaxSpanDays = 7

// defaultTestSitesPerFamily is the deterministic prefix kept per family when
// running in test mode.
const defaultTestSitesPerFamily = 1

// Task is one (site, sub-range) fetch unit. Start and End are inclusive
// calendar dates. Tasks carry no mutable state.
type Task struct {
	Site  catalogue.Site
	Start time.Time
	End   time.Time
}

// Partitioner splits a date window into per-site fetch tasks.
type Partitioner struct {
	// MaxSpanDays caps the inclusive length of a sub-range in days.
	MaxSpanDays int

	// TestMode truncates the catalogue to a fixed per-family prefix so
	// reduced runs stay reproducible.
	TestMode           bool
	TestSitesPerFamily int
}

// NewPartitioner returns a Partitioner with the default span bound.
func NewPartitioner(testMode bool) *Partitioner {
	return &Partitioner{
		MaxSpanDays:        DefaultMaxSpanDays,
		TestMode:           testMode,
		TestSitesPerFamily: defaultTestSitesPerFamily,
	}
}

// Tasks produces the complete task list for the window [start, end], one
// task per (site, sub-range). An empty catalogue yields an empty list.
func (p *Partitioner) Tasks(sites []catalogue.Site, start, end time.Time) ([]Task, error) {
	start = midnightUTC(start)
	end = midnightUTC(end)
	if start.After(end) {
		return nil, ErrInvalidDateRange
	}

	if p.TestMode {
		sites = familyPrefix(sites, p.testSitesPerFamily())
	}

	spans := subRanges(start, end, p.maxSpanDays())
	tasks := make([]Task, 0, len(sites)*len(spans))
	for _, site := range sites {
		for _, span := range spans {
			tasks = append(tasks, Task{Site: site, Start: span[0], End: span[1]})
		}
	}
	return tasks, nil
}

// subRanges covers [start, end] with inclusive spans of at most maxDays days.
func subRanges(start, end time.Time, maxDays int) [][2]time.Time {
	var spans [][2]time.Time
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, maxDays) {
		spanEnd := cur.AddDate(0, 0, maxDays-1)
		if spanEnd.After(end) {
			spanEnd = end
		}
		spans = append(spans, [2]time.Time{cur, spanEnd})
	}
	return spans
}

// familyPrefix keeps the first n sites of each family, in catalogue order.
func familyPrefix(sites []catalogue.Site, n int) []catalogue.Site {
	kept := make([]catalogue.Site, 0, 4*n)
	seen := make(map[catalogue.Family]int, 4)
	for _, site := range sites {
		if seen[site.Family] >= n {
			continue
		}
		seen[site.Family]++
		kept = append(kept, site)
	}
	return kept
}

func (p *Partitioner) maxSpanDays() int {
	if p.MaxSpanDays > 0 {
		return p.MaxSpanDays
	}
	return DefaultMaxSpanDays
}

func (p *Partitioner) testSitesPerFamily() int {
	if p.TestSitesPerFamily > 0 {
		return p.TestSitesPerFamily
	}
	return defaultTestSitesPerFamily
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
