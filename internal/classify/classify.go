package classify

import (
	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/fetch"
)

// Counts is the activity breakdown for one sensor family.
type Counts struct {
	Active   int
	Inactive int
}

// Table maps each family to its activity counts over the full catalogue.
type Table map[catalogue.Family]Counts

// Total returns the summed site count across all families.
func (t Table) Total() int {
	total := 0
	for _, c := range t {
		total += c.Active + c.Inactive
	}
	return total
}

// Classify derives per-family activity from this run's outcomes. A site is
// Active when at least one of its tasks returned a non-empty Success;
// otherwise it is Inactive, including sites that generated no tasks at all
// (no evidence of activity). Every catalogued site is counted exactly once.
// Pure function: no I/O.
func Classify(sites []catalogue.Site, outcomes []fetch.Outcome) Table {
	active := make(map[int]bool)
	for _, outcome := range outcomes {
		if outcome.Status == fetch.StatusSuccess {
			active[outcome.Task.Site.ID] = true
		}
	}

	table := make(Table, 4)
	for _, family := range catalogue.Families() {
		table[family] = Counts{}
	}
	for _, site := range sites {
		counts := table[site.Family]
		if active[site.ID] {
			counts.Active++
		} else {
			counts.Inactive++
		}
		table[site.Family] = counts
	}
	return table
}
