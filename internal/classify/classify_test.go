package classify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/fetch"
	"github.com/roaddata/webtris-scraper/internal/partition"
)

func outcome(siteID int, family catalogue.Family, status fetch.Status) fetch.Outcome {
	day := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	o := fetch.Outcome{
		Task:   partition.Task{Site: catalogue.Site{ID: siteID, Family: family}, Start: day, End: day},
		Status: status,
	}
	if status == fetch.StatusSuccess {
		o.Rows = []json.RawMessage{json.RawMessage(`{}`)}
	}
	return o
}

func TestClassify_ActiveNeedsOneSuccess(t *testing.T) {
	sites := []catalogue.Site{
		{ID: 1, Family: catalogue.FamilyMIDAS},
		{ID: 2, Family: catalogue.FamilyMIDAS},
		{ID: 3, Family: catalogue.FamilyTMU},
	}
	outcomes := []fetch.Outcome{
		// Site 1: one empty, one success across its sub-ranges
		outcome(1, catalogue.FamilyMIDAS, fetch.StatusEmpty),
		outcome(1, catalogue.FamilyMIDAS, fetch.StatusSuccess),
		// Site 2: only empty
		outcome(2, catalogue.FamilyMIDAS, fetch.StatusEmpty),
		// Site 3: only failure
		outcome(3, catalogue.FamilyTMU, fetch.StatusFailure),
	}

	table := Classify(sites, outcomes)

	if table[catalogue.FamilyMIDAS] != (Counts{Active: 1, Inactive: 1}) {
		t.Errorf("midas = %+v, want {1 1}", table[catalogue.FamilyMIDAS])
	}
	if table[catalogue.FamilyTMU] != (Counts{Active: 0, Inactive: 1}) {
		t.Errorf("tmu = %+v, want {0 1}", table[catalogue.FamilyTMU])
	}
}

func TestClassify_EverySiteCountedOnce(t *testing.T) {
	sites := []catalogue.Site{
		{ID: 1, Family: catalogue.FamilyMIDAS},
		{ID: 2, Family: catalogue.FamilyTMU},
		{ID: 3, Family: catalogue.FamilyTAME},
		{ID: 4, Family: catalogue.FamilyOther},
		{ID: 5, Family: catalogue.FamilyOther},
	}
	outcomes := []fetch.Outcome{
		outcome(1, catalogue.FamilyMIDAS, fetch.StatusSuccess),
		outcome(1, catalogue.FamilyMIDAS, fetch.StatusSuccess),
		outcome(4, catalogue.FamilyOther, fetch.StatusSuccess),
	}

	table := Classify(sites, outcomes)

	if table.Total() != len(sites) {
		t.Errorf("total = %d, want %d", table.Total(), len(sites))
	}
	for _, family := range catalogue.Families() {
		if _, ok := table[family]; !ok {
			t.Errorf("family %q missing from table", family)
		}
	}
}

func TestClassify_SiteWithoutTasksIsInactive(t *testing.T) {
	sites := []catalogue.Site{{ID: 9, Family: catalogue.FamilyTAME}}

	table := Classify(sites, nil)

	if table[catalogue.FamilyTAME] != (Counts{Active: 0, Inactive: 1}) {
		t.Errorf("tame = %+v, want {0 1}", table[catalogue.FamilyTAME])
	}
}
