package aggregate

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/fetch"
	"github.com/roaddata/webtris-scraper/internal/partition"
)

func successOutcome(siteID int, family catalogue.Family, rows ...string) fetch.Outcome {
	raw := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		raw[i] = json.RawMessage(r)
	}
	day := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	return fetch.Outcome{
		Task: partition.Task{
			Site:  catalogue.Site{ID: siteID, Family: family},
			Start: day,
			End:   day,
		},
		Status: fetch.StatusSuccess,
		Rows:   raw,
	}
}

func TestBuild_GroupsByFamily(t *testing.T) {
	outcomes := []fetch.Outcome{
		successOutcome(1, catalogue.FamilyMIDAS, `{"Total Volume":"10"}`, `{"Total Volume":"20"}`),
		successOutcome(2, catalogue.FamilyMIDAS, `{"Total Volume":"30"}`),
		successOutcome(3, catalogue.FamilyTAME, `{"Total Volume":"5"}`),
	}

	ds := Build(outcomes)

	if ds.RowCount(catalogue.FamilyMIDAS) != 3 {
		t.Errorf("midas rows = %d, want 3", ds.RowCount(catalogue.FamilyMIDAS))
	}
	if ds.RowCount(catalogue.FamilyTMU) != 0 {
		t.Errorf("tmu rows = %d, want 0", ds.RowCount(catalogue.FamilyTMU))
	}
	if ds.RowCount(catalogue.FamilyTAME) != 1 {
		t.Errorf("tame rows = %d, want 1", ds.RowCount(catalogue.FamilyTAME))
	}
	if ds.TotalRows() != 4 {
		t.Errorf("total rows = %d, want 4", ds.TotalRows())
	}

	// Every family bucket exists even when empty
	for _, family := range catalogue.Families() {
		if _, ok := ds.Rows[family]; !ok {
			t.Errorf("family %q missing from dataset", family)
		}
	}
}

func TestBuild_OnlySuccessContributes(t *testing.T) {
	day := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	outcomes := []fetch.Outcome{
		successOutcome(1, catalogue.FamilyMIDAS, `{"Total Volume":"10"}`),
		{
			Task:   partition.Task{Site: catalogue.Site{ID: 2, Family: catalogue.FamilyMIDAS}, Start: day, End: day},
			Status: fetch.StatusEmpty,
		},
		{
			Task:   partition.Task{Site: catalogue.Site{ID: 3, Family: catalogue.FamilyMIDAS}, Start: day, End: day},
			Status: fetch.StatusFailure,
		},
	}

	ds := Build(outcomes)

	if ds.RowCount(catalogue.FamilyMIDAS) != 1 {
		t.Errorf("midas rows = %d, want 1", ds.RowCount(catalogue.FamilyMIDAS))
	}
	if ds.Rows[catalogue.FamilyMIDAS][0].SiteID != 1 {
		t.Errorf("row site = %d, want 1", ds.Rows[catalogue.FamilyMIDAS][0].SiteID)
	}
}

func TestBuild_MalformedRowCountedNotFatal(t *testing.T) {
	outcomes := []fetch.Outcome{
		successOutcome(1, catalogue.FamilyTMU,
			`{"Total Volume":"10"}`,
			`"not an object"`,
			`{"Total Volume":"20"}`,
		),
	}

	ds := Build(outcomes)

	if ds.RowCount(catalogue.FamilyTMU) != 2 {
		t.Errorf("tmu rows = %d, want 2", ds.RowCount(catalogue.FamilyTMU))
	}
	if ds.Malformed[catalogue.FamilyTMU] != 1 {
		t.Errorf("malformed = %d, want 1", ds.Malformed[catalogue.FamilyTMU])
	}
}

func TestBuild_IsDeterministic(t *testing.T) {
	outcomes := []fetch.Outcome{
		successOutcome(1, catalogue.FamilyMIDAS, `{"Total Volume":"10"}`),
		successOutcome(2, catalogue.FamilyOther, `{"Total Volume":"1"}`),
	}

	first := Build(outcomes)
	second := Build(outcomes)

	if !reflect.DeepEqual(first, second) {
		t.Error("same outcome sequence produced different datasets")
	}
}

func TestBuild_RowsCarrySiteAndRange(t *testing.T) {
	outcome := successOutcome(7, catalogue.FamilyMIDAS, `{"Site Name":"M4/2295A2","Total Volume":"99"}`)
	ds := Build([]fetch.Outcome{outcome})

	row := ds.Rows[catalogue.FamilyMIDAS][0]
	if row.SiteID != 7 {
		t.Errorf("SiteID = %d, want 7", row.SiteID)
	}
	if !row.RangeStart.Equal(outcome.Task.Start) || !row.RangeEnd.Equal(outcome.Task.End) {
		t.Errorf("range = [%v, %v], want task range", row.RangeStart, row.RangeEnd)
	}
	if row.Data.SiteName != "M4/2295A2" || row.Data.TotalVolume != "99" {
		t.Errorf("decoded row = %+v", row.Data)
	}
}
