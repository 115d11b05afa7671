package partition

import (
	"errors"
	"testing"
	"time"

	"github.com/roaddata/webtris-scraper/internal/catalogue"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTasks_TwoSitesOneDay(t *testing.T) {
	sites := []catalogue.Site{
		{ID: 1, Family: catalogue.FamilyMIDAS},
		{ID: 2, Family: catalogue.FamilyTMU},
	}
	p := NewPartitioner(false)

	day := date(2026, time.May, 15)
	tasks, err := p.Tasks(sites, day, day)
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}

	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	for _, task := range tasks {
		if !task.Start.Equal(day) || !task.End.Equal(day) {
			t.Errorf("task range = [%v, %v], want [%v, %v]", task.Start, task.End, day, day)
		}
	}
}

func TestTasks_SpanBound(t *testing.T) {
	sites := []catalogue.Site{{ID: 1, Family: catalogue.FamilyMIDAS}}
	p := NewPartitioner(false)

	start := date(2026, time.May, 1)
	end := date(2026, time.May, 31)
	tasks, err := p.Tasks(sites, start, end)
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}

	// 31 days covered by 7-day spans: ceil(31/7) = 5 tasks
	if len(tasks) != 5 {
		t.Fatalf("got %d tasks, want 5", len(tasks))
	}

	// Spans must tile the window exactly with no gaps or overlaps
	cursor := start
	for i, task := range tasks {
		if !task.Start.Equal(cursor) {
			t.Errorf("task %d starts at %v, want %v", i, task.Start, cursor)
		}
		days := int(task.End.Sub(task.Start).Hours()/24) + 1
		if days > DefaultMaxSpanDays {
			t.Errorf("task %d spans %d days, max is %d", i, days, DefaultMaxSpanDays)
		}
		cursor = task.End.AddDate(0, 0, 1)
	}
	if !cursor.Equal(end.AddDate(0, 0, 1)) {
		t.Errorf("spans end at %v, want %v", cursor.AddDate(0, 0, -1), end)
	}
}

func TestTasks_CountIsSitesTimesSpans(t *testing.T) {
	sites := []catalogue.Site{
		{ID: 1, Family: catalogue.FamilyMIDAS},
		{ID: 2, Family: catalogue.FamilyMIDAS},
		{ID: 3, Family: catalogue.FamilyTAME},
	}
	p := NewPartitioner(false)

	tasks, err := p.Tasks(sites, date(2026, time.March, 1), date(2026, time.March, 14))
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}

	// 14 days = 2 spans, 3 sites
	if len(tasks) != 6 {
		t.Errorf("got %d tasks, want 6", len(tasks))
	}
}

func TestTasks_InvalidRange(t *testing.T) {
	p := NewPartitioner(false)
	_, err := p.Tasks(nil, date(2026, time.May, 2), date(2026, time.May, 1))
	if !errors.Is(err, ErrInvalidDateRange) {
		t.Errorf("error = %v, want ErrInvalidDateRange", err)
	}
}

func TestTasks_EmptyCatalogue(t *testing.T) {
	p := NewPartitioner(false)
	tasks, err := p.Tasks(nil, date(2026, time.May, 1), date(2026, time.May, 7))
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("got %d tasks, want 0", len(tasks))
	}
}

func TestTasks_TestModeIsDeterministic(t *testing.T) {
	sites := []catalogue.Site{
		{ID: 1, Family: catalogue.FamilyMIDAS},
		{ID: 2, Family: catalogue.FamilyMIDAS},
		{ID: 3, Family: catalogue.FamilyTMU},
		{ID: 4, Family: catalogue.FamilyTMU},
		{ID: 5, Family: catalogue.FamilyOther},
	}
	p := NewPartitioner(true)

	day := date(2026, time.May, 1)
	first, err := p.Tasks(sites, day, day)
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	second, err := p.Tasks(sites, day, day)
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}

	// One site per represented family, always the first of each
	if len(first) != 3 {
		t.Fatalf("got %d tasks, want 3", len(first))
	}
	wantIDs := map[int]bool{1: true, 3: true, 5: true}
	for i, task := range first {
		if !wantIDs[task.Site.ID] {
			t.Errorf("task %d uses site %d, want the first site of its family", i, task.Site.ID)
		}
		if task.Site.ID != second[i].Site.ID {
			t.Errorf("task %d differs between runs: %d vs %d", i, task.Site.ID, second[i].Site.ID)
		}
	}
}

func TestTasks_NormalizesToMidnightUTC(t *testing.T) {
	sites := []catalogue.Site{{ID: 1, Family: catalogue.FamilyMIDAS}}
	p := NewPartitioner(false)

	start := time.Date(2026, time.May, 1, 15, 30, 0, 0, time.UTC)
	tasks, err := p.Tasks(sites, start, start)
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	want := date(2026, time.May, 1)
	if !tasks[0].Start.Equal(want) {
		t.Errorf("task start = %v, want %v", tasks[0].Start, want)
	}
}
