package webtris

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	c := NewClient(url, 5*time.Second, 2)
	c.sleep = func(time.Duration) {} // no real backoff in tests
	return c
}

func reportWindow() (time.Time, time.Time) {
	start := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 6)
}

func TestSites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sites" {
			t.Errorf("path = %q, want /sites", r.URL.Path)
		}
		w.Write([]byte(`{"sites":[{"Id":1,"Name":"MIDAS site","Status":"Active"},{"Id":2,"Name":"TMU Site"}]}`))
	}))
	defer srv.Close()

	sites, err := newTestClient(srv.URL).Sites(context.Background())
	if err != nil {
		t.Fatalf("Sites failed: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("got %d sites, want 2", len(sites))
	}
	if sites[0].ID != 1 || sites[0].Status != "Active" {
		t.Errorf("first site = %+v", sites[0])
	}
}

func TestDailyReport_URLFormat(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"Rows":[{"Total Volume":"42"}]}`))
	}))
	defer srv.Close()

	start, end := reportWindow()
	rows, attempts, err := newTestClient(srv.URL).DailyReport(context.Background(), 5688, start, end)
	if err != nil {
		t.Fatalf("DailyReport failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d rows, want 1", len(rows))
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}

	// Dates travel as ddMMyyyy path segments
	if gotPath != "/reports/01052026/to/07052026/daily" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "sites=5688&page=1&page_size=40000" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestDailyReport_RateLimitedThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"Rows":[{"Total Volume":"10"}]}`))
	}))
	defer srv.Close()

	start, end := reportWindow()
	rows, attempts, err := newTestClient(srv.URL).DailyReport(context.Background(), 1, start, end)
	if err != nil {
		t.Fatalf("DailyReport failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d rows, want 1", len(rows))
	}
	// A 429 retry is a new attempt but never a transient strike
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDailyReport_RateLimitBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.MaxRateLimitAttempts = 3

	start, end := reportWindow()
	_, attempts, err := c.DailyReport(context.Background(), 1, start, end)

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want RequestError", err)
	}
	if reqErr.Kind != KindRateLimited {
		t.Errorf("kind = %q, want %q", reqErr.Kind, KindRateLimited)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDailyReport_ServerErrorExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	start, end := reportWindow()
	_, attempts, err := newTestClient(srv.URL).DailyReport(context.Background(), 1, start, end)

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want RequestError", err)
	}
	if reqErr.Kind != KindTimeout {
		t.Errorf("kind = %q, want %q", reqErr.Kind, KindTimeout)
	}
	if attempts != defaultMaxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, defaultMaxAttempts)
	}
}

func TestDailyReport_ClientErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	start, end := reportWindow()
	_, attempts, err := newTestClient(srv.URL).DailyReport(context.Background(), 1, start, end)

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want RequestError", err)
	}
	if reqErr.Kind != KindClientError {
		t.Errorf("kind = %q, want %q", reqErr.Kind, KindClientError)
	}
	if attempts != 1 || calls.Load() != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1 and 1", attempts, calls.Load())
	}
}

func TestDailyReport_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Rows": not json`))
	}))
	defer srv.Close()

	start, end := reportWindow()
	_, _, err := newTestClient(srv.URL).DailyReport(context.Background(), 1, start, end)

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want RequestError", err)
	}
	if reqErr.Kind != KindMalformedPayload {
		t.Errorf("kind = %q, want %q", reqErr.Kind, KindMalformedPayload)
	}
}

func TestDailyReport_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"Rows":[]}`))
	}))
	defer srv.Close()

	start, end := reportWindow()
	rows, attempts, err := newTestClient(srv.URL).DailyReport(context.Background(), 1, start, end)
	if err != nil {
		t.Fatalf("DailyReport failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
