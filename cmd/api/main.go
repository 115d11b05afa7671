package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roaddata/webtris-scraper/internal/database"
	"github.com/roaddata/webtris-scraper/internal/export"
	"github.com/roaddata/webtris-scraper/internal/fetch"
	"github.com/roaddata/webtris-scraper/internal/pipeline"
	"github.com/roaddata/webtris-scraper/internal/webtris"
	"github.com/roaddata/webtris-scraper/pkg/config"
)

// runRequest is the optional POST /runs body. An empty window falls back to
// the default month.
type runRequest struct {
	StartDate string `json:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" binding:"omitempty,datetime=2006-01-02"`
	TestRun   bool   `json:"test_run"`
}

// runState tracks one triggered run in memory.
type runState struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"` // running, complete, failed
	StartDate  string     `json:"start_date"`
	EndDate    string     `json:"end_date"`
	TestRun    bool       `json:"test_run"`
	Error      string     `json:"error,omitempty"`
	RunID      string     `json:"run_id,omitempty"`
	Rows       int        `json:"rows,omitempty"`
	Complete   *bool      `json:"coverage_complete,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// registry is an in-memory store of triggered runs.
type registry struct {
	mu   sync.Mutex
	runs map[string]*runState
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*runState)}
}

func (r *registry) add(state *runState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[state.ID] = state
}

func (r *registry) get(id string) (runState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.runs[id]
	if !ok {
		return runState{}, false
	}
	return *state, true
}

func (r *registry) update(id string, fn func(*runState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.runs[id]; ok {
		fn(state)
	}
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// With a database configured, finished runs survive restarts and serve
	// GET /runs/:id after the in-memory registry is gone.
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Connect(cfg.Database.ConnectionString())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		fmt.Println("Connected to database")
	}

	reg := newRegistry()
	router := gin.Default()

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/runs", func(c *gin.Context) {
		var req runRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if (req.StartDate == "") != (req.EndDate == "") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date must be set together"})
			return
		}

		start, end, err := resolveWindow(req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		state := &runState{
			ID:        uuid.New().String(),
			Status:    "running",
			StartDate: start.Format("2006-01-02"),
			EndDate:   end.Format("2006-01-02"),
			TestRun:   req.TestRun,
			StartedAt: time.Now().UTC(),
		}
		reg.add(state)

		go executeRun(cfg, reg, state.ID, start, end, req.TestRun)

		c.JSON(http.StatusAccepted, gin.H{"id": state.ID, "status": state.Status})
	})

	router.GET("/runs/:id", func(c *gin.Context) {
		id := c.Param("id")
		if state, ok := reg.get(id); ok {
			c.JSON(http.StatusOK, state)
			return
		}

		// Registry miss: fall back to the persisted run record
		if db != nil {
			run, err := db.GetRun(id)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if run != nil {
				c.JSON(http.StatusOK, gin.H{
					"id":                run.RunID,
					"status":            "complete",
					"run_id":            run.RunID,
					"start_date":        run.StartDate.Format("2006-01-02"),
					"end_date":          run.EndDate.Format("2006-01-02"),
					"test_run":          run.TestRun,
					"rows":              run.OutcomeCount,
					"coverage_complete": run.Complete,
					"started_at":        run.StartedAt,
					"finished_at":       run.FinishedAt,
				})
				return
			}
		}

		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
	})

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	fmt.Printf("Scraper API listening on %s\n", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("API server failed: %v", err)
	}
}

func resolveWindow(req runRequest) (start, end time.Time, err error) {
	if req.StartDate == "" {
		start, end = pipeline.DefaultWindow(time.Now().UTC())
		return start, end, nil
	}
	start, err = time.ParseInLocation("2006-01-02", req.StartDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err = time.ParseInLocation("2006-01-02", req.EndDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date: %w", err)
	}
	return start, end, nil
}

// executeRun runs the pipeline in the background and records the outcome in
// the registry.
func executeRun(cfg *config.Config, reg *registry, id string, start, end time.Time, testRun bool) {
	workers := cfg.Scraper.Workers
	if workers <= 0 {
		workers = fetch.WorkerCount(cfg.Scraper.ReserveCore)
	}

	client := webtris.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, workers)
	p := pipeline.New(client, workers, testRun, nil)

	result, err := p.Run(context.Background(), start, end)
	finished := time.Now().UTC()
	if err != nil {
		reg.update(id, func(s *runState) {
			s.Status = "failed"
			s.Error = err.Error()
			s.FinishedAt = &finished
		})
		return
	}

	exporter := export.NewExporter(cfg.Export.OutputDir, cfg.Export.Compress)
	if dirs, err := exporter.Prepare(result); err != nil {
		fmt.Printf("Failed to prepare run directory: %v\n", err)
	} else {
		if _, err := exporter.WriteDatasets(dirs, result); err != nil {
			fmt.Printf("Failed to write datasets: %v\n", err)
		}
		if _, err := exporter.WriteLookup(dirs, result.Sites); err != nil {
			fmt.Printf("Failed to write lookup: %v\n", err)
		}
		if _, err := exporter.WriteActivityReport(dirs, result); err != nil {
			fmt.Printf("Failed to write activity report: %v\n", err)
		}
	}

	reg.update(id, func(s *runState) {
		s.Status = "complete"
		s.RunID = result.RunID
		s.Rows = result.Dataset.TotalRows()
		s.Complete = &result.Complete
		s.FinishedAt = &finished
	})
}
