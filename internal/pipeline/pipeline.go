package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roaddata/webtris-scraper/internal/aggregate"
	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/classify"
	"github.com/roaddata/webtris-scraper/internal/fetch"
	"github.com/roaddata/webtris-scraper/internal/partition"
)

// Upstream is the API surface the pipeline needs from the WebTRIS client.
type Upstream interface {
	catalogue.SiteLister
	fetch.Reporter
}

// CatalogueCache warms the site catalogue across runs. Implementations may
// miss freely; the pipeline falls back to the upstream API.
type CatalogueCache interface {
	Get(ctx context.Context) ([]catalogue.Site, bool, error)
	Set(ctx context.Context, sites []catalogue.Site) error
}

// Result is the complete output of one run, handed to the file, queue and
// database collaborators. Complete is false for aborted (partial-coverage)
// runs; consumers must annotate reports accordingly rather than present
// partial inactivity as truth.
type Result struct {
	RunID      string
	Start      time.Time
	End        time.Time
	TestRun    bool
	Sites      []catalogue.Site
	TaskCount  int
	Dataset    *aggregate.Dataset
	Activity   classify.Table
	Complete   bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Pipeline wires the resolver, partitioner and executor into one run.
type Pipeline struct {
	client      Upstream
	partitioner *partition.Partitioner
	executor    *fetch.Executor
	cache       CatalogueCache
	testRun     bool
}

// New builds a Pipeline. workers is passed through to the executor; cache
// may be nil.
func New(client Upstream, workers int, testRun bool, cache CatalogueCache) *Pipeline {
	return &Pipeline{
		client:      client,
		partitioner: partition.NewPartitioner(testRun),
		executor:    fetch.NewExecutor(client, workers),
		cache:       cache,
		testRun:     testRun,
	}
}

// Abort requests a partial run: no new tasks are dispatched, in-flight
// tasks finish, and the result is flagged incomplete.
func (p *Pipeline) Abort() {
	p.executor.Abort()
}

// Run executes the full pipeline for the window [start, end].
func (p *Pipeline) Run(ctx context.Context, start, end time.Time) (*Result, error) {
	startedAt := time.Now().UTC()

	sites, err := p.resolveSites(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Resolved %d catalogued sites\n", len(sites))

	tasks, err := p.partitioner.Tasks(sites, start, end)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Partitioned window %s to %s into %d fetch tasks\n",
		start.Format("2006-01-02"), end.Format("2006-01-02"), len(tasks))

	execResult := p.executor.Execute(ctx, tasks)
	if !execResult.Complete {
		fmt.Printf("Run aborted: %d of %d tasks dispatched\n", len(execResult.Outcomes), len(tasks))
	}

	dataset := aggregate.Build(execResult.Outcomes)
	activity := classify.Classify(sites, execResult.Outcomes)

	return &Result{
		RunID:      uuid.New().String(),
		Start:      start,
		End:        end,
		TestRun:    p.testRun,
		Sites:      sites,
		TaskCount:  len(tasks),
		Dataset:    dataset,
		Activity:   activity,
		Complete:   execResult.Complete,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}, nil
}

// resolveSites consults the cache first, then the upstream catalogue.
func (p *Pipeline) resolveSites(ctx context.Context) ([]catalogue.Site, error) {
	if p.cache != nil {
		sites, ok, err := p.cache.Get(ctx)
		if err != nil {
			fmt.Printf("Catalogue cache read failed, falling back to upstream: %v\n", err)
		} else if ok {
			fmt.Printf("Catalogue served from cache (%d sites)\n", len(sites))
			return sites, nil
		}
	}

	resolver := catalogue.NewResolver(p.client)
	sites, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, sites); err != nil {
			fmt.Printf("Catalogue cache write failed: %v\n", err)
		}
	}
	return sites, nil
}

// DefaultWindow returns the full calendar month two months before now,
// matching the upstream data-publication lag.
func DefaultWindow(now time.Time) (start, end time.Time) {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start = firstOfMonth.AddDate(0, -2, 0)
	end = start.AddDate(0, 1, -1)
	return start, end
}
