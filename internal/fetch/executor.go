package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roaddata/webtris-scraper/internal/partition"
	"github.com/roaddata/webtris-scraper/internal/webtris"
)

// Status tags the result of one fetch task.
type Status int

const (
	// StatusSuccess means the site returned at least one row.
	StatusSuccess Status = iota
	// StatusEmpty means the site responded with zero rows.
	StatusEmpty
	// StatusFailure means the task exhausted its retry policy.
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusEmpty:
		return "empty"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the immutable result of one task. Failures are data, never
// control flow: a broken site cannot abort the run.
type Outcome struct {
	Task     partition.Task
	Status   Status
	Rows     []json.RawMessage
	Kind     webtris.FailureKind
	Attempts int
	Err      error
}

// Result is the outcome sequence for a run. When Complete is false the run
// was aborted before every task was dispatched and Outcomes covers only the
// dispatched prefix.
type Result struct {
	Outcomes []Outcome
	Complete bool
}

// Reporter performs one task's upstream call, applying the client retry
// policy, and reports the attempts it made.
type Reporter interface {
	DailyReport(ctx context.Context, siteID int, start, end time.Time) ([]json.RawMessage, int, error)
}

// Executor runs fetch tasks on a bounded worker pool. Each outcome is
// written into a pre-sized slot indexed by task position, so the returned
// sequence always matches submission order; only the dispatch cursor is
// guarded by a lock.
type Executor struct {
	client  Reporter
	workers int
	aborted atomic.Bool
}

// NewExecutor creates an Executor with an explicit worker count. The count
// is a constructor argument rather than ambient host state so tests can pin
// it.
func NewExecutor(client Reporter, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{client: client, workers: workers}
}

// WorkerCount derives a worker count from available parallelism, optionally
// reserving one unit.
func WorkerCount(reserveOne bool) int {
	n := runtime.NumCPU()
	if reserveOne && n > 1 {
		n--
	}
	return n
}

// Abort stops the dispatch of new tasks. In-flight tasks run to completion
// or their own timeout.
func (e *Executor) Abort() {
	e.aborted.Store(true)
}

// Aborted reports whether an abort has been requested.
func (e *Executor) Aborted() bool {
	return e.aborted.Load()
}

// Execute runs every task and returns outcomes in task-submission order.
// Cancelling ctx behaves like Abort.
func (e *Executor) Execute(ctx context.Context, tasks []partition.Task) Result {
	slots := make([]Outcome, len(tasks))

	var (
		mu     sync.Mutex
		cursor int
		wg     sync.WaitGroup
	)
	var done atomic.Int64
	total := len(tasks)
	logInterval := total / 10
	if logInterval < 1 {
		logInterval = 1
	}

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				if e.aborted.Load() || ctx.Err() != nil || cursor >= total {
					mu.Unlock()
					return
				}
				idx := cursor
				cursor++
				mu.Unlock()

				slots[idx] = e.runTask(ctx, tasks[idx])

				if n := done.Add(1); n%int64(logInterval) == 0 || n == int64(total) {
					fmt.Printf("Fetched %d of %d tasks (%d remaining)\n", n, total, int64(total)-n)
				}
			}
		}()
	}
	wg.Wait()

	dispatched := cursor
	return Result{
		Outcomes: slots[:dispatched],
		Complete: dispatched == total,
	}
}

// runTask performs the upstream call and classifies the result. The client
// owns the retry state machine; the outcome records the attempt count it
// reports.
func (e *Executor) runTask(ctx context.Context, task partition.Task) Outcome {
	rows, attempts, err := e.client.DailyReport(ctx, task.Site.ID, task.Start, task.End)
	if err != nil {
		kind := webtris.KindClientError
		var reqErr *webtris.RequestError
		if errors.As(err, &reqErr) {
			kind = reqErr.Kind
		}
		return Outcome{Task: task, Status: StatusFailure, Kind: kind, Attempts: attempts, Err: err}
	}
	if len(rows) == 0 {
		return Outcome{Task: task, Status: StatusEmpty, Attempts: attempts}
	}
	return Outcome{Task: task, Status: StatusSuccess, Rows: rows, Attempts: attempts}
}
