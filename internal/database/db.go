package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/roaddata/webtris-scraper/internal/aggregate"
	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/classify"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// UpsertSites refreshes the sensor site lookup from the catalogue.
func (db *DB) UpsertSites(sites []catalogue.Site) error {
	query := `
		INSERT INTO sensor_sites (id, name, family, direction, longitude, latitude, status, easting, northing)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    family = EXCLUDED.family,
		    direction = EXCLUDED.direction,
		    longitude = EXCLUDED.longitude,
		    latitude = EXCLUDED.latitude,
		    status = EXCLUDED.status,
		    easting = EXCLUDED.easting,
		    northing = EXCLUDED.northing,
		    updated_at = CURRENT_TIMESTAMP
	`

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare site upsert: %w", err)
	}
	defer stmt.Close()

	for _, site := range sites {
		if _, err := stmt.Exec(
			site.ID, site.Name, string(site.Family), site.Direction,
			site.Longitude, site.Latitude, site.Status, site.Easting, site.Northing,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to upsert site %d: %w", site.ID, err)
		}
	}
	return tx.Commit()
}

// InsertRun records a pipeline run. It overwrites a stub row left by a
// consumer that saw the run's readings before its record.
func (db *DB) InsertRun(run *Run) error {
	query := `
		INSERT INTO scrape_runs (
			run_id, start_date, end_date, test_run, complete,
			task_count, outcome_count, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE
		SET start_date = EXCLUDED.start_date,
		    end_date = EXCLUDED.end_date,
		    test_run = EXCLUDED.test_run,
		    complete = EXCLUDED.complete,
		    task_count = EXCLUDED.task_count,
		    outcome_count = EXCLUDED.outcome_count,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at
	`
	_, err := db.Exec(
		query,
		run.RunID,
		run.StartDate,
		run.EndDate,
		run.TestRun,
		run.Complete,
		run.TaskCount,
		run.OutcomeCount,
		run.StartedAt,
		run.FinishedAt,
	)
	return err
}

// EnsureRun inserts a run record only if none exists, so readings can
// reference their run before the scraper's own record arrives.
func (db *DB) EnsureRun(run *Run) error {
	query := `
		INSERT INTO scrape_runs (
			run_id, start_date, end_date, test_run, complete,
			task_count, outcome_count, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO NOTHING
	`
	_, err := db.Exec(
		query,
		run.RunID,
		run.StartDate,
		run.EndDate,
		run.TestRun,
		run.Complete,
		run.TaskCount,
		run.OutcomeCount,
		run.StartedAt,
		run.FinishedAt,
	)
	return err
}

// InsertReadings bulk-inserts the rows of one family bucket in a single
// transaction.
func (db *DB) InsertReadings(runID string, family catalogue.Family, rows []aggregate.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO readings (run_id, site_id, family, range_start, range_end, report_date, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare reading insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		payload, err := json.Marshal(row.Data)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to marshal reading payload: %w", err)
		}
		if _, err := stmt.Exec(
			runID, row.SiteID, string(family),
			row.RangeStart, row.RangeEnd, row.Data.ReportDate, payload,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert reading for site %d: %w", row.SiteID, err)
		}
	}
	return tx.Commit()
}

// InsertActivityReport stores the per-family activity table for a run.
func (db *DB) InsertActivityReport(runID string, table classify.Table) error {
	query := `
		INSERT INTO activity_report (run_id, family, active, inactive)
		VALUES ($1, $2, $3, $4)
	`
	for _, family := range catalogue.Families() {
		counts := table[family]
		if _, err := db.Exec(query, runID, string(family), counts.Active, counts.Inactive); err != nil {
			return fmt.Errorf("failed to insert activity entry for %s: %w", family, err)
		}
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	query := `
		SELECT run_id, start_date, end_date, test_run, complete,
		       task_count, outcome_count, started_at, finished_at
		FROM scrape_runs
		WHERE run_id = $1
	`

	var run Run
	err := db.QueryRow(query, runID).Scan(
		&run.RunID,
		&run.StartDate,
		&run.EndDate,
		&run.TestRun,
		&run.Complete,
		&run.TaskCount,
		&run.OutcomeCount,
		&run.StartedAt,
		&run.FinishedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &run, nil
}
