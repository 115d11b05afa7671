package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	flag "github.com/spf13/pflag"

	"github.com/roaddata/webtris-scraper/internal/cache"
	"github.com/roaddata/webtris-scraper/internal/database"
	"github.com/roaddata/webtris-scraper/internal/export"
	"github.com/roaddata/webtris-scraper/internal/fetch"
	"github.com/roaddata/webtris-scraper/internal/notification"
	"github.com/roaddata/webtris-scraper/internal/pipeline"
	"github.com/roaddata/webtris-scraper/internal/queue"
	"github.com/roaddata/webtris-scraper/internal/upload"
	"github.com/roaddata/webtris-scraper/internal/webtris"
	"github.com/roaddata/webtris-scraper/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	startDate := flag.String("start-date", "", "scrape window start (YYYY-MM-DD)")
	endDate := flag.String("end-date", "", "scrape window end (YYYY-MM-DD)")
	testRun := flag.Bool("test-run", false, "fetch one site per family instead of the full catalogue")
	workers := flag.Int("workers", 0, "worker count (0 = derive from CPU count)")
	reserveCore := flag.Bool("reserve-core", false, "leave one CPU core free when deriving the worker count")
	schedule := flag.String("schedule", "", "cron expression for recurring runs")
	outputDir := flag.String("output-dir", "", "root directory for run artifacts")
	refreshCatalogue := flag.Bool("refresh-catalogue", false, "drop the cached site catalogue before the run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// CLI flags take precedence over file and environment values.
	if flag.CommandLine.Changed("start-date") {
		cfg.Scraper.StartDate = *startDate
	}
	if flag.CommandLine.Changed("end-date") {
		cfg.Scraper.EndDate = *endDate
	}
	if flag.CommandLine.Changed("test-run") {
		cfg.Scraper.TestRun = *testRun
	}
	if flag.CommandLine.Changed("workers") {
		cfg.Scraper.Workers = *workers
	}
	if flag.CommandLine.Changed("reserve-core") {
		cfg.Scraper.ReserveCore = *reserveCore
	}
	if flag.CommandLine.Changed("schedule") {
		cfg.Scraper.Schedule = *schedule
	}
	if flag.CommandLine.Changed("output-dir") {
		cfg.Export.OutputDir = *outputDir
	}
	if flag.CommandLine.Changed("refresh-catalogue") {
		cfg.Scraper.RefreshCatalogue = *refreshCatalogue
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("Starting Road Data Scraper...")

	// Surface a broken mail setup before a long run, not after it.
	if cfg.SMTP.Enabled {
		if err := notification.NewEmailNotifier(&cfg.SMTP).TestConnection(); err != nil {
			fmt.Printf("SMTP connection check failed: %v\n", err)
		}
	}

	if cfg.Scraper.Schedule != "" {
		runScheduled(cfg)
		return
	}

	if err := runOnce(cfg); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

// runScheduled executes runOnce on the configured cron schedule until
// interrupted. Each trigger gets a fresh pipeline.
func runScheduled(cfg *config.Config) {
	c := cron.New()
	_, err := c.AddFunc(cfg.Scraper.Schedule, func() {
		if err := runOnce(cfg); err != nil {
			fmt.Printf("Scheduled run failed: %v\n", err)
		}
	})
	if err != nil {
		log.Fatalf("Invalid schedule %q: %v", cfg.Scraper.Schedule, err)
	}

	c.Start()
	fmt.Printf("Scheduler started with schedule %q\n", cfg.Scraper.Schedule)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down scheduler...")
	<-c.Stop().Done()
}

// runOnce executes one full scrape: resolve, partition, fetch, aggregate,
// classify, then hand the result to the configured sinks.
func runOnce(cfg *config.Config) error {
	workerCount := cfg.Scraper.Workers
	if workerCount <= 0 {
		workerCount = fetch.WorkerCount(cfg.Scraper.ReserveCore)
	}

	client := webtris.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, workerCount)
	ctx := context.Background()

	var catCache pipeline.CatalogueCache
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		catalogueCache := cache.NewCatalogueCache(redisClient, cfg.Redis.CatalogueTTL)
		if cfg.Scraper.RefreshCatalogue {
			if err := catalogueCache.Invalidate(ctx); err != nil {
				fmt.Printf("Catalogue cache invalidation failed: %v\n", err)
			} else {
				fmt.Println("Catalogue cache invalidated")
			}
		}
		catCache = catalogueCache
	}

	p := pipeline.New(client, workerCount, cfg.Scraper.TestRun, catCache)

	// A first Ctrl+C aborts the run but lets in-flight tasks finish; the
	// partial result is still exported. A second one kills the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nAbort requested: finishing in-flight tasks...")
		p.Abort()
	}()

	start, end, ok, err := cfg.Window()
	if err != nil {
		return err
	}
	if !ok {
		start, end = pipeline.DefaultWindow(time.Now().UTC())
	}
	fmt.Printf("Scrape window: %s to %s (workers=%d, test_run=%v)\n",
		start.Format("2006-01-02"), end.Format("2006-01-02"), workerCount, cfg.Scraper.TestRun)

	result, err := p.Run(ctx, start, end)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s finished: %d rows, complete=%v\n",
		result.RunID, result.Dataset.TotalRows(), result.Complete)

	return deliver(ctx, cfg, result)
}

// deliver writes the run artifacts and pushes the result to every enabled
// sink. Sink failures after the local export are reported but do not undo
// the run.
func deliver(ctx context.Context, cfg *config.Config, result *pipeline.Result) error {
	exporter := export.NewExporter(cfg.Export.OutputDir, cfg.Export.Compress)
	dirs, err := exporter.Prepare(result)
	if err != nil {
		return err
	}
	if _, err := exporter.WriteDatasets(dirs, result); err != nil {
		return err
	}
	if _, err := exporter.WriteLookup(dirs, result.Sites); err != nil {
		return err
	}
	if _, err := exporter.WriteActivityReport(dirs, result); err != nil {
		return err
	}
	if _, err := exporter.DumpConfig(dirs, cfg.Redacted()); err != nil {
		return err
	}
	fmt.Printf("Artifacts written to %s\n", dirs.Root)

	if cfg.Kafka.Enabled {
		if err := publishResult(ctx, cfg, result); err != nil {
			fmt.Printf("Kafka publish failed: %v\n", err)
		}
	}

	if cfg.Database.Enabled {
		if err := persistResult(cfg, result); err != nil {
			fmt.Printf("Database write failed: %v\n", err)
		}
	}

	if cfg.Upload.Enabled {
		uploader, err := upload.NewUploader(cfg.Upload.ConnectionString, cfg.Upload.Container, cfg.Upload.Prefix)
		if err != nil {
			fmt.Printf("Upload setup failed: %v\n", err)
		} else if _, err := uploader.UploadDir(ctx, dirs.Root); err != nil {
			fmt.Printf("Upload failed: %v\n", err)
		}
	}

	if cfg.SMTP.Enabled {
		notifier := notification.NewEmailNotifier(&cfg.SMTP)
		if err := notifier.SendRunSummary(result); err != nil {
			fmt.Printf("Notification failed: %v\n", err)
		}
	}

	return nil
}

func publishResult(ctx context.Context, cfg *config.Config, result *pipeline.Result) error {
	readings := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings)
	defer readings.Close()
	if err := queue.PublishResult(ctx, readings, result, cfg.Kafka.BatchRows); err != nil {
		return err
	}

	reports := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReports)
	defer reports.Close()
	return queue.PublishActivityReport(ctx, reports, result)
}

func persistResult(cfg *config.Config, result *pipeline.Result) error {
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		return err
	}
	if err := db.UpsertSites(result.Sites); err != nil {
		return err
	}

	run := &database.Run{
		RunID:        result.RunID,
		StartDate:    result.Start,
		EndDate:      result.End,
		TestRun:      result.TestRun,
		Complete:     result.Complete,
		TaskCount:    result.TaskCount,
		OutcomeCount: result.Dataset.TotalRows(),
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
	}
	if err := db.InsertRun(run); err != nil {
		return err
	}

	for family, rows := range result.Dataset.Rows {
		if err := db.InsertReadings(result.RunID, family, rows); err != nil {
			return err
		}
	}
	return db.InsertActivityReport(result.RunID, result.Activity)
}
