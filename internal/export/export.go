package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/roaddata/webtris-scraper/internal/catalogue"
	"github.com/roaddata/webtris-scraper/internal/pipeline"
)

// csvHeader is the column order of exported dataset files. Kept stable so
// downstream loaders can rely on position.
var csvHeader = []string{
	"site_id", "site_name", "report_date", "time_period_end", "interval",
	"len_0_520_cm", "len_521_660_cm", "len_661_1160_cm", "len_1160_plus_cm",
	"speed_0_10_mph", "speed_11_15_mph", "speed_16_20_mph", "speed_21_25_mph",
	"speed_26_30_mph", "speed_31_35_mph", "speed_36_40_mph", "speed_41_45_mph",
	"speed_46_50_mph", "speed_51_55_mph", "speed_56_60_mph", "speed_61_70_mph",
	"speed_71_80_mph", "speed_80_plus_mph",
	"speed_avg_mph", "total_vol",
	"longitude", "latitude", "sites_status", "type", "direction", "easting", "northing",
}

var lookupHeader = []string{
	"site_id", "name", "type", "direction", "longitude", "latitude",
	"status", "easting", "northing",
}

// RunDirs is the on-disk layout of one run's artifacts.
type RunDirs struct {
	Root     string
	Data     string
	Metadata string
	Report   string
}

// Exporter writes run artifacts to the local filesystem.
type Exporter struct {
	OutputDir string
	Compress  bool
}

// NewExporter creates an Exporter rooted at outputDir.
func NewExporter(outputDir string, compress bool) *Exporter {
	return &Exporter{OutputDir: outputDir, Compress: compress}
}

// Prepare creates the run directory tree:
// <output>/<run_id>_<start>_to_<end>/{data,metadata,report}.
func (e *Exporter) Prepare(result *pipeline.Result) (RunDirs, error) {
	name := fmt.Sprintf("%s_%s_to_%s",
		result.RunID,
		result.Start.Format("2006-01-02"),
		result.End.Format("2006-01-02"))

	dirs := RunDirs{Root: filepath.Join(e.OutputDir, name)}
	dirs.Data = filepath.Join(dirs.Root, "data")
	dirs.Metadata = filepath.Join(dirs.Root, "metadata")
	dirs.Report = filepath.Join(dirs.Root, "report")

	for _, dir := range []string{dirs.Data, dirs.Metadata, dirs.Report} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return RunDirs{}, fmt.Errorf("failed to create run directory %s: %w", dir, err)
		}
	}
	return dirs, nil
}

// WriteDatasets writes one CSV per sensor family into the data directory and
// returns the paths written. Families with no rows are skipped.
func (e *Exporter) WriteDatasets(dirs RunDirs, result *pipeline.Result) ([]string, error) {
	lookup := make(map[int]catalogue.Site, len(result.Sites))
	for _, site := range result.Sites {
		lookup[site.ID] = site
	}

	var written []string
	for _, family := range catalogue.Families() {
		rows := result.Dataset.Rows[family]
		if len(rows) == 0 {
			continue
		}

		path := filepath.Join(dirs.Data, e.datasetFilename(family, result))
		if err := e.writeCSV(path, csvHeader, func(w *csv.Writer) error {
			for _, row := range rows {
				site := lookup[row.SiteID]
				record := []string{
					strconv.Itoa(row.SiteID),
					row.Data.SiteName,
					row.Data.ReportDate,
					row.Data.TimePeriodEnding,
					row.Data.TimeInterval,
					row.Data.Len0to520cm,
					row.Data.Len521to660cm,
					row.Data.Len661to1160cm,
					row.Data.Len1160PlusCm,
					row.Data.Speed0to10mph,
					row.Data.Speed11to15mph,
					row.Data.Speed16to20mph,
					row.Data.Speed21to25mph,
					row.Data.Speed26to30mph,
					row.Data.Speed31to35mph,
					row.Data.Speed36to40mph,
					row.Data.Speed41to45mph,
					row.Data.Speed46to50mph,
					row.Data.Speed51to55mph,
					row.Data.Speed56to60mph,
					row.Data.Speed61to70mph,
					row.Data.Speed71to80mph,
					row.Data.Speed80PlusMph,
					row.Data.AvgSpeedMph,
					row.Data.TotalVolume,
					strconv.FormatFloat(site.Longitude, 'f', -1, 64),
					strconv.FormatFloat(site.Latitude, 'f', -1, 64),
					site.Status,
					string(site.Family),
					site.Direction,
					site.Easting,
					site.Northing,
				}
				if err := w.Write(record); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return written, fmt.Errorf("failed to write %s dataset: %w", family, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// WriteLookup writes the full site catalogue to the metadata directory.
func (e *Exporter) WriteLookup(dirs RunDirs, sites []catalogue.Site) (string, error) {
	path := filepath.Join(dirs.Metadata, "road_data_sensor_lookup.csv")
	err := e.writeCSV(path, lookupHeader, func(w *csv.Writer) error {
		for _, site := range sites {
			record := []string{
				strconv.Itoa(site.ID),
				site.Name,
				string(site.Family),
				site.Direction,
				strconv.FormatFloat(site.Longitude, 'f', -1, 64),
				strconv.FormatFloat(site.Latitude, 'f', -1, 64),
				site.Status,
				site.Easting,
				site.Northing,
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to write sensor lookup: %w", err)
	}
	return path, nil
}

// WriteActivityReport writes the per-family active/inactive table. The
// coverage column is "partial" for aborted runs so a reader never mistakes
// unfetched sites for inactive ones.
func (e *Exporter) WriteActivityReport(dirs RunDirs, result *pipeline.Result) (string, error) {
	coverage := "complete"
	if !result.Complete {
		coverage = "partial"
	}

	path := filepath.Join(dirs.Report, "activity_report.csv")
	header := []string{"family", "active", "inactive", "coverage"}
	err := e.writeCSV(path, header, func(w *csv.Writer) error {
		for _, family := range catalogue.Families() {
			counts := result.Activity[family]
			record := []string{
				string(family),
				strconv.Itoa(counts.Active),
				strconv.Itoa(counts.Inactive),
				coverage,
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to write activity report: %w", err)
	}
	return path, nil
}

// DumpConfig snapshots the effective run configuration into the metadata
// directory for reproducibility.
func (e *Exporter) DumpConfig(dirs RunDirs, cfg interface{}) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config snapshot: %w", err)
	}
	path := filepath.Join(dirs.Metadata, "run_config.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config snapshot: %w", err)
	}
	return path, nil
}

// datasetFilename builds e.g. midas_2026-05-01_to_2026-05-31.csv, with a
// _TEST_RUN marker for test runs and .gz when compression is on.
func (e *Exporter) datasetFilename(family catalogue.Family, result *pipeline.Result) string {
	name := fmt.Sprintf("%s_%s_to_%s",
		family,
		result.Start.Format("2006-01-02"),
		result.End.Format("2006-01-02"))
	if result.TestRun {
		name += "_TEST_RUN"
	}
	name += ".csv"
	if e.Compress {
		name += ".gz"
	}
	return name
}

// writeCSV opens path, optionally wraps it in gzip, writes the header and
// hands the writer to fill.
func (e *Exporter) writeCSV(path string, header []string, fill func(*csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var out io.Writer = f
	var gz *gzip.Writer
	if e.Compress && filepath.Ext(path) == ".gz" {
		gz = gzip.NewWriter(f)
		out = gz
	}

	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := fill(w); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if gz != nil {
		return gz.Close()
	}
	return nil
}
