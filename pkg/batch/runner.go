// Package batch projects every matching acquisition of a folder and writes
// the projected stacks together with a report of the slices used.
//
// The run consists of several steps:
//  1. Listing the folder and selecting files by extension and channel
//  2. Reading each file and checking it is a (T, Z, Y, X) stack
//  3. Projecting every timepoint around its best-focused slice
//  4. Writing the projected stack, and optionally plane previews
//  5. Writing the spreadsheet report, the run ledger and metrics
//
// A file that fails is logged and the run moves on to the next one.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/config"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/ledger"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/logger"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/metrics"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/pipeline"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/projection"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/report"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/tiffstack"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/visualization"
)

// Summary describes a finished run.
type Summary struct {
	RunID string

	// FilesSeen counts files matching the extension and channel filters
	FilesSeen int

	// FilesProcessed counts files projected and written
	FilesProcessed int

	// FilesSkipped counts files without separate time and Z axes
	FilesSkipped int

	// FilesFailed counts files that could not be read, projected or written
	FilesFailed int

	// ReportPath is empty when no report was written
	ReportPath string

	Duration time.Duration
}

// Runner handles one projection batch over a folder.
type Runner struct {
	// cfg stores the run configuration
	cfg *config.Config

	rule      projection.Rule
	outputDir string

	log     logger.Logger
	metrics *metrics.Manager
}

// NewRunner validates cfg and creates a runner.
func NewRunner(cfg *config.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rule, err := projection.ParseRule(cfg.Projection.Type)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:       cfg,
		rule:      rule,
		outputDir: cfg.OutputDir(),
		log:       logger.Named("batch"),
		metrics:   metrics.NewManager(),
	}, nil
}

// Metrics returns the metrics collected by the runner.
func (r *Runner) Metrics() *metrics.Manager {
	return r.metrics
}

// Run processes the folder. It returns ErrNoData when nothing could be
// projected; the summary is filled in either case.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	summary := Summary{RunID: uuid.NewString()}

	files, err := r.selectFiles()
	if err != nil {
		return summary, err
	}
	summary.FilesSeen = len(files)

	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return summary, fmt.Errorf("failed to create output directory: %w", err)
	}

	r.log.Info(ctx, "Starting projection run",
		logger.String("run_id", summary.RunID),
		logger.String("folder", r.cfg.Input.Folder),
		logger.String("type", r.rule.String()),
		logger.Int("z_range", r.cfg.Projection.ZRange),
		logger.Int("files", len(files)))

	aggregator := pipeline.NewAggregator(
		pipeline.WithWorkers(r.cfg.Projection.Workers),
		pipeline.WithObserver(r.metrics),
	)

	var records []models.AuditRecord
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(started)
			return summary, err
		}

		fileStarted := time.Now()
		record, err := r.processFile(ctx, aggregator, name)
		switch {
		case err == nil:
			summary.FilesProcessed++
			records = append(records, record)
			r.metrics.RecordFile(metrics.OutcomeProcessed, time.Since(fileStarted))
		case errors.Is(err, pipeline.ErrInputShape):
			summary.FilesSkipped++
			r.metrics.RecordFile(metrics.OutcomeSkipped, 0)
			r.log.Warn(ctx, "Skipping file", logger.String("file", name), logger.Error(err))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			summary.Duration = time.Since(started)
			return summary, err
		default:
			summary.FilesFailed++
			r.metrics.RecordFile(metrics.OutcomeFailed, 0)
			r.log.Error(ctx, "Failed to process file", logger.String("file", name), logger.Error(err))
		}
	}

	r.log.Info(ctx, "Projection finished",
		logger.Int("processed", summary.FilesProcessed),
		logger.Int("skipped", summary.FilesSkipped),
		logger.Int("failed", summary.FilesFailed))

	err = r.finish(ctx, &summary, records, started)
	summary.Duration = time.Since(started)
	return summary, err
}

// finish writes the report, the ledger row and the metrics textfile
func (r *Runner) finish(ctx context.Context, summary *Summary, records []models.AuditRecord, started time.Time) error {
	var errs []error

	if len(records) == 0 {
		r.log.Info(ctx, "No data to report")
		errs = append(errs, ErrNoData)
	} else {
		reportPath := filepath.Join(r.outputDir, r.cfg.Output.ReportName)
		if err := report.WriteProjectionReport(reportPath, records); err != nil {
			errs = append(errs, fmt.Errorf("failed to write report: %w", err))
		} else {
			summary.ReportPath = reportPath
			r.log.Info(ctx, "Report written", logger.String("path", reportPath))
		}

		if r.cfg.Output.Ledger != "" {
			if err := r.recordRun(ctx, summary.RunID, records, started); err != nil {
				errs = append(errs, err)
			}
		}
	}

	r.metrics.MarkRunFinished(time.Now())
	if r.cfg.Output.MetricsFile != "" {
		if err := r.metrics.WriteTextfile(r.cfg.Output.MetricsFile); err != nil {
			errs = append(errs, err)
		} else {
			r.log.Debug(ctx, "Metrics written", logger.String("path", r.cfg.Output.MetricsFile))
		}
	}

	return errors.Join(errs...)
}

// recordRun appends the run to the ledger
func (r *Runner) recordRun(ctx context.Context, runID string, records []models.AuditRecord, started time.Time) error {
	store, err := ledger.Open(ctx, r.cfg.Output.Ledger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	run := ledger.Run{
		ID:         runID,
		Folder:     r.cfg.Input.Folder,
		ProjType:   r.rule.String(),
		ZRange:     r.cfg.Projection.ZRange,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Records:    records,
	}
	if err := store.RecordRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	r.log.Debug(ctx, "Run recorded", logger.String("ledger", r.cfg.Output.Ledger))
	return nil
}

// processFile projects one acquisition and writes the result
func (r *Runner) processFile(ctx context.Context, aggregator *pipeline.Aggregator, name string) (models.AuditRecord, error) {
	path := filepath.Join(r.cfg.Input.Folder, name)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	arr, err := tiffstack.Read(path)
	if err != nil {
		return models.AuditRecord{}, err
	}
	r.log.Debug(ctx, "Loaded acquisition", logger.String("file", name), logger.Any("shape", arr.Shape))

	stack, entries, err := aggregator.ProcessArray(ctx, arr, r.cfg.Projection.ZRange, r.rule)
	if err != nil {
		return models.AuditRecord{}, err
	}

	outPath := filepath.Join(r.outputDir, OutputName(stem, r.rule))
	if err := tiffstack.Write(outPath, stack); err != nil {
		return models.AuditRecord{}, err
	}

	if r.cfg.Output.Previews {
		viewer := visualization.NewViewer(stack, true)
		previewDir := filepath.Join(r.outputDir, "previews", stem)
		if err := viewer.SavePlaneSequence(previewDir, r.cfg.Output.PreviewFormat); err != nil {
			return models.AuditRecord{}, fmt.Errorf("failed to save previews: %w", err)
		}
	}

	r.log.Info(ctx, "Projected file",
		logger.String("file", name),
		logger.String("output", outPath),
		logger.Int("timepoints", stack.Len()))

	return models.AuditRecord{Acquisition: stem, Entries: entries}, nil
}

// selectFiles lists the folder in name order and keeps regular files with
// the configured extension whose name contains one of the channels
func (r *Runner) selectFiles() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.Input.Folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputFolder, err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if Matches(e.Name(), r.cfg.Input.Extension, r.cfg.Input.Channels) {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

// Matches reports whether name has the extension, ignoring case, and
// contains at least one of the channel fragments.
func Matches(name, extension string, channels []string) bool {
	if !strings.EqualFold(filepath.Ext(name), extension) {
		return false
	}
	for _, ch := range channels {
		if strings.Contains(name, ch) {
			return true
		}
	}
	return false
}

// OutputName returns the file name of the projection of stem.
func OutputName(stem string, rule projection.Rule) string {
	return fmt.Sprintf("%s_%sproj.tif", stem, rule)
}
