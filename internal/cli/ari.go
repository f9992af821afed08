package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/claudiasc89/image-analysis-portfolio/pkg/config"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/evaluation"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/ledger"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/report"
)

var ariCmd = &cobra.Command{
	Use:   "ari",
	Short: "Score segmentation masks against reference masks",
	Long: `Pairs every reference mask with the segmentation whose name starts with the
same sample id (the first two underscore-separated parts of the name) and
computes the Adjusted Rand Index of each pair. Results are written to
ARI_results.xlsx in the segmentation directory unless --output is given.`,
	Args: cobra.NoArgs,
	RunE: runARI,
}

func init() {
	flags := ariCmd.Flags()
	flags.String("ref", "", "directory of curated reference masks")
	flags.String("seg", "", "directory of segmentation masks")
	flags.StringP("output", "o", "", "directory receiving the report")
	flags.String("ledger", "", "SQLite database recording the evaluation")

	rootCmd.AddCommand(ariCmd)
}

func runARI(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyARIFlags(cmd, cfg)

	if cfg.Evaluation.ReferenceDir == "" || cfg.Evaluation.SegmentationDir == "" {
		return fmt.Errorf("%w: reference and segmentation directories are required", config.ErrInvalidConfig)
	}

	ctx := context.Background()
	started := time.Now()

	pairs, err := evaluation.CollectPairs(ctx, cfg.Evaluation.ReferenceDir, cfg.Evaluation.SegmentationDir)
	if err != nil {
		return err
	}
	cmd.Printf("Total valid matching pairs found: %d\n", len(pairs))

	results, err := evaluation.Evaluate(ctx, pairs)
	if err != nil {
		return err
	}

	outDir := cfg.Evaluation.OutputDir
	if outDir == "" {
		outDir = cfg.Evaluation.SegmentationDir
	}
	reportPath := filepath.Join(outDir, cfg.Evaluation.ReportName)
	if err := report.WriteARIReport(reportPath, results); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	if cfg.Output.Ledger != "" {
		if err := recordEvaluation(ctx, cfg, results, started); err != nil {
			return err
		}
	}

	cmd.Println("\nFinal results:")
	for _, r := range results {
		cmd.Printf("%-24s %.4f\n", r.SampleName, r.ARI)
	}
	cmd.Printf("\nResults saved to %s\n", reportPath)
	return nil
}

// applyARIFlags overrides configuration values with the flags given on the
// command line
func applyARIFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("ref") {
		cfg.Evaluation.ReferenceDir, _ = flags.GetString("ref")
	}
	if flags.Changed("seg") {
		cfg.Evaluation.SegmentationDir, _ = flags.GetString("seg")
	}
	if flags.Changed("output") {
		cfg.Evaluation.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("ledger") {
		cfg.Output.Ledger, _ = flags.GetString("ledger")
	}
}

// recordEvaluation appends the evaluation to the ledger
func recordEvaluation(ctx context.Context, cfg *config.Config, results []evaluation.Result, started time.Time) error {
	store, err := ledger.Open(ctx, cfg.Output.Ledger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	ev := ledger.Evaluation{
		ID:         uuid.NewString(),
		Folder:     cfg.Evaluation.SegmentationDir,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Results:    results,
	}
	if err := store.RecordARI(ctx, ev); err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	return nil
}
