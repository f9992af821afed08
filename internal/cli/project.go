package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/claudiasc89/image-analysis-portfolio/pkg/batch"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/config"
)

var projectCmd = &cobra.Command{
	Use:   "project [folder]",
	Short: "Project every matching acquisition of a folder",
	Long: `Projects each (T, Z, Y, X) TIFF stack of the folder whose name contains one
of the configured channels. For every timepoint the sharpest slice is found
and the slices within --z-range of it are reduced with the chosen rule.
Projected stacks and projection_report.xlsx are written to <folder>/projection
unless --output is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProject,
}

func init() {
	flags := projectCmd.Flags()
	flags.StringSlice("channels", nil, "channel name fragments selecting the files")
	flags.StringP("type", "t", "", "projection type: max or mean")
	flags.IntP("z-range", "z", 0, "slices projected above and below the best-focused one")
	flags.Int("workers", 0, "timepoints processed concurrently")
	flags.StringP("output", "o", "", "output directory")
	flags.Bool("previews", false, "save every projected plane as an image")
	flags.String("preview-format", "", "preview format: png, tif or jpg")
	flags.String("ledger", "", "SQLite database recording the run")
	flags.String("metrics-file", "", "Prometheus textfile written at the end of the run")

	rootCmd.AddCommand(projectCmd)
}

func runProject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyProjectFlags(cmd, args, cfg); err != nil {
		return err
	}

	runner, err := batch.NewRunner(cfg)
	if err != nil {
		return err
	}

	cmd.Println("================================")
	cmd.Println("FOCUS-GUIDED Z PROJECTION")
	cmd.Println("================================")
	cmd.Printf("Folder: %s\n", cfg.Input.Folder)
	cmd.Printf("Channels: %v\n", cfg.Input.Channels)
	cmd.Printf("Projection: %s, z range %d\n", cfg.Projection.Type, cfg.Projection.ZRange)

	summary, err := runner.Run(context.Background())

	cmd.Printf("\nFiles matched: %d\n", summary.FilesSeen)
	cmd.Printf("- projected: %d\n", summary.FilesProcessed)
	cmd.Printf("- skipped: %d\n", summary.FilesSkipped)
	cmd.Printf("- failed: %d\n", summary.FilesFailed)
	cmd.Printf("Total processing time: %.2f seconds\n", summary.Duration.Seconds())
	if summary.ReportPath != "" {
		cmd.Printf("Report saved to: %s\n", summary.ReportPath)
	}

	if err != nil {
		return fmt.Errorf("projection run %s: %w", summary.RunID, err)
	}
	return nil
}

// applyProjectFlags overrides configuration values with the flags given on
// the command line
func applyProjectFlags(cmd *cobra.Command, args []string, cfg *config.Config) error {
	flags := cmd.Flags()

	if len(args) == 1 {
		cfg.Input.Folder = args[0]
	}
	if flags.Changed("channels") {
		cfg.Input.Channels, _ = flags.GetStringSlice("channels")
	}
	if flags.Changed("type") {
		cfg.Projection.Type, _ = flags.GetString("type")
	}
	if flags.Changed("z-range") {
		cfg.Projection.ZRange, _ = flags.GetInt("z-range")
	}
	if flags.Changed("workers") {
		cfg.Projection.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("output") {
		cfg.Output.Dir, _ = flags.GetString("output")
	}
	if flags.Changed("previews") {
		cfg.Output.Previews, _ = flags.GetBool("previews")
	}
	if flags.Changed("preview-format") {
		cfg.Output.PreviewFormat, _ = flags.GetString("preview-format")
	}
	if flags.Changed("ledger") {
		cfg.Output.Ledger, _ = flags.GetString("ledger")
	}
	if flags.Changed("metrics-file") {
		cfg.Output.MetricsFile, _ = flags.GetString("metrics-file")
	}

	return cfg.Validate()
}
