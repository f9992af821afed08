// Package cli implements the imganalysis command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/claudiasc89/image-analysis-portfolio/pkg/config"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/logger"
)

var (
	// version is set at build time with -ldflags
	version = "dev"

	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "imganalysis",
	Short: "Focus-guided Z projection of time-lapse microscopy stacks",
	Long: `imganalysis projects every timepoint of (T, Z, Y, X) TIFF acquisitions
around its best-focused slice and records which slices were used.
It can also score segmentation masks against curated references.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration and applies its logging level
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if err := logger.SetLevelString(cfg.Logging.Level); err != nil {
		return nil, err
	}
	if verbose {
		logger.SetLevel(slog.LevelDebug)
	}
	return cfg, nil
}
