// Package config provides configuration loading and management.
// Values are layered from built-in defaults, an optional YAML file and
// IMGA_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/claudiasc89/image-analysis-portfolio/pkg/projection"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are
// separated by a double underscore, e.g. IMGA_PROJECTION__Z_RANGE=2.
const EnvPrefix = "IMGA_"

// Config represents the application configuration
type Config struct {
	// Input selects which files of a folder are projected
	Input struct {
		// Folder contains the acquisitions to project
		Folder string `yaml:"folder" koanf:"folder"`

		// Channels lists name fragments; a file is processed when its name
		// contains any of them
		Channels []string `yaml:"channels" koanf:"channels"`

		// Extension of the acquisition files, compared case-insensitively
		Extension string `yaml:"extension" koanf:"extension"`
	} `yaml:"input" koanf:"input"`

	// Projection parameters
	Projection struct {
		// Type is the reduction rule, max or mean
		Type string `yaml:"type" koanf:"type"`

		// ZRange is the number of slices projected above and below the
		// best-focused slice
		ZRange int `yaml:"z_range" koanf:"z_range"`

		// Workers is the number of timepoints processed concurrently
		Workers int `yaml:"workers" koanf:"workers"`
	} `yaml:"projection" koanf:"projection"`

	// Output parameters
	Output struct {
		// Dir receives projected stacks and the report; empty means
		// <folder>/projection
		Dir string `yaml:"dir" koanf:"dir"`

		// ReportName is the spreadsheet file name
		ReportName string `yaml:"report_name" koanf:"report_name"`

		// Previews saves every projected plane as an image
		Previews bool `yaml:"previews" koanf:"previews"`

		// PreviewFormat is png, tif or jpg
		PreviewFormat string `yaml:"preview_format" koanf:"preview_format"`

		// Ledger is an optional SQLite database recording every run
		Ledger string `yaml:"ledger" koanf:"ledger"`

		// MetricsFile is an optional Prometheus textfile written at the end
		// of a run
		MetricsFile string `yaml:"metrics_file" koanf:"metrics_file"`
	} `yaml:"output" koanf:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level" koanf:"level"`
	} `yaml:"logging" koanf:"logging"`

	// Evaluation configures the segmentation comparison
	Evaluation struct {
		// ReferenceDir holds the curated masks
		ReferenceDir string `yaml:"reference_dir" koanf:"reference_dir"`

		// SegmentationDir holds the masks under evaluation
		SegmentationDir string `yaml:"segmentation_dir" koanf:"segmentation_dir"`

		// OutputDir receives the report; empty means SegmentationDir
		OutputDir string `yaml:"output_dir" koanf:"output_dir"`

		// ReportName is the spreadsheet file name
		ReportName string `yaml:"report_name" koanf:"report_name"`
	} `yaml:"evaluation" koanf:"evaluation"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Folder = "."
	cfg.Input.Channels = []string{"WL508"}
	cfg.Input.Extension = ".tif"

	cfg.Projection.Type = string(projection.RuleMax)
	cfg.Projection.ZRange = 1
	cfg.Projection.Workers = 1

	cfg.Output.ReportName = "projection_report.xlsx"
	cfg.Output.PreviewFormat = "png"

	cfg.Logging.Level = "info"

	cfg.Evaluation.ReportName = "ARI_results.xlsx"

	return cfg
}

// Load builds a Config by layering defaults, the YAML file at configPath
// (skipped when empty or missing) and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	return cfg, nil
}

// Validate checks values the projection run depends on.
func (c *Config) Validate() error {
	if _, err := projection.ParseRule(c.Projection.Type); err != nil {
		return fmt.Errorf("%w: projection.type: %v", ErrInvalidConfig, err)
	}
	if c.Projection.ZRange < 0 {
		return fmt.Errorf("%w: projection.z_range must not be negative, got %d", ErrInvalidConfig, c.Projection.ZRange)
	}
	if c.Projection.Workers < 1 {
		return fmt.Errorf("%w: projection.workers must be at least 1, got %d", ErrInvalidConfig, c.Projection.Workers)
	}
	if len(c.Input.Channels) == 0 {
		return fmt.Errorf("%w: input.channels must not be empty", ErrInvalidConfig)
	}
	if c.Input.Folder == "" {
		return fmt.Errorf("%w: input.folder must not be empty", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Output.PreviewFormat) {
	case "png", "tif", "tiff", "jpg", "jpeg":
	default:
		return fmt.Errorf("%w: output.preview_format must be png, tif or jpg, got %q", ErrInvalidConfig, c.Output.PreviewFormat)
	}
	return nil
}

// OutputDir returns the directory receiving projections and the report.
func (c *Config) OutputDir() string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	return filepath.Join(c.Input.Folder, "projection")
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
