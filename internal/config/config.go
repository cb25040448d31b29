// Package config loads the application configuration from environment
// variables (prefix STREAMLYTICS) merged over an optional streamlytics.yaml
// file, environment taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// ConfigFileName is the optional YAML config file looked up in the working
// directory.
const ConfigFileName = "streamlytics.yaml"

// Config is the complete application configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	Analysis AnalysisConfig `yaml:"analysis" envconfig:"ANALYSIS"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/streamlytics.log"`
}

// PathsConfig locates the input datasets and the output directory.
type PathsConfig struct {
	DataDir       string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data" validate:"required"`
	ReportsDir    string `yaml:"reports_dir" envconfig:"REPORTS_DIR" default:"reports" validate:"required"`
	GlobalFile    string `yaml:"global_file" envconfig:"GLOBAL_FILE" default:"global_engagement.csv" validate:"required"`
	CategoryFile  string `yaml:"category_file" envconfig:"CATEGORY_FILE" default:"category_engagement.csv" validate:"required"`
	StreamersFile string `yaml:"streamers_file" envconfig:"STREAMERS_FILE" default:"top_streamers.csv" validate:"required"`
}

// AnalysisConfig carries the engine parameters. Dates use YYYY-MM.
type AnalysisConfig struct {
	BaselineCutoff string   `yaml:"baseline_cutoff" envconfig:"BASELINE_CUTOFF" default:"2020-02" validate:"required"`
	EventDates     []string `yaml:"event_dates" envconfig:"EVENT_DATES" default:"2020-03,2020-04" validate:"required,min=1"`

	MixedMaxIter int     `yaml:"mixed_max_iter" envconfig:"MIXED_MAX_ITER" default:"200" validate:"gte=10"`
	MixedTol     float64 `yaml:"mixed_tol" envconfig:"MIXED_TOL" default:"1e-9" validate:"gt=0"`

	ClusterKMin     int   `yaml:"cluster_k_min" envconfig:"CLUSTER_K_MIN" default:"2" validate:"gte=2"`
	ClusterKMax     int   `yaml:"cluster_k_max" envconfig:"CLUSTER_K_MAX" default:"8" validate:"gtefield=ClusterKMin"`
	ClusterRestarts int   `yaml:"cluster_restarts" envconfig:"CLUSTER_RESTARTS" default:"10" validate:"gte=1"`
	ClusterSeed     int64 `yaml:"cluster_seed" envconfig:"CLUSTER_SEED" default:"42"`
}

// Load builds the configuration: file values first if present, then
// environment overrides, then validation.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("STREAMLYTICS", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if _, err := os.Stat(ConfigFileName); err == nil {
		fileCfg, err := loadFromFile(ConfigFileName)
		if err != nil {
			return nil, fmt.Errorf("load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs fills empty env-derived fields from the file config; values
// set in the environment win.
func mergeConfigs(fileCfg, envCfg Config) Config {
	merged := envCfg
	defaults := defaultConfig()

	if merged.Logging == defaults.Logging && fileCfg.Logging != (LoggingConfig{}) {
		merged.Logging = fileCfg.Logging
	}
	if merged.Paths == defaults.Paths && fileCfg.Paths != (PathsConfig{}) {
		merged.Paths = fileCfg.Paths
	}
	if equalAnalysis(merged.Analysis, defaults.Analysis) && !equalAnalysis(fileCfg.Analysis, AnalysisConfig{}) {
		merged.Analysis = fileCfg.Analysis
	}
	return merged
}

func defaultConfig() Config {
	var cfg Config
	// Defaults come from the envconfig tags; processing with no matching
	// variables set yields exactly the default config.
	_ = envconfig.Process("STREAMLYTICS_DEFAULTS_ONLY", &cfg)
	return cfg
}

func equalAnalysis(a, b AnalysisConfig) bool {
	if len(a.EventDates) != len(b.EventDates) {
		return false
	}
	for i := range a.EventDates {
		if a.EventDates[i] != b.EventDates[i] {
			return false
		}
	}
	return a.BaselineCutoff == b.BaselineCutoff &&
		a.MixedMaxIter == b.MixedMaxIter &&
		a.MixedTol == b.MixedTol &&
		a.ClusterKMin == b.ClusterKMin &&
		a.ClusterKMax == b.ClusterKMax &&
		a.ClusterRestarts == b.ClusterRestarts &&
		a.ClusterSeed == b.ClusterSeed
}

// Validate runs struct tag validation plus cross-field checks.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Analysis.ClusterKMax < c.Analysis.ClusterKMin {
		return fmt.Errorf("cluster_k_max %d < cluster_k_min %d",
			c.Analysis.ClusterKMax, c.Analysis.ClusterKMin)
	}
	if _, err := c.Analysis.ParseCutoff(); err != nil {
		return err
	}
	if _, err := c.Analysis.ParseEventDates(); err != nil {
		return err
	}
	return nil
}

// GlobalPath returns the resolved path of the global panel file.
func (c *Config) GlobalPath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.GlobalFile)
}

// CategoryPath returns the resolved path of the category panel file.
func (c *Config) CategoryPath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.CategoryFile)
}

// StreamersPath returns the resolved path of the streamer snapshot file.
func (c *Config) StreamersPath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.StreamersFile)
}

// ParseCutoff parses the baseline cutoff month.
func (a AnalysisConfig) ParseCutoff() (time.Time, error) {
	return parseMonth(a.BaselineCutoff)
}

// ParseEventDates parses the configured event months.
func (a AnalysisConfig) ParseEventDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(a.EventDates))
	for _, s := range a.EventDates {
		t, err := parseMonth(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q (want YYYY-MM): %w", s, err)
	}
	return t.UTC(), nil
}
