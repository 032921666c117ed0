package config

import (
	"context"

	"github.com/spf13/pflag"
)

// Package config provides configuration management for loglens.
//
// Responsibilities:
//   - Load configuration from YAML files, environment variables, and CLI flags
//   - Validate configuration before a run starts
//   - Provide the analysis stages with their tunables in one place
//   - Notify watchers when the config file changes on disk
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (LOGLENS_* prefix, "." replaced by "_")
//   3. YAML config file (optional; --config)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Input
//      - timeseries_path: per-minute aggregate CSV
//      - entries_path: raw event CSV (optional file)
//
//   2. Dataset
//      - default_text: value for absent level/message columns
//      - unknown_source: replacement for blank sources
//      - naive_timezone: zone assumed for timestamps without an offset
//
//   3. Analytics
//      - max_gap_minutes, completeness_cutoff_seconds
//      - moving_average_window, zscore_threshold, trend_window
//      - enable_multivariate, top_fraction, feature_columns, isolation_forest.*
//      - correlation_top_n and the breakdown top-N limits
//
//   4. Output
//      - report_path, pretty, sqlite_path, metrics_textfile
//
//   5. Logging
//      - level, format, file_path (+ rotation), journal_path

// Config struct contains all configuration fields
type Config struct {
	// Input files
	Input struct {
		TimeseriesPath string
		EntriesPath    string
	}

	// Column defaults applied while building the tables
	Dataset struct {
		DefaultText   string
		UnknownSource string
		NaiveTimezone string
	}

	// Analytics configuration
	Analytics struct {
		MaxGapMinutes             int
		CompletenessCutoffSeconds int
		MovingAverageWindow       int
		ZScoreThreshold           float64
		TrendWindow               int
		EnableMultivariate        bool
		TopFraction               float64
		FeatureColumns            []string
		IsolationForest           struct {
			NumTrees   int
			MaxSamples int
			Seed       int64
			Workers    int // 0 means GOMAXPROCS
		}
		CorrelationTopN    int
		SourceActivityTopN int
		ErrorMessagesTopN  int
		IPFrequencyTopN    int
	}

	// Output sinks; empty paths disable the optional ones
	Output struct {
		ReportPath      string
		Pretty          bool
		SQLitePath      string
		MetricsTextfile string
	}

	// Logging configuration
	Logging struct {
		Level       string
		Format      string
		FilePath    string
		MaxSizeMB   int
		MaxBackups  int
		MaxAgeDays  int
		Compress    bool
		JournalPath string
	}
}

// ConfigManager manages configuration lifecycle.
type ConfigManager interface {
	// BindFlags binds the known command-line flags of fs to their config keys.
	BindFlags(fs *pflag.FlagSet) error

	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch delivers a fresh Config each time the config file changes.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
// An empty configPath means defaults, environment and flags only.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		viper:      newViper(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
