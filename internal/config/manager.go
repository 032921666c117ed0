package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides (LOGLENS_ANALYTICS_ZSCORE_THRESHOLD).
const EnvPrefix = "LOGLENS"

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"timeseries":       "input.timeseries_path",
	"entries":          "input.entries_path",
	"out":              "output.report_path",
	"pretty":           "output.pretty",
	"sqlite":           "output.sqlite_path",
	"metrics-textfile": "output.metrics_textfile",
	"max-gap":          "analytics.max_gap_minutes",
	"threshold":        "analytics.zscore_threshold",
	"multivariate":     "analytics.enable_multivariate",
	"top-fraction":     "analytics.top_fraction",
	"seed":             "analytics.isolation_forest.seed",
	"workers":          "analytics.isolation_forest.workers",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"log-file":         "logging.file_path",
	"journal":          "logging.journal_path",
}

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once

	mu     sync.RWMutex
	config *Config
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// Set environment variable prefix
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// BindFlags binds the flags of fs that loglens knows about. Unknown flags are ignored.
func (m *viperConfigManager) BindFlags(fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := m.viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.setDefaults()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
		if err := m.readConfigFile(); err != nil {
			return err
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// readConfigFile reads the YAML file. A file that does not exist is not an
// error: defaults, env vars and flags still apply.
func (m *viperConfigManager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return JoinValidationErrors(m.Get(ctx).Validate())
}

// JoinValidationErrors combines validation errors into a single error, or nil.
func JoinValidationErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	errMsgs := make([]string, 0, len(errs))
	for _, err := range errs {
		errMsgs = append(errMsgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
}

// Watch watches the config file for changes. The returned channel holds at
// most one pending update; changes arriving while it is full are dropped.
// Without a config file the channel never fires.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	if m.configPath == "" {
		return m.watchChan
	}
	m.watchOnce.Do(func() {
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			if ctx.Err() != nil {
				return
			}
			if err := m.unmarshalConfig(); err != nil {
				return
			}
			select {
			case m.watchChan <- *m.Get(ctx):
			default:
				// Channel full, skip this update
			}
		})
		m.viper.WatchConfig()
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.configPath != "" {
		if err := m.readConfigFile(); err != nil {
			return err
		}
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Input defaults
	m.viper.SetDefault("input.timeseries_path", defaults.Input.TimeseriesPath)
	m.viper.SetDefault("input.entries_path", defaults.Input.EntriesPath)

	// Dataset defaults
	m.viper.SetDefault("dataset.default_text", defaults.Dataset.DefaultText)
	m.viper.SetDefault("dataset.unknown_source", defaults.Dataset.UnknownSource)
	m.viper.SetDefault("dataset.naive_timezone", defaults.Dataset.NaiveTimezone)

	// Analytics defaults
	m.viper.SetDefault("analytics.max_gap_minutes", defaults.Analytics.MaxGapMinutes)
	m.viper.SetDefault("analytics.completeness_cutoff_seconds", defaults.Analytics.CompletenessCutoffSeconds)
	m.viper.SetDefault("analytics.moving_average_window", defaults.Analytics.MovingAverageWindow)
	m.viper.SetDefault("analytics.zscore_threshold", defaults.Analytics.ZScoreThreshold)
	m.viper.SetDefault("analytics.trend_window", defaults.Analytics.TrendWindow)
	m.viper.SetDefault("analytics.enable_multivariate", defaults.Analytics.EnableMultivariate)
	m.viper.SetDefault("analytics.top_fraction", defaults.Analytics.TopFraction)
	m.viper.SetDefault("analytics.feature_columns", defaults.Analytics.FeatureColumns)
	m.viper.SetDefault("analytics.isolation_forest.num_trees", defaults.Analytics.IsolationForest.NumTrees)
	m.viper.SetDefault("analytics.isolation_forest.max_samples", defaults.Analytics.IsolationForest.MaxSamples)
	m.viper.SetDefault("analytics.isolation_forest.seed", defaults.Analytics.IsolationForest.Seed)
	m.viper.SetDefault("analytics.isolation_forest.workers", defaults.Analytics.IsolationForest.Workers)
	m.viper.SetDefault("analytics.correlation_top_n", defaults.Analytics.CorrelationTopN)
	m.viper.SetDefault("analytics.source_activity_top_n", defaults.Analytics.SourceActivityTopN)
	m.viper.SetDefault("analytics.error_messages_top_n", defaults.Analytics.ErrorMessagesTopN)
	m.viper.SetDefault("analytics.ip_frequency_top_n", defaults.Analytics.IPFrequencyTopN)

	// Output defaults
	m.viper.SetDefault("output.report_path", defaults.Output.ReportPath)
	m.viper.SetDefault("output.pretty", defaults.Output.Pretty)
	m.viper.SetDefault("output.sqlite_path", defaults.Output.SQLitePath)
	m.viper.SetDefault("output.metrics_textfile", defaults.Output.MetricsTextfile)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file_path", defaults.Logging.FilePath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
	m.viper.SetDefault("logging.journal_path", defaults.Logging.JournalPath)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Input
	cfg.Input.TimeseriesPath = m.viper.GetString("input.timeseries_path")
	cfg.Input.EntriesPath = m.viper.GetString("input.entries_path")

	// Dataset
	cfg.Dataset.DefaultText = m.viper.GetString("dataset.default_text")
	cfg.Dataset.UnknownSource = m.viper.GetString("dataset.unknown_source")
	cfg.Dataset.NaiveTimezone = m.viper.GetString("dataset.naive_timezone")

	// Analytics
	cfg.Analytics.MaxGapMinutes = m.viper.GetInt("analytics.max_gap_minutes")
	cfg.Analytics.CompletenessCutoffSeconds = m.viper.GetInt("analytics.completeness_cutoff_seconds")
	cfg.Analytics.MovingAverageWindow = m.viper.GetInt("analytics.moving_average_window")
	cfg.Analytics.ZScoreThreshold = m.viper.GetFloat64("analytics.zscore_threshold")
	cfg.Analytics.TrendWindow = m.viper.GetInt("analytics.trend_window")
	cfg.Analytics.EnableMultivariate = m.viper.GetBool("analytics.enable_multivariate")
	cfg.Analytics.TopFraction = m.viper.GetFloat64("analytics.top_fraction")
	cfg.Analytics.FeatureColumns = splitColumns(m.viper.GetStringSlice("analytics.feature_columns"))
	cfg.Analytics.IsolationForest.NumTrees = m.viper.GetInt("analytics.isolation_forest.num_trees")
	cfg.Analytics.IsolationForest.MaxSamples = m.viper.GetInt("analytics.isolation_forest.max_samples")
	cfg.Analytics.IsolationForest.Seed = m.viper.GetInt64("analytics.isolation_forest.seed")
	cfg.Analytics.IsolationForest.Workers = m.viper.GetInt("analytics.isolation_forest.workers")
	cfg.Analytics.CorrelationTopN = m.viper.GetInt("analytics.correlation_top_n")
	cfg.Analytics.SourceActivityTopN = m.viper.GetInt("analytics.source_activity_top_n")
	cfg.Analytics.ErrorMessagesTopN = m.viper.GetInt("analytics.error_messages_top_n")
	cfg.Analytics.IPFrequencyTopN = m.viper.GetInt("analytics.ip_frequency_top_n")

	// Output
	cfg.Output.ReportPath = m.viper.GetString("output.report_path")
	cfg.Output.Pretty = m.viper.GetBool("output.pretty")
	cfg.Output.SQLitePath = m.viper.GetString("output.sqlite_path")
	cfg.Output.MetricsTextfile = m.viper.GetString("output.metrics_textfile")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")
	cfg.Logging.JournalPath = m.viper.GetString("logging.journal_path")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// splitColumns accepts both YAML lists and comma-separated env values.
func splitColumns(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
