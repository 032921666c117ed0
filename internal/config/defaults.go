package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Input defaults (the upstream analyzer's output directory)
	cfg.Input.TimeseriesPath = "output/timeseries_per_minute.csv"
	cfg.Input.EntriesPath = "output/entries.csv"

	// Dataset defaults
	cfg.Dataset.DefaultText = ""
	cfg.Dataset.UnknownSource = "unknown"
	cfg.Dataset.NaiveTimezone = "UTC"

	// Analytics defaults
	cfg.Analytics.MaxGapMinutes = 10
	cfg.Analytics.CompletenessCutoffSeconds = 50
	cfg.Analytics.MovingAverageWindow = 10
	cfg.Analytics.ZScoreThreshold = 3.0
	cfg.Analytics.TrendWindow = 50
	cfg.Analytics.EnableMultivariate = true
	cfg.Analytics.TopFraction = 0.01
	cfg.Analytics.FeatureColumns = []string{
		"total", "error", "warn", "critical", "anomalies", "malformed", "unique_sources", "unique_ips",
	}
	cfg.Analytics.IsolationForest.NumTrees = 200
	cfg.Analytics.IsolationForest.MaxSamples = 256
	cfg.Analytics.IsolationForest.Seed = 42
	cfg.Analytics.IsolationForest.Workers = 0
	cfg.Analytics.CorrelationTopN = 20
	cfg.Analytics.SourceActivityTopN = 15
	cfg.Analytics.ErrorMessagesTopN = 10
	cfg.Analytics.IPFrequencyTopN = 15

	// Output defaults
	cfg.Output.ReportPath = "report.json"
	cfg.Output.Pretty = true
	cfg.Output.SQLitePath = ""
	cfg.Output.MetricsTextfile = ""

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	cfg.Logging.FilePath = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = false
	cfg.Logging.JournalPath = ""

	return cfg
}
