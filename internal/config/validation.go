package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate input configuration
	if strings.TrimSpace(c.Input.TimeseriesPath) == "" {
		errs = append(errs, &ValidationError{
			Field:   "input.timeseries_path",
			Message: "timeseries_path is required",
		})
	}

	// Validate dataset configuration
	if _, err := time.LoadLocation(c.Dataset.NaiveTimezone); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "dataset.naive_timezone",
			Message: fmt.Sprintf("unknown time zone '%s'", c.Dataset.NaiveTimezone),
		})
	}

	// Validate analytics configuration
	a := c.Analytics
	if a.MaxGapMinutes < 1 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.max_gap_minutes",
			Message: fmt.Sprintf("max_gap_minutes must be at least 1, got %d", a.MaxGapMinutes),
		})
	}

	if a.CompletenessCutoffSeconds < 1 || a.CompletenessCutoffSeconds > 60 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.completeness_cutoff_seconds",
			Message: fmt.Sprintf("completeness_cutoff_seconds must be between 1 and 60, got %d", a.CompletenessCutoffSeconds),
		})
	}

	if a.MovingAverageWindow < 1 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.moving_average_window",
			Message: fmt.Sprintf("moving_average_window must be at least 1, got %d", a.MovingAverageWindow),
		})
	}

	if a.ZScoreThreshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.zscore_threshold",
			Message: fmt.Sprintf("zscore_threshold must be positive, got %.2f", a.ZScoreThreshold),
		})
	}

	if a.TrendWindow < 2 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.trend_window",
			Message: fmt.Sprintf("trend_window must be at least 2, got %d", a.TrendWindow),
		})
	}

	if a.TopFraction <= 0 || a.TopFraction > 1 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.top_fraction",
			Message: fmt.Sprintf("top_fraction must be in (0, 1], got %.4f", a.TopFraction),
		})
	}

	if a.EnableMultivariate {
		if len(a.FeatureColumns) == 0 {
			errs = append(errs, &ValidationError{
				Field:   "analytics.feature_columns",
				Message: "feature_columns is required when enable_multivariate is true",
			})
		}
		if a.IsolationForest.NumTrees < 1 {
			errs = append(errs, &ValidationError{
				Field:   "analytics.isolation_forest.num_trees",
				Message: fmt.Sprintf("num_trees must be at least 1, got %d", a.IsolationForest.NumTrees),
			})
		}
		if a.IsolationForest.MaxSamples < 2 {
			errs = append(errs, &ValidationError{
				Field:   "analytics.isolation_forest.max_samples",
				Message: fmt.Sprintf("max_samples must be at least 2, got %d", a.IsolationForest.MaxSamples),
			})
		}
	}

	if a.IsolationForest.Workers < 0 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.isolation_forest.workers",
			Message: fmt.Sprintf("workers cannot be negative, got %d", a.IsolationForest.Workers),
		})
	}

	if a.CorrelationTopN < 2 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.correlation_top_n",
			Message: fmt.Sprintf("correlation_top_n must be at least 2, got %d", a.CorrelationTopN),
		})
	}

	for field, n := range map[string]int{
		"analytics.source_activity_top_n": a.SourceActivityTopN,
		"analytics.error_messages_top_n":  a.ErrorMessagesTopN,
		"analytics.ip_frequency_top_n":    a.IPFrequencyTopN,
	} {
		if n < 1 {
			errs = append(errs, &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("must be at least 1, got %d", n),
			})
		}
	}

	// Validate output configuration
	if strings.TrimSpace(c.Output.ReportPath) == "" {
		errs = append(errs, &ValidationError{
			Field:   "output.report_path",
			Message: "report_path is required",
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console", c.Logging.Format),
		})
	}

	if c.Logging.FilePath != "" && c.Logging.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1 when file_path is set, got %d", c.Logging.MaxSizeMB),
		})
	}

	return errs
}

// MaxGap returns analytics.max_gap_minutes as a duration.
func (c *Config) MaxGap() time.Duration {
	return time.Duration(c.Analytics.MaxGapMinutes) * time.Minute
}

// CompletenessCutoff returns analytics.completeness_cutoff_seconds as a duration.
func (c *Config) CompletenessCutoff() time.Duration {
	return time.Duration(c.Analytics.CompletenessCutoffSeconds) * time.Second
}

// NaiveLocation returns the zone for offset-less timestamps, UTC when unknown.
func (c *Config) NaiveLocation() *time.Location {
	loc, err := time.LoadLocation(c.Dataset.NaiveTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
