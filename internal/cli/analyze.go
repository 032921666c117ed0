package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics"
	"github.com/kubilitics/kubilitics-loglens/internal/audit"
	"github.com/kubilitics/kubilitics-loglens/internal/config"
	"github.com/kubilitics/kubilitics-loglens/internal/db"
	"github.com/kubilitics/kubilitics-loglens/internal/logging"
	"github.com/kubilitics/kubilitics-loglens/internal/metrics"
	"github.com/kubilitics/kubilitics-loglens/internal/report"
)

// Sink names used in logs, the journal and metrics.
const (
	sinkSQLite  = "sqlite"
	sinkMetrics = "metrics_textfile"
)

type analyzeOptions struct {
	watch bool
	quiet bool
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var o analyzeOptions
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyse the aggregate and event tables and write a report",
		Example: `  loglens analyze --timeseries output/timeseries_per_minute.csv --entries output/entries.csv
  loglens analyze --config loglens.yaml --sqlite runs.db --metrics-textfile /var/lib/node_exporter/loglens.prom
  loglens analyze --config loglens.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runAnalyze(ctx, cmd, o)
		},
	}

	f := cmd.Flags()
	f.String("timeseries", defaults.Input.TimeseriesPath, "per-minute aggregate CSV")
	f.String("entries", defaults.Input.EntriesPath, "raw event CSV (optional)")
	f.String("out", defaults.Output.ReportPath, "report JSON path")
	f.Bool("pretty", defaults.Output.Pretty, "indent the report JSON")
	f.String("sqlite", "", "also store the report in this SQLite database")
	f.String("metrics-textfile", "", "also write run metrics to this node-exporter textfile")
	f.Int("max-gap", defaults.Analytics.MaxGapMinutes, "minutes between buckets before a gap marker is inserted")
	f.Float64("threshold", defaults.Analytics.ZScoreThreshold, "absolute z-score that counts as a breach")
	f.Bool("multivariate", defaults.Analytics.EnableMultivariate, "run the isolation forest scorer")
	f.Float64("top-fraction", defaults.Analytics.TopFraction, "fraction of buckets flagged by the multivariate scorer")
	f.Int64("seed", defaults.Analytics.IsolationForest.Seed, "isolation forest seed")
	f.Int("workers", defaults.Analytics.IsolationForest.Workers, "tree-building workers (0 = GOMAXPROCS)")
	f.String("log-level", defaults.Logging.Level, "log level (debug, info, warn, error)")
	f.String("log-format", defaults.Logging.Format, "log format (console, json)")
	f.String("log-file", "", "also write logs to this rotated file")
	f.String("journal", "", "append run lifecycle events to this journal file")
	f.BoolVar(&o.watch, "watch", false, "re-run whenever the config file changes")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "do not print the run summary")

	return cmd
}

// loadConfig builds the configuration from defaults, the config file,
// LOGLENS_* variables and the flags of cmd, in rising precedence.
func (a *app) loadConfig(ctx context.Context, cmd *cobra.Command) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.BindFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, err
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}

func (a *app) runAnalyze(ctx context.Context, cmd *cobra.Command, o analyzeOptions) error {
	mgr, cfg, err := a.loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	if o.watch && a.configPath == "" {
		return errors.New("--watch requires --config")
	}

	logger, err := logging.NewWithWriter(loggingConfig(cfg), a.stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	journal, err := newJournal(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open run journal: %w", err)
	}
	defer journal.Close()

	r := &runner{app: a, logger: logger, journal: journal, recorder: metrics.NewRecorder(), quiet: o.quiet}

	if _, err := r.analyze(ctx, cfg); err != nil {
		if !o.watch {
			return err
		}
		logger.Error("Analysis failed", zap.Error(err))
	}
	if !o.watch {
		return nil
	}

	// Logging and journal settings keep their startup values while watching.
	logger.Info("Watching config file", zap.String("path", a.configPath))
	return r.watch(ctx, mgr, mgr.Watch(ctx))
}

// watch re-runs the analysis for every config change until ctx is done.
// Updates only signal a change: the file is re-read through mgr so that a
// change dropped while the channel was full is still picked up.
func (r *runner) watch(ctx context.Context, mgr config.ConfigManager, updates <-chan config.Config) error {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Watch stopped")
			return nil
		case <-updates:
			if err := mgr.Reload(ctx); err != nil {
				r.logger.Error("Config reload failed", zap.Error(err))
				continue
			}
			if err := mgr.Validate(ctx); err != nil {
				r.logger.Error("Ignoring invalid configuration", zap.Error(err))
				continue
			}
			if _, err := r.analyze(ctx, mgr.Get(ctx)); err != nil {
				r.logger.Error("Analysis failed", zap.Error(err))
			}
		}
	}
}

func loggingConfig(cfg *config.Config) logging.Config {
	l := cfg.Logging
	return logging.Config{
		Level:      l.Level,
		Format:     l.Format,
		FilePath:   l.FilePath,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// newJournal opens the run journal, or a no-op when none is configured.
func newJournal(cfg *config.Config, logger *zap.Logger) (audit.Logger, error) {
	if cfg.Logging.JournalPath == "" {
		return audit.NewNopLogger(), nil
	}
	jc := audit.DefaultConfig()
	jc.JournalPath = cfg.Logging.JournalPath
	jc.MaxSize = cfg.Logging.MaxSizeMB
	jc.MaxBackups = cfg.Logging.MaxBackups
	jc.MaxAge = cfg.Logging.MaxAgeDays
	jc.Compress = cfg.Logging.Compress
	return audit.NewLogger(jc, logger)
}

// runner performs analyses with long-lived logging and metrics.
type runner struct {
	*app
	logger   *zap.Logger
	journal  audit.Logger
	recorder *metrics.Recorder
	quiet    bool
}

// analyze runs the pipeline once and delivers the report to every
// configured sink. Only a failure to produce or write the report is
// returned; optional sinks are reported and skipped.
func (r *runner) analyze(ctx context.Context, cfg *config.Config) (*analytics.Report, error) {
	opts := analytics.OptionsFromConfig(cfg)

	in, err := analytics.LoadInput(cfg.Input.TimeseriesPath, cfg.Input.EntriesPath, opts.Defaults)
	if err != nil {
		r.recorder.ObserveFailure()
		return nil, err
	}

	rep, err := analytics.NewPipeline(opts, r.logger, r.journal).Run(ctx, in)
	if err != nil {
		r.recorder.ObserveFailure()
		return nil, err
	}

	if err := report.WriteFile(cfg.Output.ReportPath, rep, cfg.Output.Pretty); err != nil {
		r.recorder.ObserveFailure()
		return nil, err
	}
	r.logger.Info("Report written",
		zap.String("run_id", rep.RunID),
		zap.String("path", cfg.Output.ReportPath),
	)
	r.recorder.Observe(rep)

	if path := cfg.Output.SQLitePath; path != "" {
		if err := saveReport(ctx, path, rep); err != nil {
			r.sinkFailed(ctx, sinkSQLite, rep.RunID, err)
		}
	}
	if path := cfg.Output.MetricsTextfile; path != "" {
		if err := r.recorder.WriteTextfile(path); err != nil {
			r.sinkFailed(ctx, sinkMetrics, rep.RunID, err)
		}
	}
	_ = r.journal.Sync()

	if !r.quiet {
		if err := report.Summarize(r.stdout, rep); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func saveReport(ctx context.Context, path string, rep *analytics.Report) error {
	store, err := db.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveReport(ctx, rep)
}

func (r *runner) sinkFailed(ctx context.Context, sink, runID string, err error) {
	r.logger.Warn("Report sink failed",
		zap.String("run_id", runID),
		zap.String("sink", sink),
		zap.Error(err),
	)
	r.recorder.SinkFailed(sink)
	_ = r.journal.Log(ctx, audit.NewEvent(audit.EventSinkFailed).
		WithRunID(runID).
		WithStage(sink).
		WithResult(audit.ResultFailure).
		WithError(err, "sink_failed"))
	fmt.Fprintf(r.stderr, "warning: %s sink: %v\n", sink, err)
}
