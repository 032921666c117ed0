package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-loglens/internal/analytics/breakdown"
	"github.com/kubilitics/kubilitics-loglens/internal/analytics/correlation"
	"github.com/kubilitics/kubilitics-loglens/internal/analytics/ml"
	"github.com/kubilitics/kubilitics-loglens/internal/analytics/timeseries"
	"github.com/kubilitics/kubilitics-loglens/internal/audit"
	"github.com/kubilitics/kubilitics-loglens/internal/config"
	"github.com/kubilitics/kubilitics-loglens/internal/dataset"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// Stage names used in notices, timings and the run journal.
const (
	StageInput        = "input"
	StageTrim         = "trim"
	StageSeries       = "series"
	StageUnivariate   = "univariate"
	StageStatistics   = "statistics"
	StageTrend        = "trend"
	StageMultivariate = "multivariate"
	StageCorrelation  = "correlation"
	StageBreakdowns   = "breakdowns"
)

// Options tunes every stage of a run.
type Options struct {
	Defaults            dataset.Defaults
	MaxGap              time.Duration
	Trim                timeseries.TrimOptions
	MovingAverageWindow int
	ZScoreThreshold     float64
	TrendWindow         int
	EnableMultivariate  bool
	TopFraction         float64
	FeatureColumns      []string
	Forest              ml.Config
	CorrelationTopN     int
	SourceTopN          int
	MessageTopN         int
	AddressTopN         int
}

// DefaultOptions returns the stock options.
func DefaultOptions() Options {
	return Options{
		Defaults:            dataset.DefaultDefaults(),
		MaxGap:              timeseries.DefaultMaxGap,
		Trim:                timeseries.DefaultTrimOptions(),
		MovingAverageWindow: anomaly.DefaultWindow,
		ZScoreThreshold:     anomaly.DefaultThreshold,
		TrendWindow:         DefaultTrendWindow,
		EnableMultivariate:  true,
		TopFraction:         anomaly.DefaultTopFraction,
		FeatureColumns:      anomaly.DefaultFeatureColumns,
		Forest:              ml.DefaultConfig(),
		CorrelationTopN:     correlation.DefaultTopN,
		SourceTopN:          breakdown.DefaultSourceTopN,
		MessageTopN:         breakdown.DefaultMessageTopN,
		AddressTopN:         breakdown.DefaultAddressTopN,
	}
}

// OptionsFromConfig maps a validated configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	a := cfg.Analytics
	return Options{
		Defaults: dataset.Defaults{
			Text:          cfg.Dataset.DefaultText,
			UnknownSource: cfg.Dataset.UnknownSource,
			NaiveLocation: cfg.NaiveLocation(),
		},
		MaxGap:              cfg.MaxGap(),
		Trim:                timeseries.TrimOptions{CompletenessCutoff: cfg.CompletenessCutoff()},
		MovingAverageWindow: a.MovingAverageWindow,
		ZScoreThreshold:     a.ZScoreThreshold,
		TrendWindow:         a.TrendWindow,
		EnableMultivariate:  a.EnableMultivariate,
		TopFraction:         a.TopFraction,
		FeatureColumns:      append([]string(nil), a.FeatureColumns...),
		Forest: ml.Config{
			NumTrees:   a.IsolationForest.NumTrees,
			MaxSamples: a.IsolationForest.MaxSamples,
			Seed:       a.IsolationForest.Seed,
			Workers:    a.IsolationForest.Workers,
		},
		CorrelationTopN: a.CorrelationTopN,
		SourceTopN:      a.SourceActivityTopN,
		MessageTopN:     a.ErrorMessagesTopN,
		AddressTopN:     a.IPFrequencyTopN,
	}
}

// Input is the pair of tables a run analyses.
type Input struct {
	Aggregate *dataset.AggregateTable
	Events    *dataset.EventTable
}

// LoadInput reads both tables and reconciles their zones. A missing aggregate
// file is fatal and wraps dataset.ErrAggregateMissing; a missing events file
// is not.
func LoadInput(timeseriesPath, entriesPath string, d dataset.Defaults) (*Input, error) {
	agg, err := dataset.LoadAggregate(timeseriesPath, d)
	if err != nil {
		return nil, err
	}
	events := &dataset.EventTable{Absent: true}
	if entriesPath != "" {
		events, err = dataset.LoadEvents(entriesPath, d)
		if err != nil {
			return nil, err
		}
	}
	agg, events = dataset.Reconcile(agg, events)
	return &Input{Aggregate: agg, Events: events}, nil
}

// Pipeline runs the analysis stages in order over one Input.
type Pipeline struct {
	opts    Options
	logger  *zap.Logger
	journal audit.Logger
	model   anomaly.OutlierModel
	engine  *Engine

	now   func() time.Time
	newID func() string
}

// NewPipeline creates a pipeline. A nil logger or journal is replaced by a
// no-op. The outlier model is an isolation forest unless multivariate
// scoring is disabled.
func NewPipeline(opts Options, logger *zap.Logger, journal audit.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if journal == nil {
		journal = audit.NewNopLogger()
	}
	var model anomaly.OutlierModel = ml.NewIsolationForest(opts.Forest)
	if !opts.EnableMultivariate {
		model = anomaly.UnavailableModel{Reason: "multivariate scoring disabled"}
	}
	return &Pipeline{
		opts:    opts,
		logger:  logger,
		journal: journal,
		model:   model,
		engine:  NewEngine(opts.TrendWindow),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// WithModel replaces the outlier model.
func (p *Pipeline) WithModel(model anomaly.OutlierModel) *Pipeline {
	p.model = model
	return p
}

// run carries the state of a single Run call.
type run struct {
	*Pipeline
	ctx    context.Context
	logger *zap.Logger // carries run_id
	report *Report
}

// Run analyses in and returns the Report. Only a missing aggregate table or
// a cancelled context fail the run; every other shortfall becomes a Notice.
func (p *Pipeline) Run(ctx context.Context, in *Input) (*Report, error) {
	started := p.now()
	runID := p.newID()
	ctx = audit.ContextWithRunID(ctx, runID)
	log := p.logger.With(zap.String("run_id", runID))

	if in == nil || in.Aggregate == nil {
		err := fmt.Errorf("run %s: %w", runID, dataset.ErrAggregateMissing)
		_ = p.journal.LogRunFailed(ctx, runID, err)
		return nil, err
	}
	events := in.Events
	if events == nil {
		events = &dataset.EventTable{Absent: true}
	}
	// Every stage joins on the same instants, so zones are aligned once here.
	agg, events := dataset.Reconcile(in.Aggregate, events)

	_ = p.journal.LogRunStarted(ctx, runID, map[string]interface{}{
		"buckets": len(agg.Buckets),
		"events":  len(events.Events),
	})
	log.Info("Analysis started",
		zap.Int("buckets", len(agg.Buckets)),
		zap.Int("events", len(events.Events)),
	)

	r := &run{
		Pipeline: p,
		ctx:      ctx,
		logger:   log,
		report: &Report{
			RunID:       runID,
			GeneratedAt: started.UTC(),
			Series:      []models.Series{},
			Notices:     []Notice{},
		},
	}
	if err := r.execute(agg, events); err != nil {
		log.Error("Analysis failed", zap.Error(err))
		_ = p.journal.LogRunFailed(ctx, runID, err)
		return nil, err
	}

	r.report.Duration = p.now().Sub(started)
	_ = p.journal.LogRunCompleted(ctx, runID, r.report.Duration)
	log.Info("Analysis completed",
		zap.Duration("duration", r.report.Duration),
		zap.Int("notices", len(r.report.Notices)),
	)
	return r.report, nil
}

func (r *run) execute(agg *dataset.AggregateTable, events *dataset.EventTable) error {
	r.summarizeInput(agg, events)

	var trimmed *dataset.AggregateTable
	r.stage(StageTrim, func() {
		var res timeseries.TrimResult
		trimmed, res = timeseries.TrimPartialFinalBucket(agg, events, r.opts.Trim)
		r.report.Trim = res
		if res.Trimmed {
			r.notice(StageTrim, NoticeInfo, fmt.Sprintf(
				"dropped final bucket covered for %s (cutoff %s)", res.Covered, r.opts.Trim.CompletenessCutoff))
		}
		if res.Reconciled {
			r.notice(StageTrim, NoticeInfo, "reconciled time zones of the aggregate and event tables")
		}
	})
	if err := r.ctx.Err(); err != nil {
		return err
	}

	builder := timeseries.NewBuilder(r.opts.MaxGap)
	instants := trimmed.Instants()
	totals := trimmed.Column(models.TotalColumn)

	r.stage(StageSeries, func() {
		r.report.Series = append(r.report.Series, builder.Volume(trimmed)...)
		if !trimmed.HasColumn(models.TotalColumn) {
			r.notice(StageSeries, NoticeDegraded, "aggregate table has no total column; volume treated as 0")
		}
	})

	r.stage(StageUnivariate, func() {
		if len(instants) == 0 {
			r.skip(StageUnivariate, "aggregate table has no buckets")
			return
		}
		uni := anomaly.NewUnivariateScorer(r.opts.MovingAverageWindow, r.opts.ZScoreThreshold).Score(instants, totals)
		r.report.Univariate = uni
		r.report.Series = append(r.report.Series,
			builder.Values(MovingAverageSeries, instants, uni.MovingAverage),
			builder.Values(ZScoreSeries, instants, uni.ZScores),
		)
		r.logger.Debug("Univariate scoring done",
			zap.Float64("mean", uni.Mean),
			zap.Float64("stddev", uni.StdDev),
			zap.Int("breaches", uni.Breaches),
		)
	})

	r.stage(StageStatistics, func() {
		stats, err := r.engine.CalculateStatistics(totals)
		if err != nil {
			r.skip(StageStatistics, err.Error())
			return
		}
		r.report.Statistics = stats
	})

	r.stage(StageTrend, func() {
		trend, err := r.engine.AnalyzeTrend(instants, totals)
		if err != nil {
			r.skip(StageTrend, err.Error())
			return
		}
		r.report.Trend = trend
	})
	if err := r.ctx.Err(); err != nil {
		return err
	}

	var fatal error
	r.stage(StageMultivariate, func() {
		fatal = r.multivariate(trimmed, events)
	})
	if fatal != nil {
		return fatal
	}

	r.stage(StageCorrelation, func() {
		m, ok := correlation.NewCorrelator(r.opts.CorrelationTopN).Correlate(events)
		if !ok {
			r.skip(StageCorrelation, "fewer than 2 sources with events")
			return
		}
		r.report.Correlation = m
	})

	r.stage(StageBreakdowns, func() {
		b := &breakdown.Builder{
			SourceTopN:  r.opts.SourceTopN,
			MessageTopN: r.opts.MessageTopN,
			AddressTopN: r.opts.AddressTopN,
		}
		bd := b.Build(trimmed, events)
		r.report.Breakdowns = bd
		if bd.LevelsFromAgg {
			r.notice(StageBreakdowns, NoticeDegraded, "level distribution taken from aggregate columns")
		}
		if bd.LevelHeatmap == nil {
			r.notice(StageBreakdowns, NoticeSkipped, "level heatmap needs at least 2 buckets")
		}
	})
	return r.ctx.Err()
}

func (r *run) summarizeInput(agg *dataset.AggregateTable, events *dataset.EventTable) {
	r.report.Inputs = InputSummary{
		Columns:        append([]string(nil), agg.Columns...),
		Buckets:        len(agg.Buckets),
		DroppedBuckets: agg.Dropped,
		Events:         len(events.Events),
		DroppedEvents:  events.Dropped,
		EventsAbsent:   events.Absent,
	}
	if events.Absent {
		r.notice(StageInput, NoticeDegraded, "events table not found; event-derived results are empty")
		_ = r.journal.LogStage(r.ctx, r.report.RunID, audit.EventInputDegraded, "entries", "file not found")
	}
	if agg.Dropped > 0 {
		r.notice(StageInput, NoticeInfo, fmt.Sprintf("dropped %d aggregate rows with unparsable minute_iso", agg.Dropped))
	}
	if events.Dropped > 0 {
		r.notice(StageInput, NoticeInfo, fmt.Sprintf("dropped %d event rows with unparsable timestamp_iso", events.Dropped))
	}
}

// multivariate runs the outlier model. It returns an error only for a
// cancelled context; any model failure skips the stage.
func (r *run) multivariate(agg *dataset.AggregateTable, events *dataset.EventTable) error {
	scorer := anomaly.NewMultivariateScorer(r.model)
	if len(r.opts.FeatureColumns) > 0 {
		scorer.Candidates = r.opts.FeatureColumns
	}
	if r.opts.TopFraction > 0 {
		scorer.TopFraction = r.opts.TopFraction
	}

	res, err := scorer.Score(r.ctx, agg, events)
	switch {
	case errors.Is(err, anomaly.ErrModelUnavailable):
		r.logger.Warn("Multivariate scoring skipped", zap.Error(err))
		r.skip(StageMultivariate, err.Error())
		return nil
	case err != nil:
		if ctxErr := r.ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logger.Warn("Multivariate scoring failed", zap.Error(err))
		r.skip(StageMultivariate, fmt.Sprintf("multivariate scoring failed: %v", err))
		return nil
	case res == nil:
		r.skip(StageMultivariate, "no buckets or feature columns to score")
		return nil
	}

	r.report.Multivariate = res
	if res.Degraded {
		r.notice(StageMultivariate, NoticeDegraded, fmt.Sprintf(
			"fewer than 2 usable features; scored on %v", res.Features))
		_ = r.journal.LogStage(r.ctx, r.report.RunID, audit.EventStageDegraded, StageMultivariate, "insufficient features")
	}
	r.logger.Debug("Multivariate scoring done",
		zap.Strings("features", res.Features),
		zap.Int("flagged", len(res.Flagged)),
	)
	return nil
}

// stage runs fn and records its duration.
func (r *run) stage(name string, fn func()) {
	start := r.now()
	fn()
	r.report.Timings = append(r.report.Timings, StageTiming{Stage: name, Duration: r.now().Sub(start)})
}

func (r *run) notice(stage string, kind NoticeKind, msg string) {
	r.report.Notices = append(r.report.Notices, Notice{Stage: stage, Kind: kind, Message: msg})
	r.logger.Info("Notice", zap.String("stage", stage), zap.String("kind", string(kind)), zap.String("message", msg))
}

// skip records a stage that produced no result.
func (r *run) skip(stage, reason string) {
	r.notice(stage, NoticeSkipped, reason)
	_ = r.journal.LogStage(r.ctx, r.report.RunID, audit.EventStageSkipped, stage, reason)
}
