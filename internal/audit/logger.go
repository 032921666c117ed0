package audit

// Package audit writes the run journal: an append-only JSON-lines record of
// each run's lifecycle (start, completion, failure) and of every stage that
// was skipped or degraded. The journal is separate from the application log
// so that it can be kept and queried independently.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kubilitics/kubilitics-loglens/internal/logging"
)

// Logger defines the interface for the run journal
type Logger interface {
	// Log logs a journal event
	Log(ctx context.Context, event *Event) error

	// Run lifecycle
	LogRunStarted(ctx context.Context, runID string, inputs map[string]interface{}) error
	LogRunCompleted(ctx context.Context, runID string, duration time.Duration) error
	LogRunFailed(ctx context.Context, runID string, err error) error

	// LogStage records a stage that did not run normally.
	LogStage(ctx context.Context, runID string, eventType EventType, stage, reason string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the journal
	Close() error
}

// Config represents run journal configuration
type Config struct {
	// JournalPath is the path to the journal file
	JournalPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// BufferSize is the number of events held before a forced flush
	BufferSize int

	// FlushInterval is how often buffered events are flushed; 0 disables
	// the background flush.
	FlushInterval time.Duration
}

// DefaultConfig returns default journal configuration
func DefaultConfig() *Config {
	return &Config{
		JournalPath:   "logs/journal.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// journalLogger implements the Logger interface
type journalLogger struct {
	appLogger     *zap.Logger
	journalLogger *zap.Logger
	config        *Config
	mu            sync.Mutex
	buffer        []*Event
	flushTicker   *time.Ticker
	stopCh        chan struct{}
	closeOnce     sync.Once
}

// NewLogger creates a new run journal. appLogger receives internal errors
// and may be nil.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.JournalPath == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}

	rotator := &lumberjack.Logger{
		Filename:   config.JournalPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel, // Journal entries are always INFO level
	)

	l := &journalLogger{
		appLogger:     appLogger.Named("journal"),
		journalLogger: zap.New(core),
		config:        config,
		buffer:        make([]*Event, 0, bufferSize),
		stopCh:        make(chan struct{}),
	}

	if config.FlushInterval > 0 {
		l.flushTicker = time.NewTicker(config.FlushInterval)
		go l.autoFlush()
	}

	return l, nil
}

// Log logs a journal event
func (l *journalLogger) Log(ctx context.Context, event *Event) error {
	if event.RunID == "" {
		event.RunID = RunIDFromContext(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	// Flush if buffer is full
	if len(l.buffer) >= cap(l.buffer) {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *journalLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal journal event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.journalLogger.Info(string(eventJSON),
			zap.String("run_id", event.RunID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *journalLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogRunStarted logs when a run starts
func (l *journalLogger) LogRunStarted(ctx context.Context, runID string, inputs map[string]interface{}) error {
	event := NewEvent(EventRunStarted).
		WithRunID(runID).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Run %s started", runID))
	for k, v := range inputs {
		event.WithMetadata(k, v)
	}

	return l.Log(ctx, event)
}

// LogRunCompleted logs when a run completes
func (l *journalLogger) LogRunCompleted(ctx context.Context, runID string, duration time.Duration) error {
	event := NewEvent(EventRunCompleted).
		WithRunID(runID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Run %s completed", runID))

	return l.Log(ctx, event)
}

// LogRunFailed logs when a run fails
func (l *journalLogger) LogRunFailed(ctx context.Context, runID string, err error) error {
	event := NewEvent(EventRunFailed).
		WithRunID(runID).
		WithError(err, "run_error").
		WithDescription(fmt.Sprintf("Run %s failed", runID))

	return l.Log(ctx, event)
}

// LogStage logs a skipped or degraded stage, or degraded input
func (l *journalLogger) LogStage(ctx context.Context, runID string, eventType EventType, stage, reason string) error {
	result := ResultDegraded
	if eventType == EventStageSkipped {
		result = ResultSkipped
	}
	if eventType == EventSinkFailed {
		result = ResultFailure
	}
	event := NewEvent(eventType).
		WithRunID(runID).
		WithResult(result).
		WithDescription(reason)
	if eventType == EventInputDegraded {
		event.WithInput(stage)
	} else {
		event.WithStage(stage)
	}

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *journalLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	return l.journalLogger.Sync()
}

// Close closes the journal
func (l *journalLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		if l.flushTicker != nil {
			l.flushTicker.Stop()
		}
	})

	return l.Sync()
}

// nopLogger discards every event.
type nopLogger struct{}

// NewNopLogger returns a journal that records nothing.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogRunStarted(context.Context, string, map[string]interface{}) error { return nil }
func (nopLogger) LogRunCompleted(context.Context, string, time.Duration) error { return nil }
func (nopLogger) LogRunFailed(context.Context, string, error) error { return nil }
func (nopLogger) LogStage(context.Context, string, EventType, string, string) error { return nil }
func (nopLogger) Sync() error { return nil }
func (nopLogger) Close() error { return nil }

type runIDKey struct{}

// RunIDFromContext extracts the run ID from context
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// ContextWithRunID adds the run ID to context
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}
