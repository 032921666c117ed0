package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		JournalPath: filepath.Join(t.TempDir(), "journal.log"),
		MaxSize:     10,
		MaxBackups:  3,
		BufferSize:  100,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read journal: %v", err)
	}
	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}
}

func TestNewLoggerRequiresPath(t *testing.T) {
	_, err := NewLogger(&Config{}, nil)
	if err == nil {
		t.Fatal("Expected error for empty journal path")
	}
	if !strings.Contains(err.Error(), "journal path") {
		t.Errorf("Expected 'journal path' error, got: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.JournalPath != "logs/journal.log" {
		t.Errorf("Expected journal path 'logs/journal.log', got %s", config.JournalPath)
	}
	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}
	if config.FlushInterval != time.Second {
		t.Errorf("Expected flush interval 1s, got %s", config.FlushInterval)
	}
}

func TestLogEvent(t *testing.T) {
	config := testConfig(t)
	logger, err := NewLogger(config, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	event := NewEvent(EventStageDegraded).
		WithRunID("run-123").
		WithStage("multivariate").
		WithResult(ResultDegraded).
		WithMetadata("features", 1)

	if err := logger.Log(context.Background(), event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	logContent := strings.Join(readLines(t, config.JournalPath), "\n")
	for _, want := range []string{"run-123", "stage.degraded", "multivariate"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Journal does not contain %q", want)
		}
	}
}

func TestRunIDFromContext(t *testing.T) {
	config := testConfig(t)
	logger, err := NewLogger(config, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	ctx := ContextWithRunID(context.Background(), "ctx-run")
	if got := RunIDFromContext(ctx); got != "ctx-run" {
		t.Errorf("Expected ctx-run, got %q", got)
	}
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Errorf("Expected empty run ID, got %q", got)
	}

	if err := logger.Log(ctx, NewEvent(EventInputDegraded)); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, config.JournalPath)
	if len(lines) != 1 || !strings.Contains(lines[0], "ctx-run") {
		t.Errorf("Expected run ID taken from context, got %v", lines)
	}
}

func TestLogRunLifecycle(t *testing.T) {
	config := testConfig(t)
	logger, err := NewLogger(config, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	ctx := context.Background()
	runID := "run-lifecycle"

	if err := logger.LogRunStarted(ctx, runID, map[string]interface{}{"buckets": 12}); err != nil {
		t.Fatalf("LogRunStarted failed: %v", err)
	}
	if err := logger.LogStage(ctx, runID, EventStageSkipped, "multivariate", "model unavailable"); err != nil {
		t.Fatalf("LogStage failed: %v", err)
	}
	if err := logger.LogStage(ctx, runID, EventInputDegraded, "entries", "file missing"); err != nil {
		t.Fatalf("LogStage failed: %v", err)
	}
	if err := logger.LogRunCompleted(ctx, runID, 250*time.Millisecond); err != nil {
		t.Fatalf("LogRunCompleted failed: %v", err)
	}
	if err := logger.LogRunFailed(ctx, runID, errors.New("boom")); err != nil {
		t.Fatalf("LogRunFailed failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, config.JournalPath)
	if len(lines) != 5 {
		t.Fatalf("Expected 5 journal lines, got %d", len(lines))
	}

	wantTypes := []EventType{EventRunStarted, EventStageSkipped, EventInputDegraded, EventRunCompleted, EventRunFailed}
	wantResults := []Result{ResultSuccess, ResultSkipped, ResultDegraded, ResultSuccess, ResultFailure}
	for i, line := range lines {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %d is not JSON: %v", i, err)
		}
		if entry["event_type"] != string(wantTypes[i]) {
			t.Errorf("line %d: expected event_type %s, got %v", i, wantTypes[i], entry["event_type"])
		}
		if entry["result"] != string(wantResults[i]) {
			t.Errorf("line %d: expected result %s, got %v", i, wantResults[i], entry["result"])
		}
		if entry["run_id"] != runID {
			t.Errorf("line %d: expected run_id %s, got %v", i, runID, entry["run_id"])
		}
	}
}

func TestBufferAutoFlush(t *testing.T) {
	config := testConfig(t)
	config.FlushInterval = 50 * time.Millisecond

	logger, err := NewLogger(config, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 5; i++ {
		if err := logger.Log(context.Background(), NewEvent(EventStageDegraded).WithRunID("auto")); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if content, err := os.ReadFile(config.JournalPath); err == nil && len(content) > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("Journal is empty after auto-flush")
}

func TestBufferFullFlush(t *testing.T) {
	config := testConfig(t)
	config.BufferSize = 10

	logger, err := NewLogger(config, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 25; i++ {
		if err := logger.Log(context.Background(), NewEvent(EventStageDegraded).WithRunID("full")); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	// Two full buffers were written without an explicit Sync.
	if got := len(readLines(t, config.JournalPath)); got != 20 {
		t.Errorf("Expected 20 flushed events, got %d", got)
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got := len(readLines(t, config.JournalPath)); got != 25 {
		t.Errorf("Expected 25 events after sync, got %d", got)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	ctx := context.Background()

	if err := logger.LogRunStarted(ctx, "x", nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEventBuilderChain(t *testing.T) {
	err := errors.New("disk full")
	event := NewEvent(EventSinkFailed).
		WithRunID("r1").
		WithStage("sqlite").
		WithDescription("persist report").
		WithDuration(1500 * time.Millisecond).
		WithError(err, "sink_error")

	if event.Result != ResultFailure {
		t.Errorf("Expected failure result, got %s", event.Result)
	}
	if event.Error != "disk full" || event.ErrorCode != "sink_error" {
		t.Errorf("Unexpected error fields: %q %q", event.Error, event.ErrorCode)
	}
	if event.DurationMs != 1500 {
		t.Errorf("Expected 1500ms, got %d", event.DurationMs)
	}
	if event.Timestamp.IsZero() || event.Timestamp.Location() != time.UTC {
		t.Errorf("Expected UTC timestamp, got %v", event.Timestamp)
	}
}

func TestEventJSONSerialization(t *testing.T) {
	event := NewEvent(EventRunStarted).WithRunID("r2").WithResult(ResultSuccess)

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.RunID != "r2" || decoded.EventType != EventRunStarted {
		t.Errorf("Round trip lost fields: %+v", decoded)
	}
	if strings.Contains(string(data), "stage") {
		t.Errorf("Empty stage should be omitted: %s", data)
	}
}
