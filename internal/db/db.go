package db

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics"
)

// Store is the persistence interface for finished runs. Every run inserts
// new rows; earlier runs are never read back by an analysis.
type Store interface {
	RunStore
	AnomalyStore
	CorrelationStore

	// SaveReport writes the run, its anomaly results and its correlations
	// in one transaction.
	SaveReport(ctx context.Context, rep *analytics.Report) error

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Runs ─────────────────────────────────────────────────────────────────────

// RunRecord is the summary row of one run.
type RunRecord struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Buckets     int       `json:"buckets"`
	Events      int       `json:"events"`
	Trimmed     bool      `json:"trimmed"`
	Breaches    int       `json:"breaches"`
	Flagged     int       `json:"flagged"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"stddev"`
	Features    string    `json:"features"` // JSON array
	Notices     string    `json:"notices"`  // JSON array
	DurationMs  int64     `json:"duration_ms"`
}

// RunStore persists run summaries.
type RunStore interface {
	// AppendRun inserts a run; a duplicate ID is an error.
	AppendRun(ctx context.Context, rec *RunRecord) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}

// ─── Anomaly results ──────────────────────────────────────────────────────────

// Detector names stored with each anomaly result.
const (
	DetectorUnivariate   = "univariate"
	DetectorMultivariate = "multivariate"
)

// AnomalyRecord is one scored bucket of a run.
type AnomalyRecord struct {
	ID       int64     `json:"id"`
	RunID    string    `json:"run_id"`
	Detector string    `json:"detector"` // univariate | multivariate
	Instant  time.Time `json:"instant"`
	Score    float64   `json:"score"`
	IsBreach bool      `json:"is_breach"`
}

// AnomalyQuery filters anomaly queries.
type AnomalyQuery struct {
	RunID        string
	Detector     string
	BreachesOnly bool
	Limit        int
}

// AnomalyStore persists per-bucket anomaly results.
type AnomalyStore interface {
	// AppendAnomalies inserts the results of one detector for one run.
	AppendAnomalies(ctx context.Context, recs []*AnomalyRecord) error

	// QueryAnomalies returns matching results ordered by instant.
	QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*AnomalyRecord, error)
}

// ─── Correlations ─────────────────────────────────────────────────────────────

// CorrelationRecord is one off-diagonal pair of a correlation matrix, stored
// with EntityA < EntityB. Valid is false for pairs without a coefficient.
type CorrelationRecord struct {
	RunID       string  `json:"run_id"`
	EntityA     string  `json:"entity_a"`
	EntityB     string  `json:"entity_b"`
	Coefficient float64 `json:"coefficient"`
	Valid       bool    `json:"valid"`
}

// CorrelationStore persists correlation matrices.
type CorrelationStore interface {
	// AppendCorrelations inserts the pairs of one run.
	AppendCorrelations(ctx context.Context, recs []*CorrelationRecord) error

	// GetCorrelations returns the pairs of a run ordered by entity names.
	GetCorrelations(ctx context.Context, runID string) ([]*CorrelationRecord, error)
}
