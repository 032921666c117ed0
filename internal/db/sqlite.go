package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/kubilitics/kubilitics-loglens/internal/analytics"
)

// migrations define the report tables.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    generated_at  TEXT NOT NULL,
    buckets       INTEGER NOT NULL DEFAULT 0,
    events        INTEGER NOT NULL DEFAULT 0,
    trimmed       INTEGER NOT NULL DEFAULT 0,
    breaches      INTEGER NOT NULL DEFAULT 0,
    flagged       INTEGER NOT NULL DEFAULT 0,
    mean          REAL NOT NULL DEFAULT 0.0,
    stddev        REAL NOT NULL DEFAULT 0.0,
    features      TEXT NOT NULL DEFAULT '[]',
    notices       TEXT NOT NULL DEFAULT '[]',
    duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_generated_at ON runs(generated_at DESC);

CREATE TABLE IF NOT EXISTS anomaly_results (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    detector   TEXT NOT NULL,
    instant    TEXT NOT NULL,
    score      REAL NOT NULL,
    is_breach  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_anomaly_results_run ON anomaly_results(run_id, detector, instant);
`,
	},
	// Migration 2: correlation pairs
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS correlations (
    run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    entity_a     TEXT NOT NULL,
    entity_b     TEXT NOT NULL,
    coefficient  REAL,
    PRIMARY KEY (run_id, entity_a, entity_b)
);
`,
	},
}

// timeLayout is fixed-width so stored instants sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One writer per run; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// Enable foreign-key constraints.
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Reports ──────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveReport(ctx context.Context, rep *analytics.Report) error {
	run, err := RunFromReport(rep)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin report transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := appendRun(ctx, tx, run); err != nil {
		return err
	}
	if err := appendAnomalies(ctx, tx, AnomaliesFromReport(rep)); err != nil {
		return err
	}
	if err := appendCorrelations(ctx, tx, CorrelationsFromReport(rep)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report %s: %w", rep.RunID, err)
	}
	return nil
}

// ─── Runs ─────────────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendRun(ctx context.Context, rec *RunRecord) error {
	return appendRun(ctx, s.db, rec)
}

func appendRun(ctx context.Context, ex execer, rec *RunRecord) error {
	_, err := ex.ExecContext(ctx, `
        INSERT INTO runs(id, generated_at, buckets, events, trimmed, breaches, flagged, mean, stddev, features, notices, duration_ms)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
    `,
		rec.ID, rec.GeneratedAt.UTC().Format(timeLayout), rec.Buckets, rec.Events,
		rec.Trimmed, rec.Breaches, rec.Flagged, rec.Mean, rec.StdDev,
		orDefault(rec.Features, "[]"), orDefault(rec.Notices, "[]"), rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("append run %s: %w", rec.ID, err)
	}
	return nil
}

const runColumns = `id,generated_at,buckets,events,trimmed,breaches,flagged,mean,stddev,features,notices,duration_ms`

func (s *sqliteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	return scanRun(row)
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY generated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	rec := &RunRecord{}
	var ts string
	if err := row.Scan(&rec.ID, &ts, &rec.Buckets, &rec.Events, &rec.Trimmed,
		&rec.Breaches, &rec.Flagged, &rec.Mean, &rec.StdDev,
		&rec.Features, &rec.Notices, &rec.DurationMs); err != nil {
		return nil, err
	}
	rec.GeneratedAt, _ = parseTime(ts)
	return rec, nil
}

// ─── Anomaly results ──────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAnomalies(ctx context.Context, recs []*AnomalyRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := appendAnomalies(ctx, tx, recs); err != nil {
		return err
	}
	return tx.Commit()
}

func appendAnomalies(ctx context.Context, ex execer, recs []*AnomalyRecord) error {
	for _, rec := range recs {
		result, err := ex.ExecContext(ctx, `
            INSERT INTO anomaly_results(run_id, detector, instant, score, is_breach)
            VALUES(?,?,?,?,?)
        `, rec.RunID, rec.Detector, rec.Instant.UTC().Format(timeLayout), rec.Score, rec.IsBreach)
		if err != nil {
			return fmt.Errorf("append %s anomaly result: %w", rec.Detector, err)
		}
		id, _ := result.LastInsertId()
		rec.ID = id
	}
	return nil
}

func (s *sqliteStore) QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*AnomalyRecord, error) {
	query := `SELECT id,run_id,detector,instant,score,is_breach FROM anomaly_results WHERE 1=1`
	args := []any{}

	if q.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, q.RunID)
	}
	if q.Detector != "" {
		query += ` AND detector = ?`
		args = append(args, q.Detector)
	}
	if q.BreachesOnly {
		query += ` AND is_breach = 1`
	}
	query += ` ORDER BY instant ASC, id ASC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AnomalyRecord
	for rows.Next() {
		rec := &AnomalyRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Detector, &ts, &rec.Score, &rec.IsBreach); err != nil {
			return nil, err
		}
		rec.Instant, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Correlations ─────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendCorrelations(ctx context.Context, recs []*CorrelationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := appendCorrelations(ctx, tx, recs); err != nil {
		return err
	}
	return tx.Commit()
}

func appendCorrelations(ctx context.Context, ex execer, recs []*CorrelationRecord) error {
	for _, rec := range recs {
		coef := sql.NullFloat64{Float64: rec.Coefficient, Valid: rec.Valid}
		if _, err := ex.ExecContext(ctx, `
            INSERT INTO correlations(run_id, entity_a, entity_b, coefficient)
            VALUES(?,?,?,?)
        `, rec.RunID, rec.EntityA, rec.EntityB, coef); err != nil {
			return fmt.Errorf("append correlation %s/%s: %w", rec.EntityA, rec.EntityB, err)
		}
	}
	return nil
}

func (s *sqliteStore) GetCorrelations(ctx context.Context, runID string) ([]*CorrelationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, entity_a, entity_b, coefficient FROM correlations
        WHERE run_id = ? ORDER BY entity_a, entity_b
    `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*CorrelationRecord
	for rows.Next() {
		rec := &CorrelationRecord{}
		var coef sql.NullFloat64
		if err := rows.Scan(&rec.RunID, &rec.EntityA, &rec.EntityB, &coef); err != nil {
			return nil, err
		}
		rec.Coefficient, rec.Valid = coef.Float64, coef.Valid
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
