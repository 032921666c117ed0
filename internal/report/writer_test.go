package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics"
	"github.com/kubilitics/kubilitics-loglens/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

var base = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

func sampleReport() *analytics.Report {
	return &analytics.Report{
		RunID:       "run-1",
		GeneratedAt: base,
		Inputs:      analytics.InputSummary{Buckets: 3, Events: 9},
		Series: []models.Series{{
			Name: "total",
			Points: []models.Point{
				{Instant: base, Value: models.Present(4)},
				{Instant: base.Add(time.Minute), Value: models.Missing()},
				{Instant: base.Add(12 * time.Minute), Value: models.Present(6)},
			},
		}},
		Multivariate: &anomaly.MultivariateResult{
			Features: []string{"total"},
			Results:  []models.AnomalyResult{{Instant: base, Score: 0.25, IsBreach: true}},
			Flagged:  []int{0},
		},
		Notices:  []analytics.Notice{{Stage: "input", Kind: analytics.NoticeDegraded, Message: "events absent"}},
		Duration: 1234 * time.Millisecond,
	}
}

func TestEncode_GapMarkersAreNull(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleReport(), false))

	var decoded struct {
		RunID  string `json:"run_id"`
		Series []struct {
			Points []struct {
				V *float64 `json:"v"`
			} `json:"points"`
		} `json:"series"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	require.Len(t, decoded.Series, 1)
	require.Len(t, decoded.Series[0].Points, 3)
	assert.Nil(t, decoded.Series[0].Points[1].V)
	require.NotNil(t, decoded.Series[0].Points[2].V)
	assert.Equal(t, 6.0, *decoded.Series[0].Points[2].V)
}

func TestEncode_Pretty(t *testing.T) {
	var compact, pretty bytes.Buffer
	require.NoError(t, Encode(&compact, sampleReport(), false))
	require.NoError(t, Encode(&pretty, sampleReport(), true))

	assert.Equal(t, 1, strings.Count(compact.String(), "\n"))
	assert.Contains(t, pretty.String(), "\n  \"run_id\": \"run-1\"")
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "report.json")

	require.NoError(t, WriteFile(path, sampleReport(), true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rep analytics.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, "run-1", rep.RunID)
	assert.Len(t, rep.Flagged(), 1)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, WriteFile(path, sampleReport(), false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{"))
}

func TestWriteFile_ParentIsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := WriteFile(filepath.Join(blocker, "report.json"), sampleReport(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create report directory")
}

func TestSummarize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Summarize(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "Flagged buckets:")
	assert.Contains(t, out, "2026-02-14T00:00:00Z")
	assert.Contains(t, out, "Notice [input/degraded]:")
	assert.Contains(t, out, "1.234s")
	assert.NotContains(t, out, "Z-score breaches")
}
