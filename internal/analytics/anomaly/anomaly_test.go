package anomaly

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-loglens/internal/dataset"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

var t0 = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

func minutes(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * time.Minute)
	}
	return out
}

// recordingModel captures the matrix it was given and scores each row by its
// first feature.
type recordingModel struct {
	got [][]float64
}

func (m *recordingModel) FitScore(_ context.Context, X [][]float64) ([]float64, error) {
	m.got = X
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = row[0]
	}
	return out, nil
}

func TestZScores_Constant(t *testing.T) {
	for _, values := range [][]float64{{5}, {0.1, 0.1, 0.1}, {7, 7, 7, 7, 7}} {
		z := ZScores(values)
		require.Len(t, z, len(values))
		for _, v := range z {
			assert.Equal(t, 0.0, v)
		}
	}
	assert.Empty(t, ZScores(nil))
}

func TestZScores_MeanZero(t *testing.T) {
	values := []float64{3, 9, 1, 14, 6, 6, 2, 40}
	z := ZScores(values)

	sum := 0.0
	for _, v := range z {
		sum += v
	}
	assert.InDelta(t, 0.0, sum/float64(len(z)), 1e-12)

	// population std: divisor N
	mean, std := PopMeanStdDev(values)
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	assert.InDelta(t, math.Sqrt(ss/float64(len(values))), std, 1e-12)
}

func TestUnivariateScorer_Breach(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 10
	}
	values[15] = 200

	res := NewUnivariateScorer(0, 0).Score(minutes(len(values)), values)

	require.Len(t, res.Results, 20)
	assert.True(t, res.Results[15].IsBreach)
	assert.Equal(t, 1, res.Breaches)
	assert.Equal(t, minutes(20)[15], res.Results[15].Instant)
	assert.InDelta(t, 10.0, res.MovingAverage[9], 1e-12)
	assert.InDelta(t, (9*10.0+200)/10, res.MovingAverage[15], 1e-12)
	for i, r := range res.Results {
		if i != 15 {
			assert.False(t, r.IsBreach, "bucket %d", i)
		}
	}
}

func TestUnivariateScorer_ThresholdInclusive(t *testing.T) {
	// Two values: z = -1, +1.
	res := (&UnivariateScorer{Window: 10, Threshold: 1}).Score(minutes(2), []float64{1, 3})
	assert.True(t, res.Results[0].IsBreach)
	assert.True(t, res.Results[1].IsBreach)
}

func TestFirstAddress(t *testing.T) {
	ip, ok := FirstAddress(models.Event{Message: "from 10.1.2.3 via 10.9.9.9", Source: "gw"})
	require.True(t, ok)
	assert.Equal(t, "10.1.2.3", ip)

	ip, ok = FirstAddress(models.Event{Message: "no address", Source: "192.168.0.1"})
	require.True(t, ok)
	assert.Equal(t, "192.168.0.1", ip)

	_, ok = FirstAddress(models.Event{Message: "version 1.2.3", Source: "api"})
	assert.False(t, ok)
}

func featureAggregate(cols map[string][]float64) *dataset.AggregateTable {
	n := 0
	var names []string
	for _, name := range DefaultFeatureColumns {
		if v, ok := cols[name]; ok {
			names = append(names, name)
			n = len(v)
		}
	}
	tbl := &dataset.AggregateTable{Columns: names}
	for i, at := range minutes(n) {
		b := models.TimeBucket{Instant: at, Counts: map[string]float64{}}
		for _, name := range names {
			if name == models.TotalColumn {
				b.Total = cols[name][i]
			} else {
				b.Counts[name] = cols[name][i]
			}
		}
		tbl.Buckets = append(tbl.Buckets, b)
	}
	return tbl
}

func TestBuildFeatures_DerivedCardinality(t *testing.T) {
	agg := featureAggregate(map[string][]float64{"total": {3, 1, 0}})
	evs := &dataset.EventTable{Events: []models.Event{
		{Instant: t0.Add(5 * time.Second), Source: "api", Message: "from 10.0.0.1"},
		{Instant: t0.Add(10 * time.Second), Source: "db", Message: "from 10.0.0.1 and 10.0.0.2"},
		{Instant: t0.Add(20 * time.Second), Source: "api", Message: "from 10.0.0.3"},
		{Instant: t0.Add(70 * time.Second), Source: "api", Message: "quiet"},
	}}

	ft := BuildFeatures(agg, evs)

	assert.Equal(t, []float64{2, 1, 0}, ft.Columns[UniqueSourcesFeature])
	assert.Equal(t, []float64{2, 0, 0}, ft.Columns[UniqueIPsFeature], "first match per event only")
}

func TestBuildFeatures_NoEvents(t *testing.T) {
	ft := BuildFeatures(featureAggregate(map[string][]float64{"total": {1, 2}}), &dataset.EventTable{})
	assert.False(t, ft.Has(UniqueSourcesFeature))
	assert.False(t, ft.Has(UniqueIPsFeature))
}

func TestBuildFeatures_ReconciledZones(t *testing.T) {
	agg, err := dataset.ReadAggregate(strings.NewReader("minute_iso,total\n"+
		"2026-02-14T10:00:00,5\n"+
		"2026-02-14T10:01:00,6\n"+
		"2026-02-14T10:02:00,7\n"), dataset.DefaultDefaults())
	require.NoError(t, err)
	evs, err := dataset.ReadEvents(strings.NewReader("timestamp_iso,level,source,message\n"+
		"2026-02-14T10:00:05+02:00,INFO,api,from 10.0.0.1\n"+
		"2026-02-14T10:00:30+02:00,ERROR,db,from 10.0.0.2\n"+
		"2026-02-14T10:01:10+02:00,INFO,api,from 10.0.0.1\n"+
		"2026-02-14T10:02:40+02:00,WARN,cache,quiet\n"), dataset.DefaultDefaults())
	require.NoError(t, err)

	// Unaligned, the naive 10:00Z minutes never meet the 08:00Z events.
	ft := BuildFeatures(agg, evs)
	assert.Equal(t, []float64{0, 0, 0}, ft.Columns[UniqueSourcesFeature])

	agg, evs = dataset.Reconcile(agg, evs)
	ft = BuildFeatures(agg, evs)
	assert.Equal(t, []float64{2, 1, 1}, ft.Columns[UniqueSourcesFeature])
	assert.Equal(t, []float64{2, 1, 0}, ft.Columns[UniqueIPsFeature])
	assert.Equal(t, []float64{5, 6, 7}, ft.Columns[models.TotalColumn])
}

func TestSelectFeatures(t *testing.T) {
	tests := []struct {
		name         string
		cols         map[string][]float64
		wantColumns  []string
		wantDegraded bool
	}{
		{
			name:        "two varying",
			cols:        map[string][]float64{"total": {1, 5, 2}, "error": {0, 3, 1}, "warn": {2, 2, 2}},
			wantColumns: []string{"total", "error"},
		},
		{
			name:         "constant plus varying degrades to total",
			cols:         map[string][]float64{"total": {4, 4, 4}, "error": {0, 9, 1}},
			wantColumns:  []string{"total"},
			wantDegraded: true,
		},
		{
			name:         "no total uses present columns",
			cols:         map[string][]float64{"error": {1, 1}, "warn": {0, 2}},
			wantColumns:  []string{"error", "warn"},
			wantDegraded: true,
		},
		{
			name:         "nothing present",
			cols:         map[string][]float64{},
			wantDegraded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := SelectFeatures(BuildFeatures(featureAggregate(tt.cols), nil), DefaultFeatureColumns)
			assert.Equal(t, tt.wantColumns, sel.Columns)
			assert.Equal(t, tt.wantDegraded, sel.Degraded)
		})
	}
}

func TestMultivariateScorer_DegradesWithoutError(t *testing.T) {
	agg := featureAggregate(map[string][]float64{
		"total": {7, 7, 7, 7},
		"error": {0, 1, 9, 2},
	})
	model := &recordingModel{}

	res, err := NewMultivariateScorer(model).Score(context.Background(), agg, nil)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"total"}, res.Features)
	require.Len(t, model.got, 4)
	assert.Len(t, model.got[0], 1)
	assert.Len(t, res.Results, 4)
}

func TestMultivariateScorer_FlagsTopFraction(t *testing.T) {
	total := make([]float64, 250)
	errs := make([]float64, 250)
	for i := range total {
		total[i] = float64(i % 17)
		errs[i] = float64(i % 5)
	}
	total[100], total[200], total[30] = 1000, 900, 800

	res, err := NewMultivariateScorer(&recordingModel{}).Score(
		context.Background(),
		featureAggregate(map[string][]float64{"total": total, "error": errs}),
		nil,
	)
	require.NoError(t, err)

	// int(0.01 * 250) = 2
	assert.Equal(t, []int{200, 100}, res.Flagged)
	flagged := 0
	for _, r := range res.Results {
		if r.IsBreach {
			flagged++
		}
	}
	assert.Equal(t, 2, flagged)
	assert.False(t, res.Results[30].IsBreach)
}

func TestMultivariateScorer_Unavailable(t *testing.T) {
	agg := featureAggregate(map[string][]float64{"total": {1, 2, 3}})

	res, err := NewMultivariateScorer(UnavailableModel{Reason: "disabled"}).Score(context.Background(), agg, nil)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrModelUnavailable))

	_, err = NewMultivariateScorer(nil).Score(context.Background(), agg, nil)
	assert.True(t, errors.Is(err, ErrModelUnavailable))
}

func TestMultivariateScorer_NoBuckets(t *testing.T) {
	res, err := NewMultivariateScorer(&recordingModel{}).Score(context.Background(), &dataset.AggregateTable{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestTopIndices(t *testing.T) {
	assert.Equal(t, []int{1}, TopIndices([]float64{0.1, 0.9, 0.3}, 0.01), "minimum one")
	assert.Equal(t, []int{0, 2}, TopIndices([]float64{0.5, 0.1, 0.5}, 0.67), "ties keep index order")
	assert.Nil(t, TopIndices(nil, 0.01))
}
