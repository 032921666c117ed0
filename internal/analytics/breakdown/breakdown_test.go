package breakdown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-loglens/internal/dataset"
	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

var t0 = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

func events(evs ...models.Event) *dataset.EventTable {
	return &dataset.EventTable{Events: evs}
}

func ev(level, source, msg string) models.Event {
	return models.Event{Instant: t0, Level: level, Source: source, Message: msg}
}

func aggregate() *dataset.AggregateTable {
	return &dataset.AggregateTable{
		Columns: []string{"total", "info", "error", "extra"},
		Buckets: []models.TimeBucket{
			{Instant: t0, Total: 5, Counts: map[string]float64{"info": 4, "error": 1, "extra": 9}},
			{Instant: t0.Add(time.Minute), Total: 6, Counts: map[string]float64{"info": 3, "error": 3, "extra": 9}},
		},
	}
}

func TestLevelDistribution_FromEvents(t *testing.T) {
	got, fromAgg := LevelDistribution(events(
		ev("error", "a", ""), ev("ERROR", "a", ""), ev("info", "a", ""), ev("", "a", ""),
	), aggregate())

	assert.False(t, fromAgg)
	assert.Equal(t, []Count{{"ERROR", 2}, {"", 1}, {"INFO", 1}}, got)
}

func TestLevelDistribution_FallsBackToAggregate(t *testing.T) {
	got, fromAgg := LevelDistribution(&dataset.EventTable{Absent: true}, aggregate())

	assert.True(t, fromAgg)
	assert.Equal(t, []Count{{"INFO", 7}, {"ERROR", 4}}, got)
}

func TestSourceActivity(t *testing.T) {
	got := SourceActivity(events(
		ev("", "db", ""), ev("", "api", ""), ev("", "db", ""), ev("", "cache", ""),
	), 2)
	assert.Equal(t, []Count{{"db", 2}, {"api", 1}}, got)
	assert.Nil(t, SourceActivity(nil, 2))
}

func TestTopErrorMessages(t *testing.T) {
	got := TopErrorMessages(events(
		ev("ERROR", "db", "timeout after 30 ms  on conn 12"),
		ev("critical", "db", "timeout after 45 ms on conn 7"),
		ev("WARN", "db", "timeout after 1 ms on conn 1"),
		ev("error", "db", "disk full"),
	), 10)

	require.Len(t, got, 2)
	assert.Equal(t, Count{"timeout after 0 ms on conn 0", 2}, got[0])
	assert.Equal(t, Count{"disk full", 1}, got[1])

	assert.Nil(t, TopErrorMessages(events(ev("INFO", "a", "ok")), 10))
}

func TestNormalizeMessage(t *testing.T) {
	assert.Equal(t, "user 0 retried 0 times", NormalizeMessage("  user 4521\tretried 3 times "))
	assert.Equal(t, "v2 build", NormalizeMessage("v2 build"), "digits inside words are kept")
}

func TestAddressFrequency(t *testing.T) {
	got := AddressFrequency(events(
		ev("", "10.0.0.1", "from 192.168.1.5 to 10.0.0.1"),
		ev("", "gw", "peer 192.168.1.5"),
		ev("", "gw", "no address here"),
	), 15)

	assert.Equal(t, []Count{{"10.0.0.1", 2}, {"192.168.1.5", 2}}, got)
	assert.Nil(t, AddressFrequency(events(ev("", "gw", "none")), 15))
}

func TestLevelHeatmap(t *testing.T) {
	hm, ok := LevelHeatmap(aggregate())
	require.True(t, ok)
	assert.Equal(t, []string{"INFO", "ERROR"}, hm.Levels)
	assert.Equal(t, [][]float64{{4, 3}, {1, 3}}, hm.Values)
	assert.Len(t, hm.Instants, 2)

	single := aggregate()
	single.Buckets = single.Buckets[:1]
	_, ok = LevelHeatmap(single)
	assert.False(t, ok, "needs two buckets")
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder().Build(aggregate(), events(ev("ERROR", "db", "boom 1")))

	assert.Equal(t, []Count{{"ERROR", 1}}, b.Levels)
	assert.Equal(t, []Count{{"db", 1}}, b.Sources)
	assert.Equal(t, []Count{{"boom 0", 1}}, b.ErrorMessages)
	assert.Empty(t, b.Addresses)
	assert.NotNil(t, b.LevelHeatmap)
}
