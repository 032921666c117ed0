package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/models"
)

// LoadAggregate opens and reads the aggregate table at path.
// A missing file is reported as ErrAggregateMissing.
func LoadAggregate(path string, d Defaults) (*AggregateTable, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAggregateMissing, path)
		}
		return nil, fmt.Errorf("open aggregate table: %w", err)
	}
	defer f.Close()

	t, err := ReadAggregate(f, d)
	if err != nil {
		return nil, fmt.Errorf("read aggregate table %s: %w", path, err)
	}
	return t, nil
}

// LoadEvents opens and reads the event table at path.
// A missing file yields an empty table with Absent set.
func LoadEvents(path string, d Defaults) (*EventTable, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &EventTable{Absent: true, Zone: Zone{Assumed: d.location()}}, nil
		}
		return nil, fmt.Errorf("open event table: %w", err)
	}
	defer f.Close()

	t, err := ReadEvents(f, d)
	if err != nil {
		return nil, fmt.Errorf("read event table %s: %w", path, err)
	}
	return t, nil
}

// ReadAggregate reads a minute_iso + numeric columns CSV.
// Non-numeric or empty cells become 0; duplicate minutes keep the last row.
func ReadAggregate(r io.Reader, d Defaults) (*AggregateTable, error) {
	header, records, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return &AggregateTable{Zone: Zone{Assumed: d.location()}}, nil
	}

	timeIdx := -1
	var columns []string
	var columnIdx []int
	for i, name := range header {
		if name == MinuteColumn {
			timeIdx = i
			continue
		}
		columns = append(columns, name)
		columnIdx = append(columnIdx, i)
	}
	if timeIdx < 0 {
		return nil, ErrNoTimeColumn
	}

	norm := Normalize(records, func(rec []string) string {
		return cell(rec, timeIdx)
	}, d.location())

	buckets := make([]models.TimeBucket, 0, len(norm.Rows))
	for _, row := range norm.Rows {
		b := models.TimeBucket{
			Instant: row.Instant.Truncate(time.Minute),
			Counts:  make(map[string]float64, len(columns)),
		}
		for k, name := range columns {
			v := toNumber(cell(row.Row, columnIdx[k]))
			if name == models.TotalColumn {
				b.Total = v
				continue
			}
			b.Counts[name] = v
		}
		if n := len(buckets); n > 0 && buckets[n-1].Instant.Equal(b.Instant) {
			buckets[n-1] = b
			continue
		}
		buckets = append(buckets, b)
	}

	return &AggregateTable{
		Columns: columns,
		Buckets: buckets,
		Zone:    norm.Zone,
		Dropped: norm.Dropped,
	}, nil
}

// ReadEvents reads a timestamp_iso, level, source, message CSV.
// Absent columns take d.Text; blank sources become d.UnknownSource.
func ReadEvents(r io.Reader, d Defaults) (*EventTable, error) {
	header, records, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return &EventTable{Zone: Zone{Assumed: d.location()}}, nil
	}

	idx := map[string]int{}
	for i, name := range header {
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	field := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok {
			return d.Text
		}
		return cell(rec, i)
	}

	norm := Normalize(records, func(rec []string) string {
		return field(rec, TimestampColumn)
	}, d.location())

	events := make([]models.Event, 0, len(norm.Rows))
	for _, row := range norm.Rows {
		events = append(events, models.Event{
			Instant: row.Instant,
			Level:   field(row.Row, LevelColumn),
			Source:  normalizeSource(field(row.Row, SourceColumn), d.UnknownSource),
			Message: field(row.Row, MessageColumn),
		})
	}

	return &EventTable{
		Events:  events,
		Zone:    norm.Zone,
		Dropped: norm.Dropped,
	}, nil
}

// readAll returns the header and the data records. An empty input yields a
// nil header and no error.
func readAll(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read records: %w", err)
	}
	return header, records, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func toNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func normalizeSource(s, unknown string) string {
	t := strings.TrimSpace(s)
	if t == "" || strings.EqualFold(t, "nan") {
		return unknown
	}
	return s
}
