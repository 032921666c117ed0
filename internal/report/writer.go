// Package report renders analytics reports for people and for other tools.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics"
)

// Encode writes rep as JSON. Gap markers in the series encode as null.
func Encode(w io.Writer, rep *analytics.Report, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report %s: %w", rep.RunID, err)
	}
	return nil
}

// WriteFile writes rep to path, creating parent directories as needed. The
// file is written next to path and renamed into place, so readers never see
// a partial report.
func WriteFile(path string, rep *analytics.Report, pretty bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".loglens-report-*")
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	tmpName := tmp.Name()

	if err := Encode(tmp, rep, pretty); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close report file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod report file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move report into place: %w", err)
	}
	return nil
}

// Summarize prints a short human-readable digest of rep.
func Summarize(w io.Writer, rep *analytics.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Run:\t%s\n", rep.RunID)
	fmt.Fprintf(tw, "Buckets:\t%d (%d dropped)\n", rep.Inputs.Buckets, rep.Inputs.DroppedBuckets)
	if rep.Inputs.EventsAbsent {
		fmt.Fprintf(tw, "Events:\tabsent\n")
	} else {
		fmt.Fprintf(tw, "Events:\t%d (%d dropped)\n", rep.Inputs.Events, rep.Inputs.DroppedEvents)
	}
	if rep.Trim.Trimmed {
		fmt.Fprintf(tw, "Trimmed:\tfinal bucket (%s covered)\n", rep.Trim.Covered)
	}
	if u := rep.Univariate; u != nil {
		fmt.Fprintf(tw, "Z-score breaches:\t%d (mean %.2f, stddev %.2f)\n", u.Breaches, u.Mean, u.StdDev)
	}
	if m := rep.Multivariate; m != nil {
		fmt.Fprintf(tw, "Flagged buckets:\t%d over %v\n", len(m.Flagged), m.Features)
		for _, r := range rep.Flagged() {
			fmt.Fprintf(tw, "  %s\tscore %.4f\n", r.Instant.Format(time.RFC3339), r.Score)
		}
	}
	if c := rep.Correlation; c != nil {
		fmt.Fprintf(tw, "Correlated entities:\t%d\n", len(c.Entities))
	}
	if t := rep.Trend; t != nil {
		fmt.Fprintf(tw, "Trend:\t%s\n", t.Description)
	}
	for _, n := range rep.Notices {
		fmt.Fprintf(tw, "Notice [%s/%s]:\t%s\n", n.Stage, n.Kind, n.Message)
	}
	fmt.Fprintf(tw, "Duration:\t%s\n", rep.Duration.Round(time.Millisecond))

	return tw.Flush()
}
