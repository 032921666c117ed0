package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-loglens/internal/db"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List stored runs, or show the anomalies of one run",
		Example: `  loglens history --sqlite runs.db
  loglens history --sqlite runs.db 3f2a9c1e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, cfg, err := a.loadConfig(ctx, cmd)
			if err != nil {
				return err
			}
			if cfg.Output.SQLitePath == "" {
				return errors.New("no report store configured; pass --sqlite or set output.sqlite_path")
			}

			store, err := db.NewSQLiteStore(cfg.Output.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return a.showRun(ctx, store, args[0], limit)
			}
			return a.listRuns(ctx, store, limit)
		},
	}

	cmd.Flags().String("sqlite", "", "SQLite report store")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to print (0 = all)")
	return cmd
}

func (a *app) listRuns(ctx context.Context, store db.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "No runs stored.")
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tGENERATED\tBUCKETS\tEVENTS\tBREACHES\tFLAGGED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.GeneratedAt.Format(time.RFC3339), r.Buckets, r.Events,
			r.Breaches, r.Flagged, time.Duration(r.DurationMs)*time.Millisecond)
	}
	return tw.Flush()
}

func (a *app) showRun(ctx context.Context, store db.Store, runID string, limit int) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	breaches, err := store.QueryAnomalies(ctx, db.AnomalyQuery{RunID: runID, BreachesOnly: true, Limit: limit})
	if err != nil {
		return fmt.Errorf("query anomalies: %w", err)
	}
	pairs, err := store.GetCorrelations(ctx, runID)
	if err != nil {
		return fmt.Errorf("get correlations: %w", err)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", run.ID)
	fmt.Fprintf(tw, "Generated:\t%s\n", run.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Volume:\tmean %.2f, stddev %.2f\n", run.Mean, run.StdDev)
	fmt.Fprintf(tw, "Features:\t%s\n", run.Features)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "DETECTOR\tINSTANT\tSCORE")
	for _, b := range breaches {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\n", b.Detector, b.Instant.Format(time.RFC3339), b.Score)
	}
	if len(pairs) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "ENTITY A\tENTITY B\tPEARSON")
		for _, p := range pairs {
			coef := "-"
			if p.Valid {
				coef = fmt.Sprintf("%.3f", p.Coefficient)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.EntityA, p.EntityB, coef)
		}
	}
	return tw.Flush()
}
