package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/screenpop/internal/export"
	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/screenpop"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the local phone cache",
}

// -- cache stats --

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache totals and the last sync",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}
		formatStats(os.Stdout, stats)
		return nil
	},
}

// -- cache runs --

var cacheRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListSyncRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "cache runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No sync runs found.")
			return nil
		}
		formatRuns(os.Stdout, runs)
		return nil
	},
}

// -- cache clear --

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached phone record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Clear(ctx); err != nil {
			return eris.Wrap(err, "cache clear")
		}
		zap.L().Info("cache cleared")
		return nil
	},
}

// -- cache lookup --

var cacheLookupCmd = &cobra.Command{
	Use:   "lookup <phone>",
	Short: "Resolve a caller number against the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		d, err := screenpop.Resolve(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "cache lookup")
		}
		return writeDecision(os.Stdout, d)
	},
}

// -- cache export --

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the cache and sync log to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = export.Filename(time.Now())
		}
		records, err := st.ListRecords(ctx)
		if err != nil {
			return eris.Wrap(err, "cache export")
		}
		runs, err := st.ListSyncRuns(ctx, 100)
		if err != nil {
			return eris.Wrap(err, "cache export")
		}
		if err := export.WriteCache(out, records, runs); err != nil {
			return err
		}
		zap.L().Info("cache exported", zap.String("path", out), zap.Int("records", len(records)))
		return nil
	},
}

func init() {
	cacheRunsCmd.Flags().Int("limit", 20, "max number of runs to display")
	cacheExportCmd.Flags().String("out", "", "output path (default phone_cache_<timestamp>.xlsx)")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheRunsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheLookupCmd)
	cacheCmd.AddCommand(cacheExportCmd)
	rootCmd.AddCommand(cacheCmd)
}

func formatStats(w io.Writer, s *model.CacheStats) {
	fmt.Fprintf(w, "Unique phones:  %d\n", s.UniquePhones)
	fmt.Fprintf(w, "Total records:  %d\n", s.TotalRecords)
	fmt.Fprintf(w, "Oldest record:  %s\n", formatTime(s.OldestRecord))
	fmt.Fprintf(w, "Newest record:  %s\n", formatTime(s.NewestRecord))
	if s.LastSync == nil {
		fmt.Fprintln(w, "Last sync:      never")
		return
	}
	fmt.Fprintf(w, "Last sync:      %s %s at %s (added %d, updated %d)\n",
		s.LastSync.Type, s.LastSync.Status, formatTime(s.LastSync.Completed),
		s.LastSync.Added, s.LastSync.Updated)
}

func formatRuns(w io.Writer, runs []model.SyncRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROCESSED\tADDED\tUPDATED\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.ID, r.SyncType, r.Status,
			r.RecordsProcessed, r.RecordsAdded, r.RecordsUpdated,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			duration,
			truncate(r.ErrorMessage, 60),
		)
	}
	tw.Flush() //nolint:errcheck
}

func writeDecision(w io.Writer, d screenpop.Decision) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Kind     string             `json:"kind"`
		Decision screenpop.Decision `json:"decision"`
	}{Kind: d.Kind(), Decision: d})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
