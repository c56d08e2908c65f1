// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielyue/hubstats/internal/tui"
	"github.com/danielyue/hubstats/pkg/analytics"
)

func newAnalyzeCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		snapshotDir    string
		outputDir      string
		deltasPath     string
		aggregatesPath string
		codec          string
		duplicates     string
		table          string
		concurrency    int
		top            int
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute per-model daily deltas and per-author daily aggregates",
		Long: `Reads every snapshot of the store, computes the daily change of each counter per
model and aggregates the daily changes per author and date.

Both tables are written as parquet to a new directory:

  <output-dir>/<YYYYMMDD_HHMMSS>/model_daily_deltas.parquet
  <output-dir>/<YYYYMMDD_HHMMSS>/author_daily_downloads.parquet

Example:
  hubstats analyze
  hubstats analyze --duplicate-dates drop --codec snappy
  hubstats analyze --aggregates out/authors.parquet --deltas ""`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := analytics.ParseDuplicatePolicy(duplicates)
			if err != nil {
				return err
			}
			c, err := analytics.ParseCodec(codec)
			if err != nil {
				return err
			}

			cfg := analytics.Config{
				Options: analytics.Options{
					TableName:      table,
					DuplicateDates: policy,
					Concurrency:    concurrency,
				},
				SnapshotDir: snapshotDir,
				Codec:       c,
				TopN:        top,
			}
			cfg = cfg.OutputDir(filepath.Join(outputDir, time.Now().Format("20060102_150405")))
			if cmd.Flags().Changed("deltas") {
				cfg.DeltasPath = strings.TrimSpace(deltasPath)
			}
			if cmd.Flags().Changed("aggregates") {
				cfg.AggregatesPath = strings.TrimSpace(aggregatesPath)
			}

			s, err := newSession(ro)
			if err != nil {
				return err
			}
			defer s.Close()

			progress, done := s.progress("analyze")
			rep, err := analytics.Run(ctx, cfg, progress)
			done()
			if err != nil {
				return err
			}

			if ro.JSONOut {
				return printJSON(rep)
			}
			tui.PrintReport(os.Stdout, rep)
			return nil
		},
	}

	cmd.Flags().StringVarP(&snapshotDir, "snapshot-dir", "d", "data/snapshots", "Snapshot store directory")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "data/clean", "Base directory of timestamped run outputs")
	cmd.Flags().StringVar(&deltasPath, "deltas", "", "Write the delta table to this path instead (empty skips it)")
	cmd.Flags().StringVar(&aggregatesPath, "aggregates", "", "Write the aggregate table to this path instead (empty skips it)")
	cmd.Flags().StringVar(&codec, "codec", "zstd", "Parquet compression: zstd, snappy or none")
	cmd.Flags().StringVar(&duplicates, "duplicate-dates", "error", "Two snapshots on one date: error or drop")
	cmd.Flags().StringVar(&table, "table", "models", "Snapshot table name")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Snapshot files read in parallel (0 = number of CPUs)")
	cmd.Flags().IntVar(&top, "top", 10, "Number of authors ranked in the summary")

	return cmd
}
