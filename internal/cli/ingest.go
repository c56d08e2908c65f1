// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielyue/hubstats/internal/tui"
	"github.com/danielyue/hubstats/pkg/ingest"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

func newIngestCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	job := ingest.DefaultJob()
	var (
		snapshotDir string
		listerKind  string
		maxVersions int
	)

	cmd := &cobra.Command{
		Use:   "ingest [REPO]",
		Short: "Materialize one snapshot file per upstream version of the statistics dataset",
		Long: `Walks the commit history of a Hub repository and stores the metadata file of
every version with new content as a dated snapshot:

  <table>-<YYYYMMDD>-<short commit>.<parquet|csv>

Running it again only fetches versions that are not stored yet.

Example:
  hubstats ingest
  hubstats ingest --days-back 30 --lister api
  hubstats ingest acme/stats --candidates spaces.parquet`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j := job
			if len(args) > 0 && !cmd.Flags().Changed("repo") {
				j.Repo = args[0]
			}
			if !cmd.Flags().Changed("table") && cmd.Flags().Changed("candidates") {
				j.TableName = "" // derived from the first candidate
			}

			s, err := newSession(ro)
			if err != nil {
				return err
			}
			defer s.Close()

			store, err := snapshot.Open(snapshotDir)
			if err != nil {
				return err
			}
			defer store.Close()

			progress, done := s.progress("ingest")
			client := s.hubClient(progress)
			lister, err := s.lister(listerKind, client, maxVersions)
			if err != nil {
				done()
				return err
			}

			in := &ingest.Ingestor{Lister: lister, Fetcher: client, Store: store}
			res, err := in.Run(ctx, j, progress)
			done()
			if err != nil {
				return err
			}

			if ro.JSONOut {
				return printJSON(res)
			}
			tui.PrintIngestSummary(os.Stdout, res, store.Dir())
			if res.Failed > 0 {
				return fmt.Errorf("%d version(s) failed to download; run again to retry", res.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&job.Repo, "repo", "r", job.Repo, "Repository ID (owner/name). If omitted, positional REPO is used")
	cmd.Flags().BoolVar(&job.IsDataset, "dataset", job.IsDataset, "Treat repo as a dataset")
	cmd.Flags().StringVarP(&job.Revision, "revision", "b", job.Revision, "Branch whose history is walked")
	cmd.Flags().StringSliceVar(&job.Candidates, "candidates", job.Candidates, "Files to fetch at each version, in order of preference")
	cmd.Flags().StringVar(&job.TableName, "table", job.TableName, "Snapshot table name (default: derived from the first candidate)")
	cmd.Flags().IntVar(&job.DaysBack, "days-back", 0, "Only ingest versions of the last N days (0 = full history)")
	cmd.Flags().StringVarP(&snapshotDir, "snapshot-dir", "d", "data/snapshots", "Snapshot store directory")
	cmd.Flags().StringVar(&listerKind, "lister", "auto", "Version history source: git, api or auto (git, then api)")
	cmd.Flags().IntVar(&maxVersions, "max-versions", 0, "Cap on versions listed through the API (0 = all)")

	return cmd
}
