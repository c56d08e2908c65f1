// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielyue/hubstats/internal/tui"
	"github.com/danielyue/hubstats/pkg/profile"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

func newProfilesCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	opts := profile.DefaultScrapeOptions()
	var (
		snapshotPath string
		snapshotDir  string
		table        string
		authors      int
		namesFile    string
		output       string
		retryOut     string
	)

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Scrape the Hub profile pages of the top authors",
		Long: `Ranks the authors of a snapshot by all-time downloads and fetches the profile
page of each, writing one JSON object per profile as it goes. Profiles that
could not be fetched are listed in the retry file; pass it back with
--retry-file to try them again.

Example:
  hubstats profiles --authors 500
  hubstats profiles --retry-file profiles_retry.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := profileTargets(ctx, namesFile, snapshotPath, snapshotDir, table, authors)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return errors.New("no profiles to scrape")
			}

			s, err := newSession(ro)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := os.Create(output)
			if err != nil {
				return err
			}
			defer out.Close()
			retry, err := os.Create(retryOut)
			if err != nil {
				return err
			}
			defer retry.Close()

			progress, done := s.progress("profiles")
			fetcher := &profile.HTMLFetcher{Pages: s.hubClient(progress)}
			res, err := profile.Scrape(ctx, fetcher, targets, out, retry, opts, progress)
			done()
			if err != nil && res == nil {
				return err
			}

			if ro.JSONOut {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			} else {
				tui.PrintScrapeSummary(os.Stdout, res, output, retryOut)
			}
			if err == nil && len(res.Retry) == 0 {
				os.Remove(retryOut)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Snapshot file to rank authors from (default: latest in the store)")
	cmd.Flags().StringVarP(&snapshotDir, "snapshot-dir", "d", "data/snapshots", "Snapshot store directory")
	cmd.Flags().StringVar(&table, "table", "models", "Snapshot table name")
	cmd.Flags().IntVarP(&authors, "authors", "n", 100, "Number of top authors to scrape (0 = all)")
	cmd.Flags().StringVar(&namesFile, "retry-file", "", "Scrape the names listed in this file (one per line) instead")
	cmd.Flags().StringVarP(&output, "output", "o", "profiles.jsonl", "JSON lines output file")
	cmd.Flags().StringVar(&retryOut, "retry-out", "profiles_retry.txt", "File listing profiles that failed")
	cmd.Flags().DurationVar(&opts.Delay, "delay", opts.Delay, "Pause between two profile fetches")
	cmd.Flags().DurationVar(&opts.RateLimitPause, "rate-limit-pause", opts.RateLimitPause, "Pause after a rate-limited fetch")

	return cmd
}

// profileTargets reads the names file when given, otherwise ranks the
// authors of a snapshot.
func profileTargets(ctx context.Context, namesFile, snapshotPath, snapshotDir, table string, n int) ([]profile.Target, error) {
	if namesFile != "" {
		f, err := os.Open(namesFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return profile.ReadNames(f)
	}

	if snapshotPath == "" {
		store, err := snapshot.Open(snapshotDir)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if _, err := store.Sync(ctx, table); err != nil {
			return nil, err
		}
		snaps, err := store.List(ctx, table)
		if err != nil {
			return nil, err
		}
		if len(snaps) == 0 {
			return nil, fmt.Errorf("no %s snapshots in %s; run hubstats ingest first", table, snapshotDir)
		}
		snapshotPath = snaps[len(snaps)-1].Path
	}

	tab, err := snapshot.ReadTable(snapshotPath)
	if err != nil {
		return nil, err
	}
	return profile.RankAuthors(tab, n), nil
}
