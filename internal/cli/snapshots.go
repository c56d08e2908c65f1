// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/danielyue/hubstats/pkg/snapshot"
)

// snapshotRow is the JSON form of a cataloged snapshot.
type snapshotRow struct {
	File        string `json:"file"`
	Date        string `json:"date"`
	Version     string `json:"version"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

func newSnapshotsCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		snapshotDir string
		table       string
		noSync      bool
	)

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List the snapshots of the store",
		Long: `Reconciles the catalog with the files of the snapshot directory and lists the
snapshots oldest first. Files copied into the directory by hand are hashed
and registered; duplicates of an existing snapshot are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := snapshot.Open(snapshotDir)
			if err != nil {
				return err
			}
			defer store.Close()

			if !noSync {
				res, err := store.Sync(ctx, table)
				if err != nil {
					return err
				}
				for file, existing := range res.Duplicates {
					fmt.Fprintf(os.Stderr, "warn: %s duplicates %s\n", file, existing)
				}
			}

			snaps, err := store.List(ctx, table)
			if err != nil {
				return err
			}
			if ro.JSONOut {
				rows := make([]snapshotRow, len(snaps))
				for i, sn := range snaps {
					rows[i] = snapshotRow{
						File:        sn.Name.String(),
						Date:        sn.Date().Format(time.DateOnly),
						Version:     sn.Version,
						Size:        sn.Size,
						ContentHash: sn.ContentHash,
					}
				}
				return printJSON(rows)
			}
			printSnapshots(os.Stdout, snaps)
			return nil
		},
	}

	cmd.Flags().StringVarP(&snapshotDir, "snapshot-dir", "d", "data/snapshots", "Snapshot store directory")
	cmd.Flags().StringVar(&table, "table", "models", "Snapshot table name (empty lists every table)")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "List the catalog without scanning the directory")

	return cmd
}

func printSnapshots(w io.Writer, snaps []snapshot.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tVERSION\tSIZE\tFILE")
	var total int64
	for _, sn := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", sn.Date().Format(time.DateOnly), shortVersion(sn.Version),
			humanize.Bytes(uint64(sn.Size)), sn.Name)
		total += sn.Size
	}
	tw.Flush()
	fmt.Fprintf(w, "%d snapshots, %s\n", len(snaps), humanize.Bytes(uint64(total)))
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}
