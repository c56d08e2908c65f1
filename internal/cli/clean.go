// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielyue/hubstats/internal/tui"
	"github.com/danielyue/hubstats/pkg/analytics"
)

func newCleanCmd(ro *RootOpts) *cobra.Command {
	var (
		output    string
		outputDir string
		codec     string
	)

	cmd := &cobra.Command{
		Use:   "clean SNAPSHOT",
		Short: "Convert one snapshot into a cleaned parquet table sorted by downloads",
		Long: `Reads a single snapshot file and writes id, author, model name and counters as
parquet, ordered by downloads descending. Ids without an author are dropped.

Example:
  hubstats clean data/snapshots/models-20250101-abcdef0.parquet
  hubstats clean models-20250101-abcdef0.csv -o models.parquet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := analytics.ParseCodec(codec)
			if err != nil {
				return err
			}
			in := args[0]
			out := output
			if out == "" {
				base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
				out = filepath.Join(outputDir, base+"_clean.parquet")
			}

			st, size, err := analytics.CleanSnapshot(in, out, c)
			if err != nil {
				return err
			}
			if ro.JSONOut {
				return printJSON(map[string]any{"output": out, "size": size, "stats": st})
			}
			tui.PrintCleanSummary(os.Stdout, st, out, size)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: <output-dir>/<snapshot>_clean.parquet)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "data/clean", "Directory of the default output file")
	cmd.Flags().StringVar(&codec, "codec", "zstd", "Parquet compression: zstd, snappy or none")

	return cmd
}
