// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielyue/hubstats/internal/logging"
	"github.com/danielyue/hubstats/pkg/hub"
)

func newModelsCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		q      hub.ModelQuery
		output string
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Fetch current model metadata from the Hub models API as JSON lines",
		Long: `Pages through the Hub models API and writes one JSON object per model.

Example:
  hubstats models --limit 100 --sort downloads
  hubstats models --author acme --full -o acme.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(ro)
			if err != nil {
				return err
			}
			defer s.Close()

			var w io.Writer = os.Stdout
			toFile := output != "" && output != "-"
			if toFile {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			bw := bufio.NewWriter(w)

			client := s.hubClient(logging.Events(s.log))
			n, err := client.ListModels(ctx, q, func(m hub.Model) error {
				return writeModel(bw, m)
			})
			if ferr := bw.Flush(); err == nil {
				err = ferr
			}
			if err != nil {
				return err
			}
			if toFile {
				fmt.Fprintf(os.Stderr, "wrote %d models to %s\n", n, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Search, "search", "", "Full-text search on model ids")
	cmd.Flags().StringVar(&q.Author, "author", "", "Only models of this author")
	cmd.Flags().StringSliceVar(&q.Filter, "filter", nil, "Tag filters (comma-separated)")
	cmd.Flags().StringVar(&q.PipelineTag, "pipeline-tag", "", "Only models with this pipeline tag")
	cmd.Flags().StringVar(&q.Library, "library", "", "Only models of this library")
	cmd.Flags().StringVar(&q.Language, "language", "", "Only models of this language")
	cmd.Flags().StringSliceVar(&q.Tags, "tags", nil, "Only models with these tags (comma-separated)")
	cmd.Flags().StringVar(&q.Sort, "sort", "", "Sort field, e.g. downloads, likes, trendingScore, createdAt")
	cmd.Flags().BoolVar(&q.Ascending, "ascending", false, "Sort ascending instead of descending")
	cmd.Flags().BoolVar(&q.Full, "full", false, "Request full model metadata")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 1000, "Number of models to fetch (0 = all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

// writeModel writes the raw API object of m as one JSON line.
func writeModel(w io.Writer, m hub.Model) error {
	if len(m.Raw) > 0 {
		var compact json.RawMessage = m.Raw
		b, err := json.Marshal(compact)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	}
	return json.NewEncoder(w).Encode(m)
}
