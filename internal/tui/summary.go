// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/danielyue/hubstats/pkg/analytics"
	"github.com/danielyue/hubstats/pkg/ingest"
	"github.com/danielyue/hubstats/pkg/profile"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

var (
	infoColor    = color.New(color.FgGreen).SprintFunc()
	warningColor = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
	headColor    = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// countColor colors n as a warning when it is non-zero.
func countColor(n int, bad func(a ...interface{}) string) string {
	if n == 0 {
		return fmt.Sprint(n)
	}
	return bad(n)
}

// PrintIngestSummary writes the outcome of an ingestion run.
func PrintIngestSummary(w io.Writer, res *ingest.Result, dir string) {
	fmt.Fprintln(w, headColor("Ingestion summary"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  versions listed\t%d\n", res.Listed)
	fmt.Fprintf(tw, "  relevant versions\t%d\n", res.Relevant)
	fmt.Fprintf(tw, "  snapshots created\t%s (%s)\n", infoColor(len(res.Created)), humanize.Bytes(uint64(res.Bytes)))
	fmt.Fprintf(tw, "  already present\t%d\n", res.SkippedExisting)
	fmt.Fprintf(tw, "  duplicate content\t%d\n", res.SkippedDuplicate)
	fmt.Fprintf(tw, "  no candidate file\t%s\n", countColor(res.SkippedMissing, warningColor))
	fmt.Fprintf(tw, "  failed\t%s\n", countColor(res.Failed, errorColor))
	fmt.Fprintf(tw, "  store\t%s\n", dir)
	tw.Flush()
}

// PrintReport writes the outcome of an analysis run.
func PrintReport(w io.Writer, rep *analytics.Report) {
	s := rep.Summary
	st := rep.Stats
	fmt.Fprintln(w, headColor("Analysis summary"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  snapshots\t%d\n", st.Files)
	fmt.Fprintf(tw, "  rows\t%s (%s entities)\n", humanize.Comma(int64(st.Rows)), humanize.Comma(int64(st.Entities)))
	if !s.FirstDate.IsZero() {
		fmt.Fprintf(tw, "  date range\t%s .. %s (%d days)\n", s.FirstDate.Format(time.DateOnly), s.LastDate.Format(time.DateOnly), s.Days)
	}
	fmt.Fprintf(tw, "  authors\t%s\n", humanize.Comma(int64(s.Authors)))
	fmt.Fprintf(tw, "  total daily %s\t%s (mean %s/day)\n", snapshot.Primary.Name(),
		humanize.Comma(s.GrandTotal[snapshot.Primary]), humanize.CommafWithDigits(s.MeanDailyTotal, 1))
	fmt.Fprintf(tw, "  invalid ids dropped\t%s\n", countColor(st.InvalidIDs, warningColor))
	fmt.Fprintf(tw, "  duplicate ids dropped\t%s\n", countColor(st.DuplicateIDs, warningColor))
	for _, c := range snapshot.Counters {
		if n := st.Negative[c]; n > 0 {
			fmt.Fprintf(tw, "  negative %s deltas\t%s\n", c.Name(), warningColor(n))
		}
	}
	if len(st.DroppedFiles) > 0 {
		fmt.Fprintf(tw, "  files dropped (same date)\t%s\n", warningColor(len(st.DroppedFiles)))
	}
	tw.Flush()

	if len(rep.TopAuthors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headColor(fmt.Sprintf("Top %d authors by daily %s", len(rep.TopAuthors), snapshot.Primary.Name())))
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "  #\tauthor\ttotal\tmean/day\tdays\tmodels\t")
		for i, a := range rep.TopAuthors {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%d\t%d\t\n", i+1, a.Author, humanize.Comma(a.Total),
				humanize.CommafWithDigits(a.MeanDaily, 1), a.ActiveDays, a.MaxEntities)
		}
		tw.Flush()
	}

	fmt.Fprintln(w)
	if rep.DeltasPath != "" {
		fmt.Fprintf(w, "%s %s (%s)\n", infoColor("wrote"), rep.DeltasPath, humanize.Bytes(uint64(rep.DeltasSize)))
	}
	if rep.AggregatesPath != "" {
		fmt.Fprintf(w, "%s %s (%s)\n", infoColor("wrote"), rep.AggregatesPath, humanize.Bytes(uint64(rep.AggregatesSize)))
	}
	var total time.Duration
	for _, t := range rep.Timings {
		total += t.Duration
	}
	fmt.Fprintf(w, "done in %s\n", total.Round(time.Millisecond))
}

// PrintCleanSummary writes the outcome of a single-snapshot clean.
func PrintCleanSummary(w io.Writer, st analytics.CleanStats, out string, size int64) {
	fmt.Fprintf(w, "%s %s: %s rows (%s), %s invalid ids, %s duplicate ids dropped\n",
		infoColor("wrote"), out, humanize.Comma(int64(st.Rows)), humanize.Bytes(uint64(size)),
		countColor(st.InvalidIDs, warningColor), countColor(st.DuplicateIDs, warningColor))
}

// PrintScrapeSummary writes the outcome of a profile scrape.
func PrintScrapeSummary(w io.Writer, res *profile.ScrapeResult, out, retry string) {
	fmt.Fprintf(w, "%s %d profiles to %s\n", infoColor("scraped"), len(res.Succeeded), out)
	if len(res.Retry) > 0 {
		fmt.Fprintf(w, "%s %d profiles listed in %s\n", warningColor("retry"), len(res.Retry), retry)
	}
}
