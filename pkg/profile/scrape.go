// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/danielyue/hubstats/pkg/analytics"
	"github.com/danielyue/hubstats/pkg/hub"
	"github.com/danielyue/hubstats/pkg/hubstats"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

// Target is a profile to scrape.
type Target struct {
	Name           string
	TotalDownloads int64
}

// ScrapeOptions controls Scrape.
type ScrapeOptions struct {
	// Delay is waited between two fetches.
	Delay time.Duration
	// RateLimitPause is waited after a rate-limited fetch.
	RateLimitPause time.Duration
}

// DefaultScrapeOptions returns the options used by the CLI.
func DefaultScrapeOptions() ScrapeOptions {
	return ScrapeOptions{Delay: 500 * time.Millisecond, RateLimitPause: time.Minute}
}

// ScrapeResult lists scraped and failed profile names.
type ScrapeResult struct {
	Succeeded []string `json:"succeeded"`
	Retry     []string `json:"retry"`
}

// Scrape fetches every target in order. Each profile is written to out as
// one JSON line as soon as it is fetched. A failed profile is written to
// retry (one name per line) and scraping continues. Only write failures and
// cancellation stop the run.
func Scrape(ctx context.Context, f Fetcher, targets []Target, out, retry io.Writer, opts ScrapeOptions, progress hubstats.EventFunc) (*ScrapeResult, error) {
	emit := hubstats.Emitter(progress, "")
	enc := json.NewEncoder(out)
	res := &ScrapeResult{}

	for i, t := range targets {
		if i > 0 && !sleep(ctx, opts.Delay) {
			return res, ctx.Err()
		}
		emit(hubstats.Event{Level: "debug", Event: "profile_start", Path: t.Name, Current: i + 1, Total: len(targets)})

		p, err := f.Fetch(ctx, t.Name)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Retry = append(res.Retry, t.Name)
			if _, werr := fmt.Fprintln(retry, t.Name); werr != nil {
				return res, werr
			}
			emit(hubstats.Event{Level: "warn", Event: "profile_failed", Path: t.Name, Current: i + 1, Total: len(targets), Message: err.Error()})
			if errors.Is(err, hub.ErrRateLimited) && !sleep(ctx, opts.RateLimitPause) {
				return res, ctx.Err()
			}
			continue
		}

		p.TotalDownloads = t.TotalDownloads
		if err := enc.Encode(p); err != nil {
			return res, fmt.Errorf("write profile %s: %w", t.Name, err)
		}
		res.Succeeded = append(res.Succeeded, t.Name)
		emit(hubstats.Event{Event: "profile_saved", Path: t.Name, Current: i + 1, Total: len(targets), Message: string(p.Kind)})
	}

	emit(hubstats.Event{Event: "done", Count: int64(len(res.Succeeded)),
		Message: fmt.Sprintf("scraped %d profiles, %d to retry", len(res.Succeeded), len(res.Retry))})
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ReadNames reads a retry file: one profile name per line, blank lines
// ignored.
func ReadNames(r io.Reader) ([]Target, error) {
	var out []Target
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			out = append(out, Target{Name: name})
		}
	}
	return out, sc.Err()
}

// RankAuthors returns the n authors of a snapshot with the most all-time
// downloads, highest first. Ties are ordered by name. n <= 0 returns all.
func RankAuthors(tab *snapshot.Table, n int) []Target {
	totals := map[string]int64{}
	for _, r := range tab.Records {
		author, ok := analytics.AuthorOf(r.EntityID)
		if !ok {
			continue
		}
		totals[author] += r.Counters[snapshot.Downloads].Int64
	}

	out := make([]Target, 0, len(totals))
	for a, d := range totals {
		out = append(out, Target{Name: a, TotalDownloads: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalDownloads != out[j].TotalDownloads {
			return out[i].TotalDownloads > out[j].TotalDownloads
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
