// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielyue/hubstats/pkg/hubstats"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

// DeltaRecord is one entity observed on one snapshot date.
//
// Deltas[c] is Counters[c] minus the entity's value on its immediately
// preceding observed date, whatever the calendar gap. It is null on the
// entity's first observation and whenever either value is null.
type DeltaRecord struct {
	EntityID string
	Author   string
	Date     time.Time
	Counters snapshot.Values
	Deltas   snapshot.Values
}

// DeltaStats summarizes a delta computation.
type DeltaStats struct {
	Files    int
	Rows     int
	Entities int
	// InvalidIDs counts rows dropped because no author could be derived.
	InvalidIDs int
	// DuplicateIDs counts rows dropped because their id repeated within a file.
	DuplicateIDs int
	// DroppedFiles lists files excluded by the duplicate-date policy.
	DroppedFiles []string
	// Negative counts negative deltas per counter. They are kept in the
	// delta table and excluded from aggregate totals.
	Negative [snapshot.NumCounters]int
}

// AuthorOf returns the author part of an entity id, the text before the
// first "/". ok is false when the id has no "/" or the author is empty.
func AuthorOf(id string) (author string, ok bool) {
	i := strings.IndexByte(id, '/')
	if i <= 0 {
		return "", false
	}
	return id[:i], true
}

// ComputeDeltas reads every file and computes per-entity daily deltas.
//
// The result is sorted by (EntityID, Date) and does not depend on the
// order of files or on Options.Concurrency.
func ComputeDeltas(ctx context.Context, files []SnapshotFile, opts Options, progress hubstats.EventFunc) ([]DeltaRecord, DeltaStats, error) {
	opts = opts.withDefaults()
	emit := hubstats.Emitter(progress, "")
	var stats DeltaStats

	if len(files) == 0 {
		return nil, stats, ErrNoSnapshots
	}
	files, dropped, err := resolveDuplicateDates(files, opts.DuplicateDates)
	if err != nil {
		return nil, stats, err
	}
	for _, p := range dropped {
		emit(hubstats.Event{Level: "warn", Event: "snapshot_skip", Path: p, Message: "duplicate snapshot date"})
	}
	stats.DroppedFiles = dropped
	if len(files) == 0 {
		return nil, stats, ErrNoSnapshots
	}
	stats.Files = len(files)

	emit(hubstats.Event{Event: "load_start", Total: len(files), Message: fmt.Sprintf("loading %d snapshot files", len(files))})

	var (
		mu     sync.Mutex
		union  []DeltaRecord
		loaded int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tab, err := snapshot.ReadTable(f.Path)
			if err != nil {
				return err
			}
			recs, invalid, dups := loadRecords(tab, f.Name.Date)

			mu.Lock()
			union = append(union, recs...)
			stats.InvalidIDs += invalid
			stats.DuplicateIDs += dups
			loaded++
			current := loaded
			mu.Unlock()

			emit(hubstats.Event{Level: "debug", Event: "file_loaded", Path: f.Path, Current: current, Total: len(files), Count: int64(len(recs))})
			if invalid > 0 {
				emit(hubstats.Event{Level: "debug", Event: "anomaly", Path: f.Path, Count: int64(invalid), Message: "invalid_ids"})
			}
			if dups > 0 {
				emit(hubstats.Event{Level: "warn", Event: "anomaly", Path: f.Path, Count: int64(dups), Message: "duplicate_ids"})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	sort.Slice(union, func(i, j int) bool {
		if union[i].EntityID != union[j].EntityID {
			return union[i].EntityID < union[j].EntityID
		}
		return union[i].Date.Before(union[j].Date)
	})

	for i := range union {
		cur := &union[i]
		if i == 0 || union[i-1].EntityID != cur.EntityID {
			stats.Entities++
			continue
		}
		prev := &union[i-1]
		for _, c := range snapshot.Counters {
			if !cur.Counters[c].Valid || !prev.Counters[c].Valid {
				continue
			}
			d := cur.Counters[c].Int64 - prev.Counters[c].Int64
			cur.Deltas[c].Int64, cur.Deltas[c].Valid = d, true
			if d < 0 {
				stats.Negative[c]++
			}
		}
	}
	stats.Rows = len(union)

	for _, c := range snapshot.Counters {
		if n := stats.Negative[c]; n > 0 {
			emit(hubstats.Event{Level: "debug", Event: "anomaly", Count: int64(n), Message: "negative_" + c.Name() + "_deltas"})
		}
	}
	emit(hubstats.Event{Event: "stage_done", Count: int64(stats.Rows),
		Message: fmt.Sprintf("deltas: %d rows, %d entities, %d files", stats.Rows, stats.Entities, stats.Files)})
	return union, stats, nil
}

// loadRecords keeps the rows of a snapshot with a derivable author, first
// occurrence per id.
func loadRecords(tab *snapshot.Table, date time.Time) (recs []DeltaRecord, invalid, dups int) {
	seen := make(map[string]struct{}, len(tab.Records))
	recs = make([]DeltaRecord, 0, len(tab.Records))
	for _, r := range tab.Records {
		author, ok := AuthorOf(r.EntityID)
		if !ok {
			invalid++
			continue
		}
		if _, dup := seen[r.EntityID]; dup {
			dups++
			continue
		}
		seen[r.EntityID] = struct{}{}
		recs = append(recs, DeltaRecord{EntityID: r.EntityID, Author: author, Date: date, Counters: r.Counters})
	}
	return recs, invalid, dups
}

// resolveDuplicateDates applies policy to files sharing a date.
func resolveDuplicateDates(files []SnapshotFile, policy DuplicatePolicy) (kept []SnapshotFile, dropped []string, err error) {
	sorted := append([]SnapshotFile(nil), files...)
	sortFiles(sorted)

	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Name.Date.Equal(sorted[i].Name.Date) {
			j++
		}
		if j-i == 1 {
			kept = append(kept, sorted[i])
			i = j
			continue
		}
		var paths []string
		for _, f := range sorted[i:j] {
			paths = append(paths, f.Path)
		}
		if policy != DuplicateDrop {
			return nil, nil, &DuplicateDateError{Date: sorted[i].Name.Date, Files: paths}
		}
		dropped = append(dropped, paths...)
		i = j
	}
	return kept, dropped, nil
}
