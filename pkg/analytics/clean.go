// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/danielyue/hubstats/pkg/snapshot"
)

// CleanRow is the parquet schema of a single cleaned snapshot.
type CleanRow struct {
	ID            string `parquet:"id"`
	Author        string `parquet:"author"`
	ModelName     string `parquet:"model_name"`
	Downloads     *int64 `parquet:"downloads,optional"`
	Likes         *int64 `parquet:"likes,optional"`
	TrendingScore *int64 `parquet:"trending_score,optional"`
	Downloads30   *int64 `parquet:"downloads30,optional"`
}

// CleanStats reports what CleanSnapshot dropped.
type CleanStats struct {
	Rows         int
	InvalidIDs   int
	DuplicateIDs int
}

// CleanSnapshot reads one snapshot file and writes its id, author, model
// name and counters to out, ordered by downloads descending (nulls last)
// then id. Rows are filtered like ComputeDeltas filters them.
func CleanSnapshot(path, out string, codec Codec) (CleanStats, int64, error) {
	var stats CleanStats
	tab, err := snapshot.ReadTable(path)
	if err != nil {
		return stats, 0, err
	}
	recs, invalid, dups := loadRecords(tab, time.Time{})
	stats.InvalidIDs, stats.DuplicateIDs, stats.Rows = invalid, dups, len(recs)

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].Counters[snapshot.Downloads], recs[j].Counters[snapshot.Downloads]
		if a.Valid != b.Valid {
			return a.Valid
		}
		if a.Int64 != b.Int64 {
			return a.Int64 > b.Int64
		}
		return recs[i].EntityID < recs[j].EntityID
	})

	rows := make([]CleanRow, len(recs))
	for i, r := range recs {
		rows[i] = CleanRow{
			ID:            r.EntityID,
			Author:        r.Author,
			ModelName:     strings.TrimPrefix(r.EntityID, r.Author+"/"),
			Downloads:     nullable(r.Counters[snapshot.Downloads]),
			Likes:         nullable(r.Counters[snapshot.Likes]),
			TrendingScore: nullable(r.Counters[snapshot.TrendingScore]),
			Downloads30:   nullable(r.Counters[snapshot.Downloads30]),
		}
	}
	size, err := writeParquet(out, rows, codec)
	return stats, size, err
}
