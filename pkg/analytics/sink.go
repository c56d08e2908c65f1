// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/danielyue/hubstats/pkg/snapshot"
)

// Codec is the parquet compression codec of output tables.
type Codec string

const (
	CodecZstd   Codec = "zstd"
	CodecSnappy Codec = "snappy"
	CodecNone   Codec = "none"
)

// ParseCodec parses a codec name; empty means zstd.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CodecZstd, nil
	case CodecZstd, CodecSnappy, CodecNone:
		return c, nil
	}
	return "", fmt.Errorf("unknown compression %q (expected zstd, snappy or none)", s)
}

func (c Codec) compression() compress.Codec {
	switch c {
	case CodecSnappy:
		return &parquet.Snappy
	case CodecNone:
		return &parquet.Uncompressed
	default:
		return &parquet.Zstd
	}
}

// DeltaRow is the parquet schema of the per-entity delta table.
type DeltaRow struct {
	EntityID           string `parquet:"entity_id"`
	Author             string `parquet:"author"`
	SnapshotDate       int32  `parquet:"snapshot_date,date"`
	Downloads          *int64 `parquet:"downloads,optional"`
	Likes              *int64 `parquet:"likes,optional"`
	TrendingScore      *int64 `parquet:"trending_score,optional"`
	Downloads30        *int64 `parquet:"downloads30,optional"`
	DailyDownloads     *int64 `parquet:"daily_downloads,optional"`
	DailyLikes         *int64 `parquet:"daily_likes,optional"`
	DailyTrendingScore *int64 `parquet:"daily_trending_score,optional"`
	DailyDownloads30   *int64 `parquet:"daily_downloads30,optional"`
}

// AggregateRow is the parquet schema of the author aggregate table.
type AggregateRow struct {
	SnapshotDate int32  `parquet:"snapshot_date,date"`
	Author       string `parquet:"author"`
	NEntities    int64  `parquet:"n_entities"`

	TotalDailyDownloads            int64    `parquet:"total_daily_downloads"`
	AvgDailyDownloadsPerEntity     *float64 `parquet:"avg_daily_downloads_per_entity,optional"`
	TotalCumulativeDownloads       *int64   `parquet:"total_cumulative_downloads,optional"`
	TotalDailyLikes                int64    `parquet:"total_daily_likes"`
	AvgDailyLikesPerEntity         *float64 `parquet:"avg_daily_likes_per_entity,optional"`
	TotalCumulativeLikes           *int64   `parquet:"total_cumulative_likes,optional"`
	TotalDailyTrendingScore        int64    `parquet:"total_daily_trending_score"`
	AvgDailyTrendingScorePerEntity *float64 `parquet:"avg_daily_trending_score_per_entity,optional"`
	TotalCumulativeTrendingScore   *int64   `parquet:"total_cumulative_trending_score,optional"`
	TotalDailyDownloads30          int64    `parquet:"total_daily_downloads30"`
	AvgDailyDownloads30PerEntity   *float64 `parquet:"avg_daily_downloads30_per_entity,optional"`
	TotalCumulativeDownloads30     *int64   `parquet:"total_cumulative_downloads30,optional"`
}

const secondsPerDay = 24 * 60 * 60

// epochDays converts a date to days since 1970-01-01.
func epochDays(t time.Time) int32 {
	return int32(t.Unix() / secondsPerDay)
}

// DateFromEpochDays is the inverse of the snapshot_date encoding.
func DateFromEpochDays(d int32) time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

func nullable(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// DeltaRows converts delta records to their parquet rows.
func DeltaRows(deltas []DeltaRecord) []DeltaRow {
	rows := make([]DeltaRow, len(deltas))
	for i := range deltas {
		d := &deltas[i]
		rows[i] = DeltaRow{
			EntityID:           d.EntityID,
			Author:             d.Author,
			SnapshotDate:       epochDays(d.Date),
			Downloads:          nullable(d.Counters[snapshot.Downloads]),
			Likes:              nullable(d.Counters[snapshot.Likes]),
			TrendingScore:      nullable(d.Counters[snapshot.TrendingScore]),
			Downloads30:        nullable(d.Counters[snapshot.Downloads30]),
			DailyDownloads:     nullable(d.Deltas[snapshot.Downloads]),
			DailyLikes:         nullable(d.Deltas[snapshot.Likes]),
			DailyTrendingScore: nullable(d.Deltas[snapshot.TrendingScore]),
			DailyDownloads30:   nullable(d.Deltas[snapshot.Downloads30]),
		}
	}
	return rows
}

// AggregateRows converts aggregates to their parquet rows.
func AggregateRows(aggs []AuthorAggregate) []AggregateRow {
	rows := make([]AggregateRow, len(aggs))
	for i := range aggs {
		a := &aggs[i]
		rows[i] = AggregateRow{
			SnapshotDate: epochDays(a.Date),
			Author:       a.Author,
			NEntities:    a.NEntities,

			TotalDailyDownloads:            a.TotalDaily[snapshot.Downloads],
			AvgDailyDownloadsPerEntity:     nullableFloat(a.AvgDailyPerEntity[snapshot.Downloads]),
			TotalCumulativeDownloads:       nullable(a.TotalCumulative[snapshot.Downloads]),
			TotalDailyLikes:                a.TotalDaily[snapshot.Likes],
			AvgDailyLikesPerEntity:         nullableFloat(a.AvgDailyPerEntity[snapshot.Likes]),
			TotalCumulativeLikes:           nullable(a.TotalCumulative[snapshot.Likes]),
			TotalDailyTrendingScore:        a.TotalDaily[snapshot.TrendingScore],
			AvgDailyTrendingScorePerEntity: nullableFloat(a.AvgDailyPerEntity[snapshot.TrendingScore]),
			TotalCumulativeTrendingScore:   nullable(a.TotalCumulative[snapshot.TrendingScore]),
			TotalDailyDownloads30:          a.TotalDaily[snapshot.Downloads30],
			AvgDailyDownloads30PerEntity:   nullableFloat(a.AvgDailyPerEntity[snapshot.Downloads30]),
			TotalCumulativeDownloads30:     nullable(a.TotalCumulative[snapshot.Downloads30]),
		}
	}
	return rows
}

// WriteDeltas writes the delta table to path and returns the file size.
func WriteDeltas(path string, deltas []DeltaRecord, codec Codec) (int64, error) {
	return writeParquet(path, DeltaRows(deltas), codec)
}

// WriteAggregates writes the aggregate table to path and returns the file size.
func WriteAggregates(path string, aggs []AuthorAggregate, codec Codec) (int64, error) {
	return writeParquet(path, AggregateRows(aggs), codec)
}

// writeParquet writes rows to <path>.part and renames it into place once
// the file is complete. On failure no file is left at path.
func writeParquet[T any](path string, rows []T, codec Codec) (size int64, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	w := parquet.NewGenericWriter[T](f, parquet.Compression(codec.compression()))
	if _, err := w.Write(rows); err != nil {
		return 0, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
