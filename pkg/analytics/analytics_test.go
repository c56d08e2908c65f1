// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielyue/hubstats/pkg/hubstats"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

// writeSnapshot writes a csv snapshot with the downloadsAllTime and likes
// columns. Each line is "id,downloadsAllTime,likes".
func writeSnapshot(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	body := "id,downloadsAllTime,likes\n" + strings.Join(lines, "\n") + "\n"
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func day(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }

func nv(n int64) sql.NullInt64 { return sql.NullInt64{Int64: n, Valid: true} }

func compute(t *testing.T, dir string, opts Options) ([]DeltaRecord, DeltaStats) {
	t.Helper()
	files, err := DiscoverSnapshots(dir, "models")
	require.NoError(t, err)
	deltas, stats, err := ComputeDeltas(context.Background(), files, opts, nil)
	require.NoError(t, err)
	return deltas, stats
}

func scenarioDir(t *testing.T) string {
	dir := t.TempDir()
	writeSnapshot(t, dir, "models-20250101-aaaaaaa.csv", "acme/model-a,100,1", "standalone-model,5,0")
	writeSnapshot(t, dir, "models-20250102-bbbbbbb.csv", "acme/model-a,150,2", "beta/x,10,0")
	writeSnapshot(t, dir, "models-20250103-ccccccc.csv", "acme/model-a,130,2", "beta/x,40,1")
	return dir
}

func TestComputeDeltasScenario(t *testing.T) {
	deltas, stats := compute(t, scenarioDir(t), Options{})

	require.Len(t, deltas, 5)
	a := deltas[:3]
	for i, d := range a {
		assert.Equal(t, "acme/model-a", d.EntityID)
		assert.Equal(t, "acme", d.Author)
		assert.Equal(t, day(i+1), d.Date)
	}
	assert.False(t, a[0].Deltas[snapshot.Downloads].Valid, "first observation has no delta")
	assert.Equal(t, nv(50), a[1].Deltas[snapshot.Downloads])
	assert.Equal(t, nv(-20), a[2].Deltas[snapshot.Downloads], "negative deltas are kept")
	assert.Equal(t, nv(1), a[1].Deltas[snapshot.Likes])
	assert.Equal(t, nv(0), a[2].Deltas[snapshot.Likes])

	// The csv has no downloads column: counter and delta stay null.
	assert.False(t, a[1].Counters[snapshot.Downloads30].Valid)
	assert.False(t, a[1].Deltas[snapshot.Downloads30].Valid)

	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 2, stats.Entities)
	assert.Equal(t, 1, stats.InvalidIDs, "standalone-model has no author")
	assert.Equal(t, 1, stats.Negative[snapshot.Downloads])
}

func TestComputeDeltasUsesPrecedingObservation(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "models-20250101-aaaaaaa.csv", "acme/a,10,0")
	writeSnapshot(t, dir, "models-20250102-bbbbbbb.csv", "other/b,1,0")
	writeSnapshot(t, dir, "models-20250105-ccccccc.csv", "acme/a,70,0")

	deltas, _ := compute(t, dir, Options{})
	require.Len(t, deltas, 3)
	assert.Equal(t, day(5), deltas[1].Date)
	assert.Equal(t, nv(60), deltas[1].Deltas[snapshot.Downloads], "gap days are not interpolated")
}

func TestComputeDeltasNullOperands(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "models-20250101-aaaaaaa.csv", "acme/a,10,")
	writeSnapshot(t, dir, "models-20250102-bbbbbbb.csv", "acme/a,,4")
	writeSnapshot(t, dir, "models-20250103-ccccccc.csv", "acme/a,30,5")

	deltas, _ := compute(t, dir, Options{})
	require.Len(t, deltas, 3)
	assert.False(t, deltas[1].Deltas[snapshot.Downloads].Valid)
	assert.False(t, deltas[1].Deltas[snapshot.Likes].Valid)
	assert.False(t, deltas[2].Deltas[snapshot.Downloads].Valid)
	assert.Equal(t, nv(1), deltas[2].Deltas[snapshot.Likes])
}

func TestComputeDeltasDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "models-20250101-aaaaaaa.csv", "acme/a,10,0", "acme/a,99,0", ",1,1")

	var anomalies []string
	files, err := DiscoverSnapshots(dir, "models")
	require.NoError(t, err)
	deltas, stats, err := ComputeDeltas(context.Background(), files, Options{}, func(ev hubstats.Event) {
		if ev.Event == "anomaly" {
			anomalies = append(anomalies, ev.Message)
		}
	})
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, nv(10), deltas[0].Counters[snapshot.Downloads], "first row wins")
	assert.Equal(t, 1, stats.DuplicateIDs)
	assert.Equal(t, 1, stats.InvalidIDs)
	assert.ElementsMatch(t, []string{"duplicate_ids", "invalid_ids"}, anomalies)
}

func TestComputeDeltasIndependentOfConcurrency(t *testing.T) {
	dir := scenarioDir(t)
	one, _ := compute(t, dir, Options{Concurrency: 1})
	many, _ := compute(t, dir, Options{Concurrency: 8})
	assert.Equal(t, one, many)
}

func TestDiscoverErrors(t *testing.T) {
	t.Run("empty dir", func(t *testing.T) {
		_, err := DiscoverSnapshots(t.TempDir(), "models")
		assert.ErrorIs(t, err, ErrNoSnapshots)
	})

	t.Run("bad name", func(t *testing.T) {
		dir := scenarioDir(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "entities-2025-01-01.parquet"), nil, 0o644))
		_, err := DiscoverSnapshots(dir, "models")
		var ne *snapshot.NameError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, "entities-2025-01-01.parquet", ne.File)
	})

	t.Run("other files ignored", func(t *testing.T) {
		dir := scenarioDir(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.db"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "models-20250104-ddddddd.parquet.part"), nil, 0o644))
		files, err := DiscoverSnapshots(dir, "models")
		require.NoError(t, err)
		assert.Len(t, files, 3)
	})
}

func TestComputeDeltasNoFiles(t *testing.T) {
	_, _, err := ComputeDeltas(context.Background(), nil, Options{}, nil)
	assert.ErrorIs(t, err, ErrNoSnapshots)
}

func TestComputeDeltasGarbledFile(t *testing.T) {
	dir := scenarioDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models-20250104-ddddddd.csv"), []byte("id,likes\n\"unterminated\n"), 0o644))

	files, err := DiscoverSnapshots(dir, "models")
	require.NoError(t, err)
	_, _, err = ComputeDeltas(context.Background(), files, Options{}, nil)
	assert.ErrorIs(t, err, snapshot.ErrBadFormat)
}

func TestDuplicateDates(t *testing.T) {
	dir := scenarioDir(t)
	writeSnapshot(t, dir, "models-20250102-fffffff.csv", "acme/model-a,999,9")
	files, err := DiscoverSnapshots(dir, "models")
	require.NoError(t, err)

	_, _, err = ComputeDeltas(context.Background(), files, Options{}, nil)
	var dd *DuplicateDateError
	require.ErrorAs(t, err, &dd)
	assert.Equal(t, day(2), dd.Date)
	assert.Len(t, dd.Files, 2)

	deltas, stats, err := ComputeDeltas(context.Background(), files, Options{DuplicateDates: DuplicateDrop}, nil)
	require.NoError(t, err)
	assert.Len(t, stats.DroppedFiles, 2)
	require.Len(t, deltas, 3)
	// Day 3 now follows day 1 directly.
	assert.Equal(t, nv(30), deltas[1].Deltas[snapshot.Downloads])
}

func TestAggregateScenario(t *testing.T) {
	deltas, _ := compute(t, scenarioDir(t), Options{})
	aggs := Aggregate(deltas)

	require.Len(t, aggs, 5)
	byKey := map[string]AuthorAggregate{}
	for _, a := range aggs {
		byKey[a.Author+"@"+a.Date.Format("02")] = a
	}

	d1 := byKey["acme@01"]
	assert.Equal(t, int64(1), d1.NEntities)
	assert.Equal(t, int64(0), d1.TotalDaily[snapshot.Downloads])
	assert.False(t, d1.AvgDailyPerEntity[snapshot.Downloads].Valid)
	assert.Equal(t, nv(100), d1.TotalCumulative[snapshot.Downloads])

	d2 := byKey["acme@02"]
	assert.Equal(t, int64(50), d2.TotalDaily[snapshot.Downloads])
	assert.InDelta(t, 50.0, d2.AvgDailyPerEntity[snapshot.Downloads].Float64, 1e-9)

	d3 := byKey["acme@03"]
	assert.Equal(t, int64(1), d3.NEntities, "entity with a negative delta is still counted")
	assert.Equal(t, int64(0), d3.TotalDaily[snapshot.Downloads])
	assert.False(t, d3.AvgDailyPerEntity[snapshot.Downloads].Valid)
	assert.Equal(t, nv(130), d3.TotalCumulative[snapshot.Downloads])

	// Missing columns aggregate to null cumulative totals.
	assert.False(t, d3.TotalCumulative[snapshot.Downloads30].Valid)
}

func TestAggregateOrdering(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "models-20250101-aaaaaaa.csv", "a/x,0,0", "b/x,0,0", "c/x,0,0")
	writeSnapshot(t, dir, "models-20250102-bbbbbbb.csv", "a/x,5,0", "b/x,20,0", "c/x,5,0")

	deltas, _ := compute(t, dir, Options{})
	aggs := Aggregate(deltas)

	var order []string
	for _, a := range aggs {
		order = append(order, a.Date.Format("02")+":"+a.Author)
	}
	assert.Equal(t, []string{"01:a", "01:b", "01:c", "02:b", "02:a", "02:c"}, order)
}

func TestSummaryAndTopAuthors(t *testing.T) {
	deltas, _ := compute(t, scenarioDir(t), Options{})
	aggs := Aggregate(deltas)

	s := Summarize(aggs)
	assert.Equal(t, 3, s.Days)
	assert.Equal(t, 2, s.Authors)
	assert.Equal(t, day(1), s.FirstDate)
	assert.Equal(t, day(3), s.LastDate)
	assert.Equal(t, int64(80), s.GrandTotal[snapshot.Downloads])
	assert.InDelta(t, 80.0/3, s.MeanDailyTotal, 1e-9)

	top := TopAuthors(aggs, 1)
	require.Len(t, top, 1)
	assert.Equal(t, "acme", top[0].Author)
	assert.Equal(t, int64(50), top[0].Total)
	assert.Equal(t, 3, top[0].ActiveDays)
}

func TestRunWritesReadableOutputs(t *testing.T) {
	out := t.TempDir()
	cfg := Config{SnapshotDir: scenarioDir(t)}.OutputDir(out)

	rep, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Positive(t, rep.DeltasSize)
	assert.Positive(t, rep.AggregatesSize)
	assert.Len(t, rep.Timings, 4)

	deltas, err := parquet.ReadFile[DeltaRow](filepath.Join(out, DeltasFile))
	require.NoError(t, err)
	require.Len(t, deltas, 5)
	assert.Equal(t, "acme/model-a", deltas[2].EntityID)
	assert.Equal(t, day(3), DateFromEpochDays(deltas[2].SnapshotDate))
	require.NotNil(t, deltas[2].DailyDownloads)
	assert.Equal(t, int64(-20), *deltas[2].DailyDownloads)
	assert.Nil(t, deltas[0].DailyDownloads)
	assert.Nil(t, deltas[0].Downloads30)

	aggs, err := parquet.ReadFile[AggregateRow](filepath.Join(out, AggregatesFile))
	require.NoError(t, err)
	require.Len(t, aggs, 5)
	assert.Equal(t, "acme", aggs[0].Author)
	assert.Nil(t, aggs[0].AvgDailyDownloadsPerEntity)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".part"), e.Name())
	}
}

func TestRunIsByteIdentical(t *testing.T) {
	dir := scenarioDir(t)
	out1, out2 := t.TempDir(), t.TempDir()

	_, err := Run(context.Background(), Config{SnapshotDir: dir, Options: Options{Concurrency: 1}}.OutputDir(out1), nil)
	require.NoError(t, err)
	_, err = Run(context.Background(), Config{SnapshotDir: dir, Options: Options{Concurrency: 4}}.OutputDir(out2), nil)
	require.NoError(t, err)

	for _, name := range []string{DeltasFile, AggregatesFile} {
		a, err := os.ReadFile(filepath.Join(out1, name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(out2, name))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(a, b), name)
	}
}

func TestRunFailureLeavesNoOutput(t *testing.T) {
	dir := scenarioDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models-20250104-ddddddd.csv"), []byte("likes\n1\n"), 0o644))
	out := t.TempDir()

	_, err := Run(context.Background(), Config{SnapshotDir: dir}.OutputDir(out), nil)
	require.ErrorIs(t, err, snapshot.ErrMissingID)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteParquetNoPartialFile(t *testing.T) {
	// The parent of the destination is a regular file, so the write fails.
	base := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(base, nil, 0o644))

	_, err := WriteAggregates(filepath.Join(base, "out.parquet"), nil, CodecZstd)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(base, "out.parquet"))
	assert.Error(t, statErr)
}

func TestCleanSnapshot(t *testing.T) {
	dir := t.TempDir()
	in := writeSnapshot(t, dir, "models-20250101-aaaaaaa.csv", "acme/small,5,0", "bad,1,1", "acme/big,500,3", "beta/none,,1")
	out := filepath.Join(dir, "clean", "models_clean.parquet")

	stats, size, err := CleanSnapshot(in, out, CodecSnappy)
	require.NoError(t, err)
	assert.Positive(t, size)
	assert.Equal(t, CleanStats{Rows: 3, InvalidIDs: 1}, stats)

	rows, err := parquet.ReadFile[CleanRow](out)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"acme/big", "acme/small", "beta/none"}, []string{rows[0].ID, rows[1].ID, rows[2].ID})
	assert.Equal(t, "big", rows[0].ModelName)
	assert.Nil(t, rows[2].Downloads)
}

func TestParsers(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, c)
	_, err = ParseCodec("lzo")
	assert.Error(t, err)

	p, err := ParseDuplicatePolicy("DROP")
	require.NoError(t, err)
	assert.Equal(t, DuplicateDrop, p)
	_, err = ParseDuplicatePolicy("merge")
	assert.Error(t, err)

	author, ok := AuthorOf("acme/model-a")
	assert.True(t, ok)
	assert.Equal(t, "acme", author)
	for _, id := range []string{"", "standalone-model", "/nameless"} {
		_, ok := AuthorOf(id)
		assert.False(t, ok, id)
	}
}
