// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 9, 23, 30, 0, 0, time.FixedZone("X", -5*3600))
	n := NewName("models", ts, "ABCDEF0123456789", FormatParquet)

	// 23:30 at UTC-5 is the next day in UTC.
	assert.Equal(t, "models-20250310-abcdef0.parquet", n.String())

	back, err := ParseName("/some/dir/" + n.String())
	require.NoError(t, err)
	assert.Equal(t, n, back)
}

func TestParseNameRejects(t *testing.T) {
	tests := []string{
		"entities-2025-01-01.parquet",
		"models-20250101.parquet",
		"models-20250101-ABCDEF0.parquet",
		"models-20250101-abcdef.parquet",
		"models-20251301-abcdef0.parquet",
		"models-20250101-abcdef0.json",
		"catalog.db",
	}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseName(name)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBadName))
			var ne *NameError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, name, ne.File)
		})
	}
}

func TestParseTableName(t *testing.T) {
	_, err := ParseTableName("datasets-20250101-abcdef0.csv", "models")
	assert.ErrorIs(t, err, ErrBadName)

	n, err := ParseTableName("models-20250101-abcdef0.csv", "models")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, n.Format)
	assert.Equal(t, "models", TableFromFile("models.parquet"))
}

func TestHashFileMatchesHashingWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.csv")

	f, err := os.Create(path)
	require.NoError(t, err)
	hw := NewHashingWriter(f)
	_, err = hw.Write([]byte("id,likes\nacme/a,1\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sum, size, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, hw.Sum(), sum)
	assert.Equal(t, hw.Size(), size)
	assert.Len(t, sum, 64)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func nv(n int64) sql.NullInt64 { return sql.NullInt64{Int64: n, Valid: true} }

func TestReadCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "models-20250101-abcdef0.csv",
		"id,author,downloadsAllTime,likes,downloads\n"+
			"acme/model-a,acme,100,3,10\n"+
			"acme/model-b,acme,,4.0,\n")

	tab, err := ReadTable(path)
	require.NoError(t, err)
	require.Len(t, tab.Records, 2)

	assert.True(t, tab.Present[Downloads])
	assert.False(t, tab.Present[TrendingScore])

	a := tab.Records[0]
	assert.Equal(t, "acme/model-a", a.EntityID)
	assert.Equal(t, nv(100), a.Counters[Downloads])
	assert.Equal(t, nv(3), a.Counters[Likes])
	assert.Equal(t, nv(10), a.Counters[Downloads30])
	assert.False(t, a.Counters[TrendingScore].Valid)

	b := tab.Records[1]
	assert.False(t, b.Counters[Downloads].Valid)
	assert.Equal(t, nv(4), b.Counters[Likes])
}

func TestReadCSVErrors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"missing id":  "name,likes\nx,1\n",
		"garbled":     "id,likes\nacme/a,1,2,3\n",
		"bad counter": "id,likes\nacme/a,lots\n",
		"empty":       "",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, "models-20250101-abcdef0.csv", content)
			_, err := ReadTable(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadFormat)
		})
	}

	path := writeFile(t, dir, "models-20250102-abcdef0.csv", "likes\n1\n")
	_, err := ReadTable(path)
	assert.ErrorIs(t, err, ErrMissingID)
}

type parquetFixture struct {
	ID               string   `parquet:"id"`
	Author           string   `parquet:"author"`
	DownloadsAllTime *int64   `parquet:"downloadsAllTime,optional"`
	Likes            int32    `parquet:"likes"`
	TrendingScore    *float64 `parquet:"trendingScore,optional"`
}

func ptr[T any](v T) *T { return &v }

func TestReadParquet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models-20250101-abcdef0.parquet")
	rows := []parquetFixture{
		{ID: "acme/model-a", Author: "acme", DownloadsAllTime: ptr[int64](100), Likes: 3, TrendingScore: ptr(2.6)},
		{ID: "acme/model-b", Author: "acme", Likes: 0},
	}
	require.NoError(t, parquet.WriteFile(path, rows))

	tab, err := ReadTable(path)
	require.NoError(t, err)
	require.Len(t, tab.Records, 2)

	assert.True(t, tab.Present[Downloads])
	assert.False(t, tab.Present[Downloads30], "downloads column absent")

	assert.Equal(t, "acme/model-a", tab.Records[0].EntityID)
	assert.Equal(t, nv(100), tab.Records[0].Counters[Downloads])
	assert.Equal(t, nv(3), tab.Records[0].Counters[Likes])
	assert.Equal(t, nv(3), tab.Records[0].Counters[TrendingScore], "floats are rounded")
	assert.False(t, tab.Records[0].Counters[Downloads30].Valid)

	assert.False(t, tab.Records[1].Counters[Downloads].Valid)
	assert.Equal(t, nv(0), tab.Records[1].Counters[Likes])
	assert.False(t, tab.Records[1].Counters[TrendingScore].Valid)
}

func TestReadParquetMissingID(t *testing.T) {
	type noID struct {
		Likes int64 `parquet:"likes"`
	}
	path := filepath.Join(t.TempDir(), "models-20250101-abcdef0.parquet")
	require.NoError(t, parquet.WriteFile(path, []noID{{Likes: 1}}))

	_, err := ReadTable(path)
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestReadParquetGarbage(t *testing.T) {
	path := writeFile(t, t.TempDir(), "models-20250101-abcdef0.parquet", "definitely not parquet")
	_, err := ReadTable(path)
	assert.ErrorIs(t, err, ErrBadFormat)
}

func TestStoreSyncAndRegister(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "models-20250101-aaaaaaa.csv", "id,likes\nacme/a,1\n")
	writeFile(t, dir, "models-20250102-bbbbbbb.csv", "id,likes\nacme/a,2\n")
	writeFile(t, dir, "models-20250103-ccccccc.csv", "id,likes\nacme/a,2\n")
	writeFile(t, dir, "notes.txt", "ignored")

	st, err := Open(dir)
	require.NoError(t, err)
	defer st.Close()

	res, err := st.Sync(ctx, "models")
	require.NoError(t, err)
	assert.Equal(t, []string{"models-20250101-aaaaaaa.csv", "models-20250102-bbbbbbb.csv"}, res.Added)
	assert.Equal(t, map[string]string{"models-20250103-ccccccc.csv": "models-20250102-bbbbbbb.csv"}, res.Duplicates)

	hashes, err := st.Hashes(ctx, "models")
	require.NoError(t, err)
	assert.Len(t, hashes, 2)

	// A second sync is a no-op.
	res, err = st.Sync(ctx, "models")
	require.NoError(t, err)
	assert.Empty(t, res.Added)

	snaps, err := st.List(ctx, "models")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), snaps[0].Date())
	assert.Equal(t, filepath.Join(dir, "models-20250101-aaaaaaa.csv"), snaps[0].Path)

	// Registering identical content under another name is refused.
	n, _ := ParseName("models-20250104-ddddddd.csv")
	err = st.Register(ctx, Snapshot{Name: n, ContentHash: snaps[0].ContentHash, Size: 1})
	assert.ErrorIs(t, err, ErrDuplicateContent)

	// Removed files leave the catalog.
	require.NoError(t, os.Remove(filepath.Join(dir, "models-20250102-bbbbbbb.csv")))
	res, err = st.Sync(ctx, "models")
	require.NoError(t, err)
	assert.Equal(t, []string{"models-20250102-bbbbbbb.csv"}, res.Removed)
	assert.Equal(t, []string{"models-20250103-ccccccc.csv"}, res.Added)
}
