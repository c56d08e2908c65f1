// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/danielyue/hubstats/pkg/snapshot"
)

// SnapshotFile is a snapshot file selected for analysis.
type SnapshotFile struct {
	Name snapshot.Name
	Path string
}

// DiscoverSnapshots lists the snapshot files of table in dir, ordered by
// date then file name.
//
// Every file with a .parquet or .csv extension is a candidate and must
// follow the naming convention for table; the first one that does not
// aborts discovery with a *snapshot.NameError. Other files are ignored.
func DiscoverSnapshots(dir, table string) ([]SnapshotFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discover snapshots: %w", err)
	}

	var files []SnapshotFile
	for _, e := range entries {
		if !e.Type().IsRegular() || snapshot.FormatOf(e.Name()) == "" {
			continue
		}
		n, err := snapshot.ParseTableName(e.Name(), table)
		if err != nil {
			return nil, err
		}
		files = append(files, SnapshotFile{Name: n, Path: filepath.Join(dir, e.Name())})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSnapshots, dir)
	}
	sortFiles(files)
	return files, nil
}

func sortFiles(files []SnapshotFile) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].Name.Date.Equal(files[j].Name.Date) {
			return files[i].Name.Date.Before(files[j].Name.Date)
		}
		return files[i].Path < files[j].Path
	})
}
