// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Format is the on-disk encoding of a snapshot.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
)

// FormatOf returns the format implied by a file extension, or "" when the
// extension is not a snapshot extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return FormatParquet
	case ".csv":
		return FormatCSV
	}
	return ""
}

// DateLayout is the date layout used inside snapshot file names.
const DateLayout = "20060102"

// VersionLen is the number of commit id characters kept in a file name.
const VersionLen = 7

var nameRe = regexp.MustCompile(`^(.+)-([0-9]{8})-([0-9a-f]{7})\.(parquet|csv)$`)

// Name is the parsed form of a snapshot file name:
//
//	<table>-<YYYYMMDD>-<7 hex>.<parquet|csv>
type Name struct {
	Table   string
	Date    time.Time
	Version string
	Format  Format
}

// NewName builds the name of a snapshot of table taken at t from the given
// commit id. The date is taken in UTC.
func NewName(table string, t time.Time, commit string, format Format) Name {
	v := strings.ToLower(commit)
	if len(v) > VersionLen {
		v = v[:VersionLen]
	}
	y, m, d := t.UTC().Date()
	return Name{
		Table:   table,
		Date:    time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Version: v,
		Format:  format,
	}
}

func (n Name) String() string {
	return fmt.Sprintf("%s-%s-%s.%s", n.Table, n.Date.Format(DateLayout), n.Version, n.Format)
}

// ParseName parses the base name of path. Any file that does not follow
// the convention yields a *NameError.
func ParseName(path string) (Name, error) {
	base := filepath.Base(path)
	m := nameRe.FindStringSubmatch(base)
	if m == nil {
		return Name{}, &NameError{File: base}
	}
	d, err := time.ParseInLocation(DateLayout, m[2], time.UTC)
	if err != nil {
		return Name{}, &NameError{File: base, Reason: "invalid date " + m[2]}
	}
	return Name{Table: m[1], Date: d, Version: m[3], Format: Format(m[4])}, nil
}

// ParseTableName is ParseName restricted to one table.
func ParseTableName(path, table string) (Name, error) {
	n, err := ParseName(path)
	if err != nil {
		return n, err
	}
	if n.Table != table {
		return Name{}, &NameError{File: filepath.Base(path), Reason: fmt.Sprintf("expected table %q, got %q", table, n.Table)}
	}
	return n, nil
}

// TableFromFile derives the table name from a dataset file name such as
// "models.parquet".
func TableFromFile(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
