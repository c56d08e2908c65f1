// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Table is the in-memory content of one snapshot file restricted to the
// entity id and the tracked counters.
type Table struct {
	Path    string
	Records []Record
	// Present reports which counter columns exist in the file. A missing
	// column leaves the counter null for every row.
	Present [NumCounters]bool
}

// ReadTable reads the id and counter columns of a parquet or csv snapshot.
// Other columns are ignored. A file without an id column, or one that
// cannot be decoded, yields a *FormatError.
func ReadTable(path string) (*Table, error) {
	switch FormatOf(path) {
	case FormatParquet:
		return readParquet(path)
	case FormatCSV:
		return readCSV(path)
	default:
		return nil, &FormatError{Path: path, Err: errors.New("unsupported extension")}
	}
}

func readParquet(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}

	schema := pf.Schema()
	idCol, ok := schema.Lookup(IDColumn)
	if !ok {
		return nil, &FormatError{Path: path, Err: ErrMissingID}
	}
	if idCol.MaxRepetitionLevel > 0 {
		return nil, &FormatError{Path: path, Err: errors.New("id column is repeated")}
	}

	t := &Table{Path: path}
	counterCols := [NumCounters]int{}
	for _, c := range Counters {
		counterCols[c] = -1
		leaf, ok := schema.Lookup(c.SourceColumn())
		if !ok {
			continue
		}
		if leaf.MaxRepetitionLevel > 0 {
			return nil, &FormatError{Path: path, Err: fmt.Errorf("column %s is repeated", c.SourceColumn())}
		}
		counterCols[c] = leaf.ColumnIndex
		t.Present[c] = true
	}

	for _, rg := range pf.RowGroups() {
		chunks := rg.ColumnChunks()
		base := len(t.Records)

		err := eachValue(chunks[idCol.ColumnIndex], func(v parquet.Value) error {
			var id string
			if !v.IsNull() {
				if v.Kind() != parquet.ByteArray && v.Kind() != parquet.FixedLenByteArray {
					return fmt.Errorf("id column has type %s", v.Kind())
				}
				id = string(v.ByteArray())
			}
			t.Records = append(t.Records, Record{EntityID: id})
			return nil
		})
		if err != nil {
			return nil, &FormatError{Path: path, Err: err}
		}
		rows := len(t.Records) - base

		for _, c := range Counters {
			if counterCols[c] < 0 {
				continue
			}
			i := 0
			err := eachValue(chunks[counterCols[c]], func(v parquet.Value) error {
				if i >= rows {
					return fmt.Errorf("column %s has more values than rows", c.SourceColumn())
				}
				n, err := parquetCounter(v)
				if err != nil {
					return fmt.Errorf("column %s row %d: %w", c.SourceColumn(), base+i, err)
				}
				t.Records[base+i].Counters[c] = n
				i++
				return nil
			})
			if err != nil {
				return nil, &FormatError{Path: path, Err: err}
			}
			if i != rows {
				return nil, &FormatError{Path: path, Err: fmt.Errorf("column %s has %d values for %d rows", c.SourceColumn(), i, rows)}
			}
		}
	}
	return t, nil
}

// eachValue walks every value of a column chunk page by page. Values are
// only valid during the callback.
func eachValue(chunk parquet.ColumnChunk, fn func(parquet.Value) error) error {
	pages := chunk.Pages()
	defer pages.Close()

	buf := make([]parquet.Value, 512)
	for {
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		values := page.Values()
		for {
			n, err := values.ReadValues(buf)
			for _, v := range buf[:n] {
				if ferr := fn(v); ferr != nil {
					return ferr
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}
	}
}

func parquetCounter(v parquet.Value) (sql.NullInt64, error) {
	if v.IsNull() {
		return sql.NullInt64{}, nil
	}
	switch v.Kind() {
	case parquet.Int32:
		return sql.NullInt64{Int64: int64(v.Int32()), Valid: true}, nil
	case parquet.Int64:
		return sql.NullInt64{Int64: v.Int64(), Valid: true}, nil
	case parquet.Float:
		return roundCounter(float64(v.Float())), nil
	case parquet.Double:
		return roundCounter(v.Double()), nil
	case parquet.ByteArray:
		return parseCounter(string(v.ByteArray()))
	default:
		return sql.NullInt64{}, fmt.Errorf("unsupported counter type %s", v.Kind())
	}
}

// roundCounter converts a float counter, mapping NaN to null.
func roundCounter(f float64) sql.NullInt64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(math.Round(f)), Valid: true}
}

// parseCounter parses a textual counter. Empty strings are null; integral
// floats such as "12.0" are accepted.
func parseCounter(s string) (sql.NullInt64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullInt64{}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sql.NullInt64{Int64: n, Valid: true}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullInt64{}, fmt.Errorf("invalid counter value %q", s)
	}
	return roundCounter(f), nil
}

func readCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, &FormatError{Path: path, Err: errors.New("empty file")}
	}
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}

	idIdx := -1
	cols := [NumCounters]int{}
	for i := range cols {
		cols[i] = -1
	}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == IDColumn {
			idIdx = i
			continue
		}
		for _, c := range Counters {
			if h == c.SourceColumn() {
				cols[c] = i
			}
		}
	}
	if idIdx < 0 {
		return nil, &FormatError{Path: path, Err: ErrMissingID}
	}

	t := &Table{Path: path}
	for _, c := range Counters {
		t.Present[c] = cols[c] >= 0
	}

	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &FormatError{Path: path, Err: err}
		}
		rec := Record{EntityID: strings.TrimSpace(row[idIdx])}
		for _, c := range Counters {
			if cols[c] < 0 {
				continue
			}
			n, err := parseCounter(row[cols[c]])
			if err != nil {
				return nil, &FormatError{Path: path, Err: fmt.Errorf("line %d column %s: %w", line, c.SourceColumn(), err)}
			}
			rec.Counters[c] = n
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}
