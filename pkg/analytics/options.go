// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// DuplicatePolicy decides what happens when two snapshot files carry the
// same date.
type DuplicatePolicy string

const (
	// DuplicateError aborts the run with a *DuplicateDateError.
	DuplicateError DuplicatePolicy = "error"
	// DuplicateDrop excludes every file of an ambiguous date.
	DuplicateDrop DuplicatePolicy = "drop"
)

// ParseDuplicatePolicy parses a policy name; empty means DuplicateError.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DuplicateError:
		return DuplicateError, nil
	case DuplicateDrop:
		return DuplicateDrop, nil
	}
	return "", fmt.Errorf("unknown duplicate-date policy %q (expected error or drop)", s)
}

// Options configures delta computation.
type Options struct {
	// TableName is the table prefix every snapshot file name must carry.
	// If empty, defaults to "models".
	TableName string

	// DuplicateDates selects the duplicate snapshot date policy.
	// If empty, defaults to DuplicateError.
	DuplicateDates DuplicatePolicy

	// Concurrency bounds how many snapshot files are read in parallel.
	// If <= 0, defaults to GOMAXPROCS.
	Concurrency int
}

// DefaultOptions returns Options with defaults filled in.
func DefaultOptions() Options {
	return Options{
		TableName:      "models",
		DuplicateDates: DuplicateError,
		Concurrency:    runtime.GOMAXPROCS(0),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TableName == "" {
		o.TableName = d.TableName
	}
	if o.DuplicateDates == "" {
		o.DuplicateDates = d.DuplicateDates
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	return o
}

// ErrNoSnapshots is returned when a snapshot directory holds no snapshot files.
var ErrNoSnapshots = errors.New("no snapshot files found")

// DuplicateDateError reports snapshot files that share a date.
type DuplicateDateError struct {
	Date  time.Time
	Files []string
}

func (e *DuplicateDateError) Error() string {
	return fmt.Sprintf("duplicate snapshot date %s: %s", e.Date.Format(time.DateOnly), strings.Join(e.Files, ", "))
}
