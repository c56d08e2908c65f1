// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrBadName is matched by every *NameError.
	ErrBadName = errors.New("snapshot file name does not follow <table>-YYYYMMDD-<7 hex>.<ext>")

	// ErrBadFormat is matched by every *FormatError.
	ErrBadFormat = errors.New("unreadable snapshot file")

	// ErrMissingID is returned (wrapped in a *FormatError) when a file has no id column.
	ErrMissingID = errors.New("missing required column \"id\"")
)

// NameError reports a snapshot file whose name does not follow the naming
// convention or belongs to another table.
type NameError struct {
	File   string
	Reason string
}

func (e *NameError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("bad snapshot file name %q: %s", e.File, e.Reason)
	}
	return fmt.Sprintf("bad snapshot file name %q", e.File)
}

func (e *NameError) Is(target error) bool { return target == ErrBadName }

// FormatError reports a snapshot file that cannot be read as a table.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("read snapshot %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrBadFormat }
