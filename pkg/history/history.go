// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package history lists the versions (commits) of a dataset repository.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danielyue/hubstats/pkg/hub"
)

// Version is one upstream version of a repository.
type Version struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
}

// Mentions reports whether the version's title or message mentions any of
// names, case-insensitively.
func (v Version) Mentions(names ...string) bool {
	text := strings.ToLower(v.Title + " " + v.Message)
	for _, n := range names {
		if n != "" && strings.Contains(text, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// Query selects the versions to list.
type Query struct {
	Repo     hub.Repo
	Revision string
	// Since excludes versions older than this time when non-zero.
	Since time.Time
}

// Lister lists the versions of a repository.
type Lister interface {
	Name() string
	List(ctx context.Context, q Query) ([]Version, error)
}

// ListError reports that every listing strategy failed.
type ListError struct {
	Repo string
	Err  error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("list versions of %s: %v", e.Repo, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// Chronological sorts versions oldest first; ties are ordered by id.
func Chronological(vs []Version) {
	sort.SliceStable(vs, func(i, j int) bool {
		if !vs[i].Time.Equal(vs[j].Time) {
			return vs[i].Time.Before(vs[j].Time)
		}
		return vs[i].ID < vs[j].ID
	})
}

// Fallback tries each lister in order and returns the first success.
type Fallback struct {
	Listers []Lister
	// OnFallback is called when a lister fails and the next one is tried.
	OnFallback func(failed Lister, err error)
}

// NewFallback returns a Fallback over listers.
func NewFallback(listers ...Lister) *Fallback {
	return &Fallback{Listers: listers}
}

func (f *Fallback) Name() string {
	names := make([]string, len(f.Listers))
	for i, l := range f.Listers {
		names[i] = l.Name()
	}
	return strings.Join(names, "+")
}

// List returns the versions of the first lister that succeeds. When all
// fail the result is a *ListError joining every failure.
func (f *Fallback) List(ctx context.Context, q Query) ([]Version, error) {
	var errs []error
	for i, l := range f.Listers {
		vs, err := l.List(ctx, q)
		if err == nil {
			return vs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
		if f.OnFallback != nil && i < len(f.Listers)-1 {
			f.OnFallback(l, err)
		}
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no version listers configured"))
	}
	return nil, &ListError{Repo: q.Repo.String(), Err: errors.Join(errs...)}
}
