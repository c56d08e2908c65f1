// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"database/sql"
	"sort"
	"time"

	"github.com/danielyue/hubstats/pkg/snapshot"
)

// AuthorAggregate is the roll-up of one author's entities on one date.
type AuthorAggregate struct {
	Date   time.Time
	Author string
	// NEntities counts every entity of the author observed on Date,
	// whether or not its deltas are valid.
	NEntities int64
	// TotalDaily sums the non-null, non-negative deltas. It is 0 when
	// there are none.
	TotalDaily [snapshot.NumCounters]int64
	// AvgDailyPerEntity is the mean over the same deltas, null when there
	// are none.
	AvgDailyPerEntity [snapshot.NumCounters]sql.NullFloat64
	// TotalCumulative sums the raw counter values, null when every value
	// is null.
	TotalCumulative snapshot.Values
}

type aggKey struct {
	date   int64
	author string
}

// Aggregate groups delta records by (author, date).
//
// The result is ordered by date ascending, then primary TotalDaily
// descending, then author ascending.
func Aggregate(deltas []DeltaRecord) []AuthorAggregate {
	type acc struct {
		agg   AuthorAggregate
		valid [snapshot.NumCounters]int64
	}
	groups := map[aggKey]*acc{}

	for i := range deltas {
		d := &deltas[i]
		k := aggKey{date: d.Date.Unix(), author: d.Author}
		a := groups[k]
		if a == nil {
			a = &acc{agg: AuthorAggregate{Date: d.Date, Author: d.Author}}
			groups[k] = a
		}
		a.agg.NEntities++
		for _, c := range snapshot.Counters {
			if v := d.Counters[c]; v.Valid {
				a.agg.TotalCumulative[c].Int64 += v.Int64
				a.agg.TotalCumulative[c].Valid = true
			}
			if v := d.Deltas[c]; v.Valid && v.Int64 >= 0 {
				a.agg.TotalDaily[c] += v.Int64
				a.valid[c]++
			}
		}
	}

	out := make([]AuthorAggregate, 0, len(groups))
	for _, a := range groups {
		for _, c := range snapshot.Counters {
			if n := a.valid[c]; n > 0 {
				a.agg.AvgDailyPerEntity[c] = sql.NullFloat64{Float64: float64(a.agg.TotalDaily[c]) / float64(n), Valid: true}
			}
		}
		out = append(out, a.agg)
	}
	sortAggregates(out)
	return out
}

func sortAggregates(aggs []AuthorAggregate) {
	sort.Slice(aggs, func(i, j int) bool {
		a, b := &aggs[i], &aggs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.TotalDaily[snapshot.Primary] != b.TotalDaily[snapshot.Primary] {
			return a.TotalDaily[snapshot.Primary] > b.TotalDaily[snapshot.Primary]
		}
		return a.Author < b.Author
	})
}

// Summary describes an aggregate table in terms of the primary counter.
type Summary struct {
	Days      int       `json:"days"`
	Authors   int       `json:"authors"`
	Rows      int       `json:"rows"`
	FirstDate time.Time `json:"first_date"`
	LastDate  time.Time `json:"last_date"`
	// GrandTotal sums TotalDaily of every row per counter.
	GrandTotal [snapshot.NumCounters]int64 `json:"grand_total"`
	// MeanDailyTotal is the primary GrandTotal divided by Days.
	MeanDailyTotal float64 `json:"mean_daily_total"`
}

// Summarize computes summary statistics of aggs.
func Summarize(aggs []AuthorAggregate) Summary {
	s := Summary{Rows: len(aggs)}
	days := map[int64]struct{}{}
	authors := map[string]struct{}{}
	for i, a := range aggs {
		days[a.Date.Unix()] = struct{}{}
		authors[a.Author] = struct{}{}
		if i == 0 || a.Date.Before(s.FirstDate) {
			s.FirstDate = a.Date
		}
		if a.Date.After(s.LastDate) {
			s.LastDate = a.Date
		}
		for _, c := range snapshot.Counters {
			s.GrandTotal[c] += a.TotalDaily[c]
		}
	}
	s.Days = len(days)
	s.Authors = len(authors)
	if s.Days > 0 {
		s.MeanDailyTotal = float64(s.GrandTotal[snapshot.Primary]) / float64(s.Days)
	}
	return s
}

// AuthorTotal is one author's activity over the whole aggregate table.
type AuthorTotal struct {
	Author      string  `json:"author"`
	ActiveDays  int     `json:"active_days"`
	Total       int64   `json:"total"`
	MeanDaily   float64 `json:"mean_daily"`
	MaxEntities int64   `json:"max_entities"`
}

// TopAuthors ranks authors by the sum of their primary daily totals and
// returns at most n of them. Ties are broken by author name.
func TopAuthors(aggs []AuthorAggregate, n int) []AuthorTotal {
	by := map[string]*AuthorTotal{}
	for _, a := range aggs {
		t := by[a.Author]
		if t == nil {
			t = &AuthorTotal{Author: a.Author}
			by[a.Author] = t
		}
		t.ActiveDays++
		t.Total += a.TotalDaily[snapshot.Primary]
		if a.NEntities > t.MaxEntities {
			t.MaxEntities = a.NEntities
		}
	}
	out := make([]AuthorTotal, 0, len(by))
	for _, t := range by {
		t.MeanDaily = float64(t.Total) / float64(t.ActiveDays)
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Author < out[j].Author
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
