// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package snapshot

import "database/sql"

// Counter identifies one of the tracked popularity counters of a model.
type Counter int

const (
	// Downloads is the all-time download count. It is the primary counter
	// used to rank authors.
	Downloads Counter = iota
	Likes
	TrendingScore
	// Downloads30 is the rolling recent-window download count the Hub
	// reports as "downloads".
	Downloads30

	// NumCounters is the number of tracked counters.
	NumCounters = 4
)

// Primary is the counter used for ordering and summaries.
const Primary = Downloads

// Counters lists every tracked counter in output column order.
var Counters = [NumCounters]Counter{Downloads, Likes, TrendingScore, Downloads30}

var counterInfo = [NumCounters]struct {
	name   string
	source string
}{
	Downloads:     {"downloads", "downloadsAllTime"},
	Likes:         {"likes", "likes"},
	TrendingScore: {"trending_score", "trendingScore"},
	Downloads30:   {"downloads30", "downloads"},
}

// Name returns the output column name of the counter.
func (c Counter) Name() string { return counterInfo[c].name }

// SourceColumn returns the column the counter is read from in a snapshot file.
func (c Counter) SourceColumn() string { return counterInfo[c].source }

func (c Counter) String() string { return c.Name() }

// Values holds one nullable value per counter.
type Values [NumCounters]sql.NullInt64

// Record is one entity row of a snapshot.
type Record struct {
	EntityID string
	Counters Values
}

// IDColumn is the required entity id column.
const IDColumn = "id"
