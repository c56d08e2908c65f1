// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hubstats holds the types shared by every hubstats library package.
//
// The packages under pkg/ build a historical corpus of Hugging Face Hub
// metadata and turn it into daily time series:
//
//   - [github.com/danielyue/hubstats/pkg/snapshot] names, hashes, catalogs and reads snapshot files
//   - [github.com/danielyue/hubstats/pkg/history] lists the versions of a dataset file
//   - [github.com/danielyue/hubstats/pkg/ingest] materializes one snapshot per distinct version
//   - [github.com/danielyue/hubstats/pkg/analytics] computes per-entity deltas and per-author aggregates
//   - [github.com/danielyue/hubstats/pkg/hub] talks to the Hub HTTP API
//   - [github.com/danielyue/hubstats/pkg/profile] scrapes public profile pages
//
// # Events
//
// Long running operations accept an [EventFunc]. Events describe progress,
// skips and data anomalies; they are the only side channel the algorithms
// use, so the same run can be rendered as a progress bar, JSON lines,
// slog records or Prometheus counters.
//
//	progress := func(ev hubstats.Event) {
//	    if ev.Event == "snapshot_saved" {
//	        fmt.Println("saved", ev.Path)
//	    }
//	}
package hubstats
