// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubstats

import (
	"sync"
	"time"
)

// Event is a progress or diagnostic notification emitted by the library.
//
// Events are emitted by the ingestor, the delta engine and the profile
// scraper so that callers can drive a progress display, structured logs,
// metrics or a websocket stream without the algorithms knowing about any
// of them.
//
// The Event field names the event type:
//   - "list_start", "list_done": version history listing
//   - "version_start": a candidate version is being processed
//   - "snapshot_saved": a new snapshot file was materialized
//   - "snapshot_skip": a version or file was skipped (Message says why)
//   - "load_start", "file_loaded": snapshot files are being read
//   - "anomaly": a data anomaly (duplicate ids, dropped ids, negative deltas)
//   - "stage_done": a pipeline stage finished (Message carries timing)
//   - "output_written": an output table was written (Path, Bytes)
//   - "profile_start", "profile_saved", "profile_failed": profile scraping
//   - "retry": an HTTP request is being retried
//   - "error": a recoverable error
//   - "done": the operation finished
type Event struct {
	// Time is when the event occurred (UTC).
	Time time.Time `json:"time"`

	// Level is the log level: "debug", "info", "warn", "error".
	// Empty defaults to "info".
	Level string `json:"level,omitempty"`

	// Event is the event type identifier.
	Event string `json:"event"`

	// Repo is the repository being processed, if any.
	Repo string `json:"repo,omitempty"`

	// Version is the upstream commit id the event refers to.
	Version string `json:"version,omitempty"`

	// Path is a local file path or a remote file name.
	Path string `json:"path,omitempty"`

	// Bytes is a size in bytes (downloaded or written).
	Bytes int64 `json:"bytes,omitempty"`

	// Current and Total describe progress through a list of work items.
	Current int `json:"current,omitempty"`
	Total   int `json:"total,omitempty"`

	// Count is an event-specific counter (rows loaded, anomalies found).
	Count int64 `json:"count,omitempty"`

	// Attempt is the retry attempt number (1-based).
	Attempt int `json:"attempt,omitempty"`

	// Message contains additional context or error details.
	Message string `json:"message,omitempty"`
}

// EventFunc receives events. It may be called from multiple goroutines and
// must be safe for concurrent use.
type EventFunc func(Event)

// Emitter returns an EventFunc that fills in Time and Repo defaults before
// forwarding to fn. A nil fn yields a no-op.
func Emitter(fn EventFunc, repo string) EventFunc {
	return func(ev Event) {
		if fn == nil {
			return
		}
		if ev.Time.IsZero() {
			ev.Time = time.Now().UTC()
		}
		if ev.Repo == "" {
			ev.Repo = repo
		}
		if ev.Level == "" {
			ev.Level = "info"
		}
		fn(ev)
	}
}

// Multi fans a single event out to several receivers. Nil receivers are
// skipped.
func Multi(fns ...EventFunc) EventFunc {
	var live []EventFunc
	for _, fn := range fns {
		if fn != nil {
			live = append(live, fn)
		}
	}
	return func(ev Event) {
		for _, fn := range live {
			fn(ev)
		}
	}
}

// Serialized wraps fn so that concurrent calls are delivered one at a time.
func Serialized(fn EventFunc) EventFunc {
	if fn == nil {
		return nil
	}
	var mu sync.Mutex
	return func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		fn(ev)
	}
}
