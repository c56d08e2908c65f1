// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielyue/hubstats/pkg/hubstats"
)

// Default output file names.
const (
	DeltasFile     = "model_daily_deltas.parquet"
	AggregatesFile = "author_daily_downloads.parquet"
)

// Config describes one analysis run over a snapshot directory.
type Config struct {
	Options

	// SnapshotDir holds the snapshot files.
	SnapshotDir string

	// DeltasPath and AggregatesPath are the output files. Either may be
	// empty to skip writing that table.
	DeltasPath     string
	AggregatesPath string

	// Codec compresses both outputs. If empty, defaults to zstd.
	Codec Codec

	// TopN is the number of authors ranked in the report. If <= 0,
	// defaults to 10.
	TopN int
}

// OutputDir returns Config with both outputs placed in dir under their
// default names.
func (c Config) OutputDir(dir string) Config {
	c.DeltasPath = filepath.Join(dir, DeltasFile)
	c.AggregatesPath = filepath.Join(dir, AggregatesFile)
	return c
}

// StageTiming is the wall time of one pipeline stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of Run.
type Report struct {
	Stats          DeltaStats    `json:"stats"`
	Summary        Summary       `json:"summary"`
	TopAuthors     []AuthorTotal `json:"top_authors"`
	DeltasPath     string        `json:"deltas_path,omitempty"`
	DeltasSize     int64         `json:"deltas_size,omitempty"`
	AggregatesPath string        `json:"aggregates_path,omitempty"`
	AggregatesSize int64         `json:"aggregates_size,omitempty"`
	Timings        []StageTiming `json:"timings"`
}

// Run discovers the snapshots of cfg.SnapshotDir, computes deltas and
// aggregates and writes both tables.
func Run(ctx context.Context, cfg Config, progress hubstats.EventFunc) (*Report, error) {
	cfg.Options = cfg.Options.withDefaults()
	if cfg.Codec == "" {
		cfg.Codec = CodecZstd
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	emit := hubstats.Emitter(progress, "")
	rep := &Report{}

	stage := func(name string, start time.Time) {
		d := time.Since(start)
		rep.Timings = append(rep.Timings, StageTiming{Stage: name, Duration: d})
		emit(hubstats.Event{Level: "debug", Event: "stage_done", Message: fmt.Sprintf("%s took %s", name, d.Round(time.Millisecond))})
	}

	start := time.Now()
	files, err := DiscoverSnapshots(cfg.SnapshotDir, cfg.TableName)
	if err != nil {
		return nil, err
	}
	stage("discover", start)

	start = time.Now()
	deltas, stats, err := ComputeDeltas(ctx, files, cfg.Options, progress)
	if err != nil {
		return nil, err
	}
	rep.Stats = stats
	stage("deltas", start)

	start = time.Now()
	aggs := Aggregate(deltas)
	rep.Summary = Summarize(aggs)
	rep.TopAuthors = TopAuthors(aggs, cfg.TopN)
	stage("aggregate", start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	if cfg.DeltasPath != "" {
		size, err := WriteDeltas(cfg.DeltasPath, deltas, cfg.Codec)
		if err != nil {
			return nil, err
		}
		rep.DeltasPath, rep.DeltasSize = cfg.DeltasPath, size
		emit(hubstats.Event{Event: "output_written", Path: cfg.DeltasPath, Bytes: size, Count: int64(len(deltas)),
			Message: fmt.Sprintf("%s rows, %s", humanize.Comma(int64(len(deltas))), humanize.Bytes(uint64(size)))})
	}
	if cfg.AggregatesPath != "" {
		size, err := WriteAggregates(cfg.AggregatesPath, aggs, cfg.Codec)
		if err != nil {
			return nil, err
		}
		rep.AggregatesPath, rep.AggregatesSize = cfg.AggregatesPath, size
		emit(hubstats.Event{Event: "output_written", Path: cfg.AggregatesPath, Bytes: size, Count: int64(len(aggs)),
			Message: fmt.Sprintf("%s rows, %s", humanize.Comma(int64(len(aggs))), humanize.Bytes(uint64(size)))})
	}
	stage("write", start)

	emit(hubstats.Event{Event: "done", Message: fmt.Sprintf("analyzed %d snapshots: %d authors over %d days",
		stats.Files, rep.Summary.Authors, rep.Summary.Days)})
	return rep, nil
}
