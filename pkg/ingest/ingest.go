// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package ingest builds the historical snapshot corpus of a dataset file.
//
// Every version of the dataset whose commit title or message mentions one
// of the candidate files is materialized once as a snapshot named after
// its commit date and id. Identical content committed again under another
// id is stored only once. Runs are idempotent: a second run against an
// unchanged history creates no files.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danielyue/hubstats/pkg/history"
	"github.com/danielyue/hubstats/pkg/hub"
	"github.com/danielyue/hubstats/pkg/hubstats"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

// Job describes what to ingest.
type Job struct {
	// Repo is the repository ID in "owner/name" format.
	Repo string `json:"repo"`

	// IsDataset selects the datasets namespace. The default job ingests
	// from a dataset.
	IsDataset bool `json:"dataset"`

	// Revision is the branch whose history is walked. If empty, "main".
	Revision string `json:"revision,omitempty"`

	// Candidates are the file names to fetch at each version, in order of
	// preference. The first one present at a version wins.
	Candidates []string `json:"candidates,omitempty"`

	// TableName prefixes snapshot file names. If empty, it is derived from
	// the first candidate ("models.parquet" gives "models").
	TableName string `json:"table,omitempty"`

	// DaysBack limits the history to the last N days. 0 walks the full
	// history.
	DaysBack int `json:"days_back,omitempty"`
}

// DefaultJob returns the job that tracks the Hub statistics dataset.
func DefaultJob() Job {
	return Job{
		Repo:       "cfahlgren1/hub-stats",
		IsDataset:  true,
		Revision:   "main",
		Candidates: []string{"models.parquet", "models.csv"},
		TableName:  "models",
	}
}

func (j Job) withDefaults() Job {
	d := DefaultJob()
	if j.Revision == "" {
		j.Revision = d.Revision
	}
	if len(j.Candidates) == 0 {
		j.Candidates = d.Candidates
	}
	if j.TableName == "" {
		j.TableName = snapshot.TableFromFile(j.Candidates[0])
	}
	return j
}

func (j Job) validate() error {
	if !hub.IsValidRepoID(j.Repo) {
		return fmt.Errorf("%w: %q", hub.ErrInvalidRepo, j.Repo)
	}
	for _, c := range j.Candidates {
		if snapshot.FormatOf(c) == "" {
			return fmt.Errorf("unsupported candidate file %q (expected .parquet or .csv)", c)
		}
	}
	return nil
}

// Result summarizes an ingestion run.
type Result struct {
	// Created lists the snapshot files written by this run.
	Created []string `json:"created"`

	Listed           int   `json:"listed"`
	Relevant         int   `json:"relevant"`
	SkippedExisting  int   `json:"skipped_existing"`
	SkippedDuplicate int   `json:"skipped_duplicate"`
	SkippedMissing   int   `json:"skipped_missing"`
	Failed           int   `json:"failed"`
	Bytes            int64 `json:"bytes"`
}

// Fetcher downloads a file of a repository at a revision. A missing file
// must yield an error matching hub.ErrNotFound.
type Fetcher interface {
	FetchFile(ctx context.Context, repo hub.Repo, revision, path string, w io.Writer) (int64, error)
}

// Ingestor materializes snapshots into a store.
type Ingestor struct {
	Lister  history.Lister
	Fetcher Fetcher
	Store   *snapshot.Store

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// Run walks the job's version history oldest first and stores one snapshot
// per version with previously unseen content.
//
// A listing failure is fatal. A failed download is reported through an
// "error" event, counted in Result.Failed and skipped.
func (in *Ingestor) Run(ctx context.Context, job Job, progress hubstats.EventFunc) (*Result, error) {
	job = job.withDefaults()
	if err := job.validate(); err != nil {
		return nil, err
	}
	repo := hub.Repo{ID: job.Repo, IsDataset: job.IsDataset}
	emit := hubstats.Emitter(progress, repo.String())
	now := time.Now
	if in.Now != nil {
		now = in.Now
	}

	q := history.Query{Repo: repo, Revision: job.Revision}
	if job.DaysBack > 0 {
		q.Since = now().AddDate(0, 0, -job.DaysBack)
	}
	emit(hubstats.Event{Event: "list_start", Message: "listing versions with " + in.Lister.Name()})
	versions, err := in.Lister.List(ctx, q)
	if err != nil {
		return nil, err
	}

	res := &Result{Listed: len(versions)}
	var relevant []history.Version
	for _, v := range versions {
		if v.Mentions(job.Candidates...) {
			relevant = append(relevant, v)
		}
	}
	history.Chronological(relevant)
	res.Relevant = len(relevant)
	emit(hubstats.Event{Event: "list_done", Total: len(relevant),
		Message: fmt.Sprintf("%d versions, %d mention %v", len(versions), len(relevant), job.Candidates)})

	synced, err := in.Store.Sync(ctx, job.TableName)
	if err != nil {
		return nil, err
	}
	for file, existing := range synced.Duplicates {
		emit(hubstats.Event{Level: "warn", Event: "anomaly", Path: file, Message: "duplicate content of " + existing})
	}
	seen, err := in.Store.Hashes(ctx, job.TableName)
	if err != nil {
		return nil, err
	}

	for i, v := range relevant {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		emit(hubstats.Event{Level: "debug", Event: "version_start", Version: v.ID, Current: i + 1, Total: len(relevant), Message: v.Title})
		if err := in.version(ctx, job, repo, v, seen, res, emit); err != nil {
			return res, err
		}
	}

	emit(hubstats.Event{Event: "done", Count: int64(len(res.Created)), Bytes: res.Bytes, Message: fmt.Sprintf(
		"created %d snapshots; skipped %d existing, %d duplicate, %d missing; %d failed (of %d relevant versions)",
		len(res.Created), res.SkippedExisting, res.SkippedDuplicate, res.SkippedMissing, res.Failed, res.Relevant)})
	return res, nil
}

// version processes one version. Only store failures are returned.
func (in *Ingestor) version(ctx context.Context, job Job, repo hub.Repo, v history.Version, seen map[string]string, res *Result, emit hubstats.EventFunc) error {
	names := make([]snapshot.Name, len(job.Candidates))
	for i, c := range job.Candidates {
		names[i] = snapshot.NewName(job.TableName, v.Time, v.ID, snapshot.FormatOf(c))
	}

	for _, n := range names {
		if _, err := os.Stat(in.Store.Path(n)); err == nil {
			res.SkippedExisting++
			emit(hubstats.Event{Level: "debug", Event: "snapshot_skip", Version: v.ID, Path: n.String(), Message: "exists"})
			return nil
		}
	}

	for i, cand := range job.Candidates {
		n := names[i]
		dst := in.Store.Path(n)
		sum, size, err := fetchToPart(ctx, in.Fetcher, repo, v.ID, cand, dst)
		if errors.Is(err, hub.ErrNotFound) {
			emit(hubstats.Event{Level: "debug", Event: "snapshot_skip", Version: v.ID, Path: cand, Message: "not present"})
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.Failed++
			emit(hubstats.Event{Level: "error", Event: "error", Version: v.ID, Path: cand, Message: err.Error()})
			return nil
		}

		if prev, dup := seen[sum]; dup {
			os.Remove(dst + ".part")
			res.SkippedDuplicate++
			emit(hubstats.Event{Level: "debug", Event: "snapshot_skip", Version: v.ID, Path: n.String(), Message: "same content as " + prev})
			return nil
		}
		if err := os.Rename(dst+".part", dst); err != nil {
			os.Remove(dst + ".part")
			return err
		}
		snap := snapshot.Snapshot{Name: n, Path: dst, ContentHash: sum, Size: size, Version: v.ID}
		if err := in.Store.Register(ctx, snap); err != nil {
			return err
		}
		seen[sum] = n.String()
		res.Created = append(res.Created, dst)
		res.Bytes += size
		emit(hubstats.Event{Event: "snapshot_saved", Version: v.ID, Path: dst, Bytes: size})
		return nil
	}

	res.SkippedMissing++
	emit(hubstats.Event{Level: "debug", Event: "snapshot_skip", Version: v.ID, Message: "no candidate file at this version"})
	return nil
}

// fetchToPart downloads path at revision into dst+".part" and returns its
// SHA-256. The part file is removed on error.
func fetchToPart(ctx context.Context, f Fetcher, repo hub.Repo, revision, path, dst string) (string, int64, error) {
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", 0, err
	}
	hw := snapshot.NewHashingWriter(out)
	_, err = f.FetchFile(ctx, repo, revision, path, hw)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", 0, err
	}
	return hw.Sum(), hw.Size(), nil
}
