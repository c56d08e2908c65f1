// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielyue/hubstats/internal/logging"
	"github.com/danielyue/hubstats/pkg/analytics"
	"github.com/danielyue/hubstats/pkg/hubstats"
	"github.com/danielyue/hubstats/pkg/ingest"
)

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType distinguishes ingestion from analysis.
type JobType string

const (
	JobTypeIngest  JobType = "ingest"
	JobTypeAnalyze JobType = "analyze"
)

// Job is one ingest or analyze run.
type Job struct {
	ID        string      `json:"id"`
	Type      JobType     `json:"type"`
	Repo      string      `json:"repo,omitempty"`
	OutputDir string      `json:"outputDir,omitempty"`
	Status    JobStatus   `json:"status"`
	Progress  JobProgress `json:"progress"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	StartedAt *time.Time  `json:"startedAt,omitempty"`
	EndedAt   *time.Time  `json:"endedAt,omitempty"`

	IngestResult *ingest.Result    `json:"ingestResult,omitempty"`
	Report       *analytics.Report `json:"report,omitempty"`

	ingestJob  ingest.Job
	analyzeCfg analytics.Config
	cancel     context.CancelFunc
}

// JobProgress holds the latest progress of a job.
type JobProgress struct {
	Stage    string `json:"stage,omitempty"`
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Warnings int    `json:"warnings"`
	Errors   int    `json:"errors"`
	Message  string `json:"message,omitempty"`
}

func (j *Job) active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// JobManager runs jobs in goroutines and tracks their state.
type JobManager struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	config     Config
	deps       Deps
	listeners  []chan *Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
	now        func() time.Time
}

// NewJobManager creates a new job manager.
func NewJobManager(cfg Config, deps Deps, wsHub *WSHub) *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		config: cfg,
		deps:   deps,
		wsHub:  wsHub,
		now:    time.Now,
	}
}

// ErrNoIngester is returned when the server was built without an ingest
// function.
var ErrNoIngester = errors.New("ingestion is not configured on this server")

// CreateIngestJob starts an ingestion. It returns the existing job when
// one for the same repository is already queued or running.
func (m *JobManager) CreateIngestJob(req IngestRequest) (*Job, bool, error) {
	if m.deps.Ingest == nil {
		return nil, false, ErrNoIngester
	}
	ij := req.job(m.config.TableName)

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.Type == JobTypeIngest && existing.Repo == ij.Repo && existing.active() {
			m.mu.Unlock()
			return existing, true, nil
		}
	}
	job := &Job{
		ID:        uuid.NewString(),
		Type:      JobTypeIngest,
		Repo:      ij.Repo,
		OutputDir: m.config.SnapshotDir, // server-controlled
		Status:    JobStatusQueued,
		CreatedAt: m.now(),
		ingestJob: ij,
	}
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.runJob(job)
	return job, false, nil
}

// CreateAnalyzeJob starts an analysis of the snapshot store. Outputs are
// written to a new timestamped directory under the configured output dir.
// Only one analysis runs at a time.
func (m *JobManager) CreateAnalyzeJob(req AnalyzeRequest) (*Job, bool, error) {
	cfg, err := req.config(m.config)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.Type == JobTypeAnalyze && existing.active() {
			m.mu.Unlock()
			return existing, true, nil
		}
	}
	id := uuid.NewString()
	out := filepath.Join(m.config.OutputDir, m.now().UTC().Format("20060102_150405")+"_"+id[:8])
	job := &Job{
		ID:         id,
		Type:       JobTypeAnalyze,
		OutputDir:  out,
		Status:     JobStatusQueued,
		CreatedAt:  m.now(),
		analyzeCfg: cfg.OutputDir(out),
	}
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.runJob(job)
	return job, false, nil
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// ListJobs returns all jobs, newest first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || !job.active() {
		m.mu.Unlock()
		return false
	}
	if job.cancel != nil {
		job.cancel()
	}
	job.Status = JobStatusCancelled
	now := m.now()
	job.EndedAt = &now
	m.mu.Unlock()

	m.notifyListeners(job)
	return true
}

// CancelAll cancels every active job.
func (m *JobManager) CancelAll() {
	for _, j := range m.ListJobs() {
		m.CancelJob(j.ID)
	}
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan *Job {
	ch := make(chan *Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan *Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// notifyListeners must be called without holding m.mu.
func (m *JobManager) notifyListeners(job *Job) {
	m.mu.RLock()
	snap := *job
	m.mu.RUnlock()

	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- &snap:
		default:
			// Listener is slow, skip
		}
	}
	m.listenerMu.RUnlock()

	if m.wsHub != nil {
		m.wsHub.BroadcastJob(&snap)
	}
}

// progressFunc folds events into the job and fans them out.
func (m *JobManager) progressFunc(job *Job) hubstats.EventFunc {
	return hubstats.Serialized(hubstats.Multi(m.deps.Metrics.Events(), logging.Events(m.deps.Logger.With("job", job.ID)), func(ev hubstats.Event) {
		m.mu.Lock()
		p := &job.Progress
		if ev.Total > 0 {
			p.Stage = ev.Event
			p.Current, p.Total = ev.Current, ev.Total
		}
		switch ev.Level {
		case "warn":
			p.Warnings++
		case "error":
			p.Errors++
		}
		if ev.Message != "" && ev.Level != "debug" {
			p.Message = ev.Message
		}
		m.mu.Unlock()

		if m.wsHub != nil && ev.Level != "debug" {
			m.wsHub.BroadcastEvent(JobEvent{JobID: job.ID, Event: ev})
		}
		m.notifyListeners(job)
	}))
}

// JobEvent is an event of a job as sent over the websocket.
type JobEvent struct {
	JobID string `json:"jobId"`
	hubstats.Event
}

// runJob executes a job.
func (m *JobManager) runJob(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if job.Status != JobStatusQueued {
		// cancelled before it started
		m.mu.Unlock()
		cancel()
		return
	}
	job.cancel = cancel
	job.Status = JobStatusRunning
	now := m.now()
	job.StartedAt = &now
	m.mu.Unlock()
	m.deps.Metrics.JobStarted(string(job.Type))
	m.notifyListeners(job)

	progress := m.progressFunc(job)
	var err error
	switch job.Type {
	case JobTypeIngest:
		var res *ingest.Result
		res, err = m.deps.Ingest(ctx, job.ingestJob, progress)
		m.mu.Lock()
		job.IngestResult = res
		m.mu.Unlock()
	case JobTypeAnalyze:
		var rep *analytics.Report
		rep, err = m.deps.Analyze(ctx, job.analyzeCfg, progress)
		m.mu.Lock()
		job.Report = rep
		m.mu.Unlock()
	}

	m.mu.Lock()
	endTime := m.now()
	if job.Status != JobStatusCancelled {
		job.EndedAt = &endTime
	}
	switch {
	case job.Status == JobStatusCancelled || ctx.Err() != nil:
		job.Status = JobStatusCancelled
	case err != nil:
		job.Status = JobStatusFailed
		job.Error = err.Error()
	default:
		job.Status = JobStatusCompleted
	}
	status := job.Status
	m.mu.Unlock()
	cancel()

	m.deps.Metrics.JobFinished(string(job.Type), string(status))
	if err != nil && status == JobStatusFailed {
		m.deps.Logger.Error("job failed", "id", job.ID, "type", job.Type, "error", err)
	}
	m.notifyListeners(job)
}
