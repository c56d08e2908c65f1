// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielyue/hubstats/pkg/analytics"
	"github.com/danielyue/hubstats/pkg/hub"
	"github.com/danielyue/hubstats/pkg/ingest"
)

// IngestRequest is the request body for starting an ingestion.
// Note: the snapshot directory is NOT configurable via API.
type IngestRequest struct {
	Repo       string   `json:"repo,omitempty"`
	Dataset    *bool    `json:"dataset,omitempty"`
	Revision   string   `json:"revision,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	DaysBack   int      `json:"daysBack,omitempty"`
}

// job maps the request onto an ingest job. Empty fields take the defaults
// of ingest.DefaultJob.
func (r IngestRequest) job(table string) ingest.Job {
	j := ingest.DefaultJob()
	if r.Repo != "" {
		j.Repo = strings.TrimSpace(r.Repo)
	}
	if r.Dataset != nil {
		j.IsDataset = *r.Dataset
	}
	if r.Revision != "" {
		j.Revision = r.Revision
	}
	if len(r.Candidates) > 0 {
		j.Candidates = r.Candidates
		j.TableName = ""
	} else {
		j.TableName = table
	}
	j.DaysBack = r.DaysBack
	return j
}

// AnalyzeRequest is the request body for starting an analysis.
// Note: output paths are NOT configurable via API.
type AnalyzeRequest struct {
	DuplicateDates string `json:"duplicateDates,omitempty"`
	Codec          string `json:"codec,omitempty"`
	TopN           int    `json:"topN,omitempty"`
}

func (r AnalyzeRequest) config(sc Config) (analytics.Config, error) {
	policy, err := analytics.ParseDuplicatePolicy(r.DuplicateDates)
	if err != nil {
		return analytics.Config{}, err
	}
	codec, err := analytics.ParseCodec(r.Codec)
	if err != nil {
		return analytics.Config{}, err
	}
	return analytics.Config{
		Options: analytics.Options{
			TableName:      sc.TableName,
			DuplicateDates: policy,
		},
		SnapshotDir: sc.SnapshotDir,
		Codec:       codec,
		TopN:        r.TopN,
	}, nil
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	File        string    `json:"file"`
	Date        string    `json:"date"`
	Version     string    `json:"version"`
	Format      string    `json:"format"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"contentHash"`
	IngestedAt  time.Time `json:"ingestedAt"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	Token       string `json:"token,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	SnapshotDir string `json:"snapshotDir"`
	OutputDir   string `json:"outputDir"`
	TableName   string `json:"table"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStartIngest starts a new ingest job.
func (s *Server) handleStartIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
	}

	if req.Repo != "" && !hub.IsValidRepoID(strings.TrimSpace(req.Repo)) {
		writeError(w, http.StatusBadRequest, "Invalid repo format", "Expected owner/name")
		return
	}
	if req.DaysBack < 0 {
		writeError(w, http.StatusBadRequest, "Invalid daysBack", "Must be >= 0")
		return
	}

	job, wasExisting, err := s.jobs.CreateIngestJob(req)
	if errors.Is(err, ErrNoIngester) {
		writeError(w, http.StatusServiceUnavailable, "Ingestion unavailable", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create job", err.Error())
		return
	}
	writeStarted(w, job, wasExisting, "Ingestion already in progress")
}

// handleStartAnalyze starts a new analyze job.
func (s *Server) handleStartAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
	}

	job, wasExisting, err := s.jobs.CreateAnalyzeJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid analysis options", err.Error())
		return
	}
	writeStarted(w, job, wasExisting, "Analysis already in progress")
}

// writeStarted answers 202 with a new job, or 200 with the job already
// running.
func writeStarted(w http.ResponseWriter, job *Job, wasExisting bool, msg string) {
	if wasExisting {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": msg,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	if s.jobs.CancelJob(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
	} else {
		writeError(w, http.StatusNotFound, "Job not found or already completed", "")
	}
}

// handleListSnapshots returns the snapshot catalog, oldest first.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "Snapshot store unavailable", "")
		return
	}
	table := r.URL.Query().Get("table")
	if table == "" {
		table = s.config.TableName
	}

	snaps, err := s.deps.Store.List(r.Context(), table)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err.Error())
		return
	}
	out := make([]SnapshotInfo, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, SnapshotInfo{
			File:        sn.Name.String(),
			Date:        sn.Date().Format(time.DateOnly),
			Version:     sn.Version,
			Format:      string(sn.Name.Format),
			Size:        sn.Size,
			ContentHash: sn.ContentHash,
			IngestedAt:  sn.IngestedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":     table,
		"snapshots": out,
		"count":     len(out),
	})
}

// handleGetSettings returns current settings. Directories are read-only.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	// Don't expose full token, just indicate if set
	tokenStatus := ""
	if s.config.Token != "" {
		tokenStatus = "********" + s.config.Token[max(0, len(s.config.Token)-4):]
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		Token:       tokenStatus,
		Endpoint:    s.config.Endpoint,
		SnapshotDir: s.config.SnapshotDir,
		OutputDir:   s.config.OutputDir,
		TableName:   s.config.TableName,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
