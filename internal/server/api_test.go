// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielyue/hubstats/pkg/snapshot"
)

func newTestServer(f *fakeRunner) *Server {
	cfg := Config{
		Addr:        "127.0.0.1",
		Port:        0, // Random port
		SnapshotDir: "./test_snapshots",
		OutputDir:   "./test_out",
		Version:     "1.0.0-test",
	}
	return New(cfg, Deps{
		Ingest:  f.Ingest,
		Analyze: f.Analyze,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(newFakeRunner())

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	srv.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
	if resp["version"] != "1.0.0-test" {
		t.Errorf("Expected version 1.0.0-test, got %v", resp["version"])
	}
}

func TestAPI_GetSettings(t *testing.T) {
	srv := newTestServer(newFakeRunner())

	req := httptest.NewRequest("GET", "/api/settings", nil)
	w := httptest.NewRecorder()

	srv.handleGetSettings(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp SettingsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.SnapshotDir != "./test_snapshots" {
		t.Errorf("Expected snapshotDir ./test_snapshots, got %s", resp.SnapshotDir)
	}
	if resp.OutputDir != "./test_out" {
		t.Errorf("Expected outputDir ./test_out, got %s", resp.OutputDir)
	}
	if resp.TableName != "models" {
		t.Errorf("Expected default table models, got %s", resp.TableName)
	}
	if resp.Token != "" {
		t.Errorf("Expected no token, got %s", resp.Token)
	}
}

func TestAPI_GetSettings_TokenMasked(t *testing.T) {
	srv := New(Config{Token: "hf_abcdefghijklmnop"}, Deps{})

	req := httptest.NewRequest("GET", "/api/settings", nil)
	w := httptest.NewRecorder()

	srv.handleGetSettings(w, req)

	var resp SettingsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Token != "********mnop" {
		t.Errorf("Expected masked token ********mnop, got %s", resp.Token)
	}
	if strings.Contains(w.Body.String(), "abcdefghijkl") {
		t.Error("Token leaked in settings response")
	}
}

func TestAPI_StartIngest(t *testing.T) {
	f := newFakeRunner()
	defer close(f.release)
	srv := newTestServer(f)

	body := `{"repo":"acme/stats","daysBack":30}`
	req := httptest.NewRequest("POST", "/api/ingest", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleStartIngest(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	json.Unmarshal(w.Body.Bytes(), &job)
	if job.Repo != "acme/stats" {
		t.Errorf("Expected repo acme/stats, got %s", job.Repo)
	}
	if job.OutputDir != "./test_snapshots" {
		t.Errorf("Expected server-controlled output, got %s", job.OutputDir)
	}

	// Same repo again returns the running job with 200
	req = httptest.NewRequest("POST", "/api/ingest", strings.NewReader(body))
	w = httptest.NewRecorder()
	srv.handleStartIngest(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for duplicate, got %d", w.Code)
	}
	var dup struct {
		Job     Job    `json:"job"`
		Message string `json:"message"`
	}
	json.Unmarshal(w.Body.Bytes(), &dup)
	if dup.Job.ID != job.ID {
		t.Errorf("Expected job %s, got %s", job.ID, dup.Job.ID)
	}
	if dup.Message == "" {
		t.Error("Expected a message for the duplicate request")
	}
}

func TestAPI_StartIngest_EmptyBody(t *testing.T) {
	f := newFakeRunner()
	defer close(f.release)
	srv := newTestServer(f)

	req := httptest.NewRequest("POST", "/api/ingest", nil)
	w := httptest.NewRecorder()
	srv.handleStartIngest(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	json.Unmarshal(w.Body.Bytes(), &job)
	if job.Repo != "cfahlgren1/hub-stats" {
		t.Errorf("Expected default repo, got %s", job.Repo)
	}
}

func TestAPI_StartIngest_Validation(t *testing.T) {
	srv := newTestServer(newFakeRunner())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"invalid repo", `{"repo":"no-slash"}`},
		{"negative days", `{"daysBack":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/ingest", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			srv.handleStartIngest(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
		})
	}

	if len(srv.jobs.ListJobs()) != 0 {
		t.Error("Rejected requests should not create jobs")
	}
}

func TestAPI_StartIngest_NotConfigured(t *testing.T) {
	srv := New(Config{}, Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	req := httptest.NewRequest("POST", "/api/ingest", bytes.NewBufferString("{}"))
	w := httptest.NewRecorder()
	srv.handleStartIngest(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestAPI_StartAnalyze(t *testing.T) {
	f := newFakeRunner()
	defer close(f.release)
	srv := newTestServer(f)

	req := httptest.NewRequest("POST", "/api/analyze", strings.NewReader(`{"codec":"bogus"}`))
	w := httptest.NewRecorder()
	srv.handleStartAnalyze(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown codec, got %d", w.Code)
	}

	// Output paths in the body are ignored
	req = httptest.NewRequest("POST", "/api/analyze", strings.NewReader(`{"topN":3,"outputDir":"/etc"}`))
	w = httptest.NewRecorder()
	srv.handleStartAnalyze(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	json.Unmarshal(w.Body.Bytes(), &job)
	if !strings.HasPrefix(job.OutputDir, "test_out") {
		t.Errorf("Expected output under test_out, got %s", job.OutputDir)
	}
}

func TestAPI_Jobs(t *testing.T) {
	f := newFakeRunner()
	defer close(f.release)
	srv := newTestServer(f)
	h := srv.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/ingest", nil))
	var job Job
	json.Unmarshal(w.Body.Bytes(), &job)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/jobs", nil))
	var list struct {
		Jobs  []Job `json:"jobs"`
		Count int   `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 1 || len(list.Jobs) != 1 {
		t.Errorf("Expected 1 job, got %d", list.Count)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/jobs/"+job.ID, nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/jobs/nonexistent", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/jobs/"+job.ID, nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 on cancel, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/jobs/"+job.ID, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second cancel, got %d", w.Code)
	}
}

func TestAPI_ListSnapshots(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"models-20250101-aaaaaaa.csv": "id,likes\nacme/a,1\n",
		"models-20250102-bbbbbbb.csv": "id,likes\nacme/a,2\n",
		"spaces-20250102-ccccccc.csv": "id,likes\nacme/s,2\n",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := snapshot.Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	if _, err := store.Sync(context.Background(), ""); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	srv := New(Config{SnapshotDir: dir}, Deps{Store: store})

	req := httptest.NewRequest("GET", "/api/snapshots", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Table     string         `json:"table"`
		Snapshots []SnapshotInfo `json:"snapshots"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Table != "models" || len(resp.Snapshots) != 2 {
		t.Fatalf("Expected 2 models snapshots, got %+v", resp)
	}
	if resp.Snapshots[0].Date != "2025-01-01" || resp.Snapshots[1].Version != "bbbbbbb" {
		t.Errorf("Unexpected snapshots: %+v", resp.Snapshots)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshots?table=spaces", nil))
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Snapshots) != 1 || resp.Snapshots[0].File != "spaces-20250102-ccccccc.csv" {
		t.Errorf("Expected the spaces snapshot, got %+v", resp.Snapshots)
	}
}

func TestAPI_ListSnapshots_NoStore(t *testing.T) {
	srv := New(Config{}, Deps{})
	w := httptest.NewRecorder()
	srv.handleListSnapshots(w, httptest.NewRequest("GET", "/api/snapshots", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestAPI_Metrics(t *testing.T) {
	srv := newTestServer(newFakeRunner())

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Expected Go runtime metrics")
	}
}

func TestAPI_CORS(t *testing.T) {
	srv := New(Config{AllowedOrigins: []string{"http://allowed.example"}}, Deps{})
	h := srv.Handler()

	req := httptest.NewRequest("OPTIONS", "/api/jobs", nil)
	req.Header.Set("Origin", "http://allowed.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://allowed.example" {
		t.Error("Expected allowed origin header")
	}

	req = httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Unexpected CORS header for disallowed origin")
	}
}
