// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielyue/hubstats/pkg/hubstats"
)

func TestWSHub_Broadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewWSHub(nil)
	go hub.Run(ctx)

	// Test broadcast doesn't panic with no clients
	hub.Broadcast("test", "", map[string]string{"key": "value"})

	hub.BroadcastJob(&Job{
		ID:     "test123",
		Repo:   "test/repo",
		Status: JobStatusRunning,
	})
	hub.BroadcastEvent(JobEvent{JobID: "test123", Event: hubstats.Event{Event: "version_start"}})
}

func TestWSHub_ClientCount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewWSHub(nil)
	go hub.Run(ctx)

	if count := hub.ClientCount(); count != 0 {
		t.Errorf("Expected 0 clients, got %d", count)
	}
}

func TestWebSocket_InitAndUpdates(t *testing.T) {
	f := newFakeRunner()
	srv := newTestServer(f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.wsHub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var init WSMessage
	if err := json.Unmarshal(data, &init); err != nil {
		t.Fatalf("Bad init message %q: %v", data, err)
	}
	if init.Type != "init" {
		t.Errorf("Expected init message, got %s", init.Type)
	}

	// wait for registration before starting a job
	deadline := time.Now().Add(time.Second)
	for srv.wsHub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	srv.jobs.CreateIngestJob(IngestRequest{})
	close(f.release)

	sawJob := false
	for !sawJob {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed before a job update: %v", err)
		}
		var msg WSMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == "job_update" {
			sawJob = true
		}
	}
}

func TestWSClient_Wants(t *testing.T) {
	c := &WSClient{}
	if !c.wants("a") || !c.wants("") {
		t.Error("Unsubscribed client should receive every message")
	}
	c.jobID = "a"
	if !c.wants("a") {
		t.Error("Subscribed client should receive its job")
	}
	if c.wants("b") {
		t.Error("Subscribed client should not receive other jobs")
	}
	if !c.wants("") {
		t.Error("Subscribed client should receive global messages")
	}
}
