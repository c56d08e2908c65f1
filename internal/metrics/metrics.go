// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes pipeline and server counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielyue/hubstats/pkg/hubstats"
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	snapshots   prometheus.Counter
	bytes       *prometheus.CounterVec
	retries     prometheus.Counter
	anomalies   prometheus.Counter
	profiles    *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobsRunning *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hubstats_events_total",
			Help: "Pipeline events by type and level",
		}, []string{"event", "level"}),
		snapshots: f.NewCounter(prometheus.CounterOpts{
			Name: "hubstats_snapshots_saved_total",
			Help: "Snapshot files materialized by ingestion",
		}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hubstats_bytes_total",
			Help: "Bytes downloaded (snapshot) or written (output)",
		}, []string{"kind"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Name: "hubstats_http_retries_total",
			Help: "Hub HTTP requests retried",
		}),
		anomalies: f.NewCounter(prometheus.CounterOpts{
			Name: "hubstats_anomalies_total",
			Help: "Data anomalies found while computing deltas",
		}),
		profiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hubstats_profiles_total",
			Help: "Profiles scraped by result",
		}, []string{"result"}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hubstats_jobs_total",
			Help: "Server jobs finished by type and status",
		}, []string{"type", "status"}),
		jobsRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hubstats_jobs_running",
			Help: "Server jobs currently running",
		}, []string{"type"}),
	}
}

// Events returns an EventFunc that updates the counters.
func (m *Metrics) Events() hubstats.EventFunc {
	return func(ev hubstats.Event) {
		lvl := ev.Level
		if lvl == "" {
			lvl = "info"
		}
		m.events.WithLabelValues(ev.Event, lvl).Inc()
		switch ev.Event {
		case "snapshot_saved":
			m.snapshots.Inc()
			m.bytes.WithLabelValues("snapshot").Add(float64(ev.Bytes))
		case "output_written":
			m.bytes.WithLabelValues("output").Add(float64(ev.Bytes))
		case "retry":
			m.retries.Inc()
		case "anomaly":
			m.anomalies.Inc()
		case "profile_saved":
			m.profiles.WithLabelValues("ok").Inc()
		case "profile_failed":
			m.profiles.WithLabelValues("failed").Inc()
		}
	}
}

// JobStarted marks a job of type typ as running.
func (m *Metrics) JobStarted(typ string) {
	m.jobsRunning.WithLabelValues(typ).Inc()
}

// JobFinished records the final status of a running job.
func (m *Metrics) JobFinished(typ, status string) {
	m.jobsRunning.WithLabelValues(typ).Dec()
	m.jobs.WithLabelValues(typ, status).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
