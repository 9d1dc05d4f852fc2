// Package ingestmetrics exposes the Prometheus counters, gauge and histogram
// of the ingest pipeline, following the same promauto-based instrumentation
// the teacher's worker pool uses. The ingest handler and the per-token rate
// limiter update SnapshotsReceived, AuthFailures, DecodeFailures,
// ActiveMatches and RateLimited; RoundsPersisted, RoundPersistFailures and
// PersistLatency are registered but no code path updates them.
package ingestmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_snapshots_received_total",
		Help: "Total GSI snapshots accepted by the ingest endpoint.",
	})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_auth_failures_total",
		Help: "Total snapshots rejected for a missing or unknown auth token.",
	})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_decode_failures_total",
		Help: "Total snapshots rejected for malformed or oversized JSON.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_rate_limited_total",
		Help: "Total snapshots rejected by the per-token rate limiter.",
	})

	ActiveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "countertrak_active_matches",
		Help: "Current number of live match processors.",
	})

	RoundsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_rounds_persisted_total",
		Help: "Total rounds successfully flushed to the store.",
	})

	RoundPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_round_persist_failures_total",
		Help: "Total round-completion persistence attempts that failed and were un-claimed for retry.",
	})

	PersistLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "countertrak_persist_latency_seconds",
		Help:    "Latency of a round-completion persistence flush.",
		Buckets: prometheus.DefBuckets,
	})
)
