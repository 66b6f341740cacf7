// Package metrics holds the process-wide Prometheus collectors for the
// orchestrator and worker binaries. Collectors are registered once at
// import time via promauto and incremented from the packages that own
// the events they describe; nothing in this package reaches back into
// business logic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClaimAttempts counts claim attempts by outcome (claimed, empty, stale, error).
	ClaimAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketwright_claim_attempts_total",
		Help: "Claim attempts against the orchestrator, by outcome.",
	}, []string{"outcome"})

	// ReclaimedClaims counts expired claims the sweep reclaims, whether the
	// ticket goes back to ready or to quarantined.
	ReclaimedClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketwright_reclaimed_claims_total",
		Help: "Claims reclaimed by the heartbeat sweep due to expiry.",
	})

	// GenerationCalls counts LLM generation calls by outcome.
	GenerationCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketwright_generation_calls_total",
		Help: "LLM generation calls, by outcome (ok, api_error, network_error).",
	}, []string{"outcome"})

	// GenerationDuration observes wall-clock latency of generation calls.
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ticketwright_generation_duration_seconds",
		Help:    "Latency of LLM generation calls.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// GenerationTokens counts prompt/completion tokens reported by the model.
	GenerationTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketwright_generation_tokens_total",
		Help: "Tokens reported by the LLM, by direction (input, output).",
	}, []string{"direction"})

	// PatchApplications counts patch engine outcomes by match kind.
	PatchApplications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketwright_patch_applications_total",
		Help: "Patch engine results, by outcome (exact, fuzzy, failed, create).",
	}, []string{"outcome"})

	// ValidationRuns counts validator dispatch runs by ladder stage and result.
	ValidationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketwright_validation_runs_total",
		Help: "Validator stage runs, by stage and result (pass, fail, timeout).",
	}, []string{"stage", "result"})

	// WorkerAttempts counts completed worker attempts by terminal outcome.
	WorkerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketwright_worker_attempts_total",
		Help: "Worker attempt outcomes, by failure class (success counts as \"candidate_produced\").",
	}, []string{"outcome"})
)
