// Package metrics holds the prometheus collectors of the revision service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "collab"

var (
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commits_total",
		Help:      "Revisions committed by the submission pipeline.",
	}, []string{"kind"})

	DuplicateSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_submissions_total",
		Help:      "Submissions acknowledged without a commit because they were already in the log.",
	}, []string{"kind"})

	ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Submissions rejected with a retryable conflict.",
	}, []string{"kind"})

	ComposabilityWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "composability_warnings_total",
		Help:      "Transformed operations that did not apply cleanly to the current content.",
	}, []string{"kind"})

	CommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "commit_duration_seconds",
		Help:      "Time spent inside the locked commit scope.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	RevisionsFolded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revisions_folded_total",
		Help:      "Revisions applied while reconstructing content.",
	}, []string{"kind"})

	ReplayDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replay_dropped_total",
		Help:      "Revisions that did not fully fit the content they were folded onto.",
	}, []string{"kind"})

	ContentCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "content_cache_hits_total",
		Help:      "Reconstructions answered from the content cache.",
	})

	EffectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "effects_total",
		Help:      "Side effects run by the dispatcher, by outcome.",
	}, []string{"effect", "outcome"})
)
