// Package metrics exposes the engine counters. A nil *Collector is valid and
// records nothing, so engine packages never need a guard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexvote"

type Collector struct {
	votes          *prometheus.CounterVec
	created        prometheus.Counter
	duplicates     prometheus.Counter
	anchors        *prometheus.CounterVec
	softFailures   *prometheus.CounterVec
	finalizations  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		votes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "ballot operations applied, by op (cast, change, undo)",
		}, []string{"op"}),
		created: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_created_total",
			Help:      "proposals persisted",
		}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_rejected_total",
			Help:      "creations rejected as near-duplicates",
		}),
		anchors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anchor_attempts_total",
			Help:      "relay submissions by op and outcome (ok, skipped, error, replay, unregistered)",
		}, []string{"op", "outcome"}),
		softFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "soft_dependency_failures_total",
			Help:      "degraded calls to optional dependencies",
		}, []string{"dependency"}),
		finalizations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalizations_total",
			Help:      "finalized proposals by outcome",
		}, []string{"outcome"}),
		requestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}

func (c *Collector) Vote(op string) {
	if c != nil {
		c.votes.WithLabelValues(op).Inc()
	}
}

func (c *Collector) ProposalCreated() {
	if c != nil {
		c.created.Inc()
	}
}

func (c *Collector) DuplicateRejected() {
	if c != nil {
		c.duplicates.Inc()
	}
}

func (c *Collector) Anchor(op, outcome string) {
	if c != nil {
		c.anchors.WithLabelValues(op, outcome).Inc()
	}
}

func (c *Collector) SoftFailure(dependency string) {
	if c != nil {
		c.softFailures.WithLabelValues(dependency).Inc()
	}
}

func (c *Collector) Finalization(outcome string) {
	if c != nil {
		c.finalizations.WithLabelValues(outcome).Inc()
	}
}

func (c *Collector) ObserveRequest(route, code string, seconds float64) {
	if c != nil {
		c.requestLatency.WithLabelValues(route, code).Observe(seconds)
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
