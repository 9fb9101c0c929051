// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paperagent"

var (
	Registry = prometheus.NewRegistry()

	Extractions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extractions_total",
		Help:      "Document extractions by extractor and result status.",
	}, []string{"extractor", "status"})

	VectorOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vector_ops_total",
		Help:      "Vector store operations by kind and outcome.",
	}, []string{"op", "result"})

	VectorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "vector_op_duration_seconds",
		Help:      "Vector store operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	Answers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_total",
		Help:      "Answers produced, by generation path.",
	}, []string{"path"})

	SessionsEvicted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_evicted_total",
		Help:      "Sessions removed, by reason.",
	}, []string{"reason"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions currently tracked.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Extractions,
		VectorOps,
		VectorLatency,
		Answers,
		SessionsEvicted,
		ActiveSessions,
	)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Outcome maps a success flag to the "result" label value.
func Outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
