// Package metrics holds the Prometheus collectors shared by the assistant.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LLMBudget = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_llm_budget_total",
		Help: "Rate limiter decisions for outbound LLM calls",
	}, []string{"result"})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_llm_calls_total",
		Help: "Outbound LLM calls by purpose and outcome",
	}, []string{"purpose", "outcome"})

	PlannerPath = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_planner_plans_total",
		Help: "Plans produced, by planner path",
	}, []string{"source"})

	AggregatorPath = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_aggregator_replies_total",
		Help: "Replies formatted, by aggregator path",
	}, []string{"path"})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_tasks_total",
		Help: "Executed tasks by type and final status",
	}, []string{"type", "status"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finsight_task_duration_seconds",
		Help:    "Compute agent latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "finsight_sessions_active",
		Help: "Sessions currently held in memory",
	})

	SessionsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_sessions_evicted_total",
		Help: "Sessions removed, by reason",
	}, []string{"reason"})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_requests_total",
		Help: "Chat requests by resolved intent",
	}, []string{"intent"})

	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finsight_request_duration_seconds",
		Help:    "End-to-end chat request latency",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
