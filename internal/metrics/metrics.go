package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route", "status"},
	)

	DecisionApprovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decision_approvals_total",
			Help: "Approval records written, by action",
		},
		[]string{"action"},
	)

	TemplateApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "template_applies_total",
			Help: "Templates applied to projects",
		},
		[]string{"mode"}, // new_project, existing_project
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events published to the broker",
		},
		[]string{"routing_key", "status"},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Scheduled job executions",
		},
		[]string{"job", "status"},
	)
)

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

func RecordApproval(action string) {
	DecisionApprovals.WithLabelValues(action).Inc()
}

func RecordTemplateApply(mode string) {
	TemplateApplies.WithLabelValues(mode).Inc()
}

func RecordEvent(routingKey string, err error) {
	EventsPublished.WithLabelValues(routingKey, statusLabel(err)).Inc()
}

func RecordJobRun(job string, err error) {
	JobRuns.WithLabelValues(job, statusLabel(err)).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
