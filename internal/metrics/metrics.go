// Package metrics exposes Prometheus counters and histograms for command and plan runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// commandRunsTotal counts finished command runs.
	// Labels:
	//   - command: command reference
	//   - status_class: success, failed, refused or internal
	commandRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightplan_command_runs_total",
			Help: "Total number of finished command runs",
		},
		[]string{"command", "status_class"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flightplan_command_duration_seconds",
			Help:    "Duration of command runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"command"},
	)

	planRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightplan_plan_runs_total",
			Help: "Total number of finished flight plan runs",
		},
		[]string{"plan", "status_class"},
	)

	planDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flightplan_plan_duration_seconds",
			Help:    "Duration of flight plan runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"plan"},
	)

	// concurrencyRefusals counts runs refused by the single-instance guard.
	// Labels:
	//   - kind: "command" or "plan"
	concurrencyRefusals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightplan_concurrency_refusals_total",
			Help: "Runs refused because another instance was already running",
		},
		[]string{"kind"},
	)

	secretMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightplan_secret_misses_total",
			Help: "Secret placeholders left unresolved",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(commandRunsTotal)
	prometheus.MustRegister(commandDuration)
	prometheus.MustRegister(planRunsTotal)
	prometheus.MustRegister(planDuration)
	prometheus.MustRegister(concurrencyRefusals)
	prometheus.MustRegister(secretMisses)
}

// RecordCommandRun records a finished command run and its duration.
func RecordCommandRun(command, statusClass string, durationSeconds float64) {
	commandRunsTotal.WithLabelValues(command, statusClass).Inc()
	commandDuration.WithLabelValues(command).Observe(durationSeconds)
}

// RecordPlanRun records a finished flight plan run and its duration.
func RecordPlanRun(plan, statusClass string, durationSeconds float64) {
	planRunsTotal.WithLabelValues(plan, statusClass).Inc()
	planDuration.WithLabelValues(plan).Observe(durationSeconds)
}

func RecordConcurrencyRefusal(kind string) {
	concurrencyRefusals.WithLabelValues(kind).Inc()
}

func RecordSecretMiss(secretType string) {
	secretMisses.WithLabelValues(secretType).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
