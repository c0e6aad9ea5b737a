package conversation

import "github.com/prometheus/client_golang/prometheus"

var (
	sweepRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_cleanup_runs_total",
			Help: "Total retention sweeps executed.",
		},
	)
	sweepDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_cleanup_deleted_total",
			Help: "Items removed by the retention sweep.",
		},
		[]string{"kind"},
	)
	sweepFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_cleanup_failures_total",
			Help: "Sessions the retention sweep failed to remove.",
		},
	)
	escalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_waiting_escalations_total",
			Help: "Waiting sessions raised to high priority.",
		},
	)
)

func init() {
	prometheus.MustRegister(sweepRuns, sweepDeleted, sweepFailures, escalations)
}

func recordSweep(report CleanupReport) {
	sweepRuns.Inc()
	sweepDeleted.WithLabelValues("session").Add(float64(report.Sessions))
	sweepDeleted.WithLabelValues("message").Add(float64(report.Messages))
	sweepFailures.Add(float64(len(report.Failed)))
}
