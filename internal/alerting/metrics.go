package alerting

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_runs_total",
			Help: "Total number of alert evaluation runs by result",
		},
		[]string{"result"},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alert_run_duration_seconds",
			Help:    "Duration of alert evaluation runs",
			Buckets: prometheus.DefBuckets,
		},
	)
	alertsEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_evaluated_total",
			Help: "Total number of alerts evaluated by decision state",
		},
		[]string{"state"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_notifications_total",
			Help: "Total number of alert notifications by mode and result",
		},
		[]string{"mode", "result"},
	)
	postDispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_post_dispatch_failures_total",
			Help: "Storage updates that failed after a notification was already sent",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(alertsEvaluatedTotal)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(postDispatchFailuresTotal)
}
