package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recon3d",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon3d",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline runs by result",
		},
		[]string{"result"},
	)

	pointsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recon3d",
			Subsystem: "pipeline",
			Name:      "points_written_total",
			Help:      "Total points persisted to point-cloud files",
		},
	)
)

func init() {
	prometheus.MustRegister(stageDuration, runsTotal, pointsWritten)
}

// runResult maps a Run error to the runs_total label.
func runResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsBusy(err):
		return "busy"
	default:
		return "error"
	}
}
