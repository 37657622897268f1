package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adflow_executions_total",
			Help: "Total number of script executions by type and status",
		},
		[]string{"script_type", "status"},
	)
	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adflow_execution_duration_seconds",
			Help:    "Script execution duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"script_type"},
	)
	rowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adflow_rows_processed_total",
			Help: "Total report rows processed by executions",
		},
		[]string{"script_type"},
	)
	changesMade = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adflow_changes_made_total",
			Help: "Total remote changes made by executions",
		},
		[]string{"script_type"},
	)
	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adflow_alerts_total",
			Help: "Total alerts raised by rule and severity",
		},
		[]string{"rule", "severity"},
	)
)
