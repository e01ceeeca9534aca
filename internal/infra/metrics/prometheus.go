package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dva_exports_total",
		Help: "Total number of exports, by kind and final status",
	}, []string{"kind", "status"})

	ExportStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dva_export_stage_duration_seconds",
		Help:    "Duration of export pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesCompositedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dva_frames_composited_total",
		Help: "Total number of frames composited with the overlay across all exports",
	})

	SeekClampsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dva_seek_clamps_total",
		Help: "Seeks retried at the last decodable time",
	})

	ActiveExports = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dva_active_exports",
		Help: "Number of exports currently running",
	})

	RejectedOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dva_rejected_operations_total",
		Help: "Operator requests rejected without a state change, by reason",
	}, []string{"reason"})

	OverlayTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dva_overlay_ticks_total",
		Help: "Overlay render loop ticks, by outcome",
	}, []string{"outcome"})

	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dva_backend_request_duration_seconds",
		Help:    "Round-trip time of calls to the ingestion, rectification and detection backends",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "outcome"})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dva_export_retry_total",
		Help: "Total number of export retries",
	}, []string{"attempt"})
)
