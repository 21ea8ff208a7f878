package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "corekit",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	RetryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "retry_attempts_total",
		Help:      "Total retry attempts by component and outcome.",
	}, []string{"component", "outcome"})

	CircuitBreakerTripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "circuit_breaker_trips_total",
		Help:      "Total circuit breaker trips by component.",
	}, []string{"component"})

	CircuitBreakerOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "circuit_breaker_open",
		Help:      "Whether the component's circuit breaker is currently open (1) or closed (0).",
	}, []string{"component"})

	ErrorsReportedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "errors_reported_total",
		Help:      "Total errors reported to the recovery coordinator by component and severity.",
	}, []string{"component", "severity"})

	RecoveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "recovery_attempts_total",
		Help:      "Total recovery attempts by component and outcome.",
	}, []string{"component", "outcome"})

	ActiveDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "active_downloads",
		Help:      "Number of currently active downloads.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "downloads_total",
		Help:      "Total downloads by final status.",
	}, []string{"status"})

	DownloadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "download_bytes_total",
		Help:      "Total bytes received across all downloads.",
	})

	ModelsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "models_loaded",
		Help:      "Number of currently loaded STT models (0 or 1 per engine).",
	})

	ModelDownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "model_downloads_total",
		Help:      "Total model downloads by outcome.",
	}, []string{"outcome"})

	ActiveTranscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "active_transcriptions",
		Help:      "Number of currently running transcription tasks.",
	})

	TranscriptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "transcriptions_total",
		Help:      "Total transcription tasks by outcome.",
	}, []string{"outcome"})

	TranscriptionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "corekit",
		Name:      "transcription_duration_seconds",
		Help:      "Wall-clock duration of transcription tasks in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	TranscriptionRealTimeFactor = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "transcription_rtf",
		Help:      "Cumulative average real-time factor (processing time / audio duration).",
	})

	RealtimeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "realtime_sessions",
		Help:      "Number of active realtime transcription sessions.",
	})

	RealtimeBufferBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "realtime_buffer_bytes",
		Help:      "Total bytes currently buffered across realtime sessions.",
	})

	ActiveMediaOperations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "active_media_operations",
		Help:      "Number of currently running media pipeline operations.",
	})

	MediaOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "media_operations_total",
		Help:      "Total media pipeline operations by kind and outcome.",
	}, []string{"kind", "outcome"})

	MediaEncodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "corekit",
		Name:      "media_encode_duration_seconds",
		Help:      "Duration of encoder subprocess jobs in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	})

	StorageQueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corekit",
		Name:      "storage_queries_total",
		Help:      "Total storage operations by table and outcome.",
	}, []string{"table", "outcome"})

	TorrentIngestActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "corekit",
		Name:      "torrent_ingest_active",
		Help:      "Number of torrents currently being ingested.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RetryAttemptsTotal,
		CircuitBreakerTripsTotal,
		CircuitBreakerOpen,
		ErrorsReportedTotal,
		RecoveryAttemptsTotal,
		ActiveDownloads,
		DownloadSpeedBytes,
		DownloadsTotal,
		DownloadBytesTotal,
		ModelsLoaded,
		ModelDownloadsTotal,
		ActiveTranscriptions,
		TranscriptionsTotal,
		TranscriptionDuration,
		TranscriptionRealTimeFactor,
		RealtimeSessions,
		RealtimeBufferBytes,
		ActiveMediaOperations,
		MediaOperationsTotal,
		MediaEncodeDuration,
		StorageQueriesTotal,
		TorrentIngestActive,
	)
}
