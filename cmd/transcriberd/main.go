package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "github.com/vodscribe/corekit/internal/api/http"
	"github.com/vodscribe/corekit/internal/api/ws"
	"github.com/vodscribe/corekit/internal/app"
	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/download"
	"github.com/vodscribe/corekit/internal/encoder"
	ingesttorrent "github.com/vodscribe/corekit/internal/ingest/torrent"
	"github.com/vodscribe/corekit/internal/media"
	"github.com/vodscribe/corekit/internal/metrics"
	"github.com/vodscribe/corekit/internal/model"
	"github.com/vodscribe/corekit/internal/resilience/recovery"
	"github.com/vodscribe/corekit/internal/storage/sqlite"
	"github.com/vodscribe/corekit/internal/stt"
	"github.com/vodscribe/corekit/internal/telemetry"
	"github.com/vodscribe/corekit/internal/transcription"
)

func main() {
	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "transcriberd")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "transcriberd"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("modelsDir", cfg.ModelsDir),
		slog.String("dbPath", cfg.DBPath),
		slog.Bool("gpuEnabled", cfg.GPUEnabled),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("storage open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	coordinator := recovery.New(logger, recovery.Options{
		MaxErrorHistory:       cfg.MaxErrorHistory,
		ErrorReportingEnabled: cfg.ErrorReportingEnabled,
		AutoRecoveryEnabled:   cfg.AutoRecoveryEnabled,
		BreakerThreshold:      cfg.BreakerThreshold,
		BreakerResetTimeout:   cfg.BreakerResetTimeout,
	})
	defer coordinator.Close()

	hub := ws.NewHub(logger, nil)
	go hub.Run()
	defer hub.Close()

	downloads := download.New(logger, download.Options{
		MaxConcurrentDownloads: cfg.DownloadMaxConcurrent,
		Timeout:                cfg.DownloadTimeout,
		MaxRetries:             cfg.DownloadMaxRetries,
		RetryDelay:             cfg.DownloadRetryDelay,
		UserAgent:              cfg.DownloadUserAgent,
		MaxRedirects:           cfg.DownloadMaxRedirects,
		VerifySSL:              cfg.DownloadVerifySSL,
	}, &downloadObserver{hub: hub})

	enc := encoder.New(cfg.FFMPEGPath, cfg.FFProbePath)

	recognizer := stt.NewWrapper(logger, stt.WhisperCppBinding{}, enc, nil, cfg.TempDir)
	if err := recognizer.Initialize(rootCtx); err != nil {
		logger.Error("recognizer init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	models := model.New(logger, model.Options{
		MaxConcurrentDownloads: cfg.ModelMaxConcurrentDownloads,
		DownloadTimeout:        cfg.ModelDownloadTimeout,
		MaxRetryAttempts:       cfg.ModelMaxRetryAttempts,
		AutoCleanupEnabled:     cfg.ModelAutoCleanupEnabled,
		AutoCleanupInterval:    cfg.ModelAutoCleanupInterval,
		UnusedThreshold:        cfg.ModelUnusedThreshold,
	}, downloads, recognizer)
	if err := models.Initialize(rootCtx, cfg.ModelsDir); err != nil {
		logger.Error("model manager init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer models.Close()

	accelerator := media.NewFFmpegAccelerator(cfg.FFMPEGPath)
	pipeline := media.New(logger, enc, accelerator, &mediaObserver{hub: hub}, media.Options{
		MaxConcurrentOperations: cfg.MaxConcurrentOperations,
		MemoryLimitMB:           cfg.MediaMemoryLimitMB,
		TempDir:                 cfg.TempDir,
		HWAccelEnabled:          cfg.GPUEnabled,
	})

	engine := transcription.New(logger, recognizer, models, enc, nil, &transcriptionObserver{hub: hub}, transcription.Options{
		MaxConcurrentTranscriptions: cfg.MaxConcurrentTranscriptions,
		MemoryLimitMB:               cfg.TranscriptionMemoryLimitMB,
		GPUEnabled:                  cfg.GPUEnabled,
		TempDir:                     cfg.TempDir,
	})

	ingestor, err := ingesttorrent.New(logger, cfg.TorrentDataDir)
	if err != nil {
		logger.Error("torrent ingest init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer ingestor.Close()

	coordinator.StartHealthCheck("storage", func(ctx context.Context) error {
		_, err := store.Stats(ctx)
		return err
	}, 30*time.Second)

	go pumpRecoveryEvents(rootCtx, coordinator, hub, logger)

	handler := apihttp.NewServer(logger,
		apihttp.WithTranscription(engine),
		apihttp.WithModels(models),
		apihttp.WithMedia(pipeline),
		apihttp.WithDownloads(downloads),
		apihttp.WithStorage(store),
		apihttp.WithRecovery(coordinator),
		apihttp.WithIngest(ingestor),
		apihttp.WithHub(hub),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", otelhttp.NewHandler(handler, "transcriberd"))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	engine.CancelAllTranscriptions()
	pipeline.CancelAllOperations()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := recognizer.UnloadModel(); err != nil {
		logger.Warn("model unload error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// pumpRecoveryEvents bridges coordinator events onto the websocket hub.
func pumpRecoveryEvents(ctx context.Context, coordinator *recovery.Coordinator, hub *ws.Hub, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-coordinator.Events():
			hub.RecoveryEvent(ev.Type.String(), ev.Component, ev.Healthy)
			if ev.Type == recovery.EventFatal {
				logger.Error("fatal error reported, terminating",
					slog.String("component", ev.Component),
					slog.String("operation", ev.Operation),
				)
			}
		}
	}
}

// Observer adapters bridging engine callbacks onto the hub.

type transcriptionObserver struct{ hub *ws.Hub }

func (o *transcriptionObserver) Progress(taskID string, pct int) {
	o.hub.TranscriptionProgress(taskID, pct)
}

func (o *transcriptionObserver) Completed(taskID string, result domain.TranscriptionResult) {
	o.hub.TranscriptionCompleted(taskID, result)
}

func (o *transcriptionObserver) Failed(taskID string, kind domain.TranscriptionErrorKind) {
	o.hub.TranscriptionFailed(taskID, kind)
}

func (o *transcriptionObserver) SegmentEmitted(sessionID string, seg domain.TranscriptionSegment) {
	o.hub.SegmentEmitted(sessionID, seg)
}

type downloadObserver struct{ hub *ws.Hub }

func (o *downloadObserver) DownloadStarted(id string) {}

func (o *downloadObserver) DownloadProgress(id string, received, total int64, speedBps float64) {
	o.hub.DownloadProgress(id, received, total, speedBps)
}

func (o *downloadObserver) DownloadCompleted(id string) {
	o.hub.DownloadFinished(id, "completed")
}

func (o *downloadObserver) DownloadFailed(id string, kind domain.DownloadErrorKind) {
	o.hub.DownloadFinished(id, kind.String())
}

func (o *downloadObserver) DownloadCancelled(id string) {
	o.hub.DownloadFinished(id, "cancelled")
}

func (o *downloadObserver) DownloadResumed(id string, fromByte int64) {}

type mediaObserver struct{ hub *ws.Hub }

func (o *mediaObserver) Progress(ev domain.ProgressEvent) {
	o.hub.MediaProgress(ev)
}

func (o *mediaObserver) Completed(operationID, outputPath string) {
	o.hub.MediaFinished(operationID, "completed")
}

func (o *mediaObserver) Failed(operationID string, kind domain.MediaErrorKind) {
	o.hub.MediaFinished(operationID, kind.String())
}

func (o *mediaObserver) Cancelled(operationID string) {
	o.hub.MediaFinished(operationID, "cancelled")
}
