// Package apihttp exposes the engines to the host application over a plain
// HTTP surface, plus the websocket event stream.
package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vodscribe/corekit/internal/api/ws"
	"github.com/vodscribe/corekit/internal/domain/ports"
)

// Server routes host requests onto the injected engine contracts.
type Server struct {
	logger        *slog.Logger
	mux           *http.ServeMux
	hub           *ws.Hub
	transcription ports.TranscriptionEngine
	models        ports.ModelManager
	media         ports.MediaPipeline
	downloads     ports.Downloader
	storage       ports.Storage
	recovery      ports.RecoveryCoordinator
	ingest        ports.TorrentIngestor
}

// Option injects an optional collaborator into the server.
type Option func(*Server)

func WithTranscription(e ports.TranscriptionEngine) Option {
	return func(s *Server) { s.transcription = e }
}
func WithModels(m ports.ModelManager) Option          { return func(s *Server) { s.models = m } }
func WithMedia(p ports.MediaPipeline) Option          { return func(s *Server) { s.media = p } }
func WithDownloads(d ports.Downloader) Option         { return func(s *Server) { s.downloads = d } }
func WithStorage(st ports.Storage) Option             { return func(s *Server) { s.storage = st } }
func WithRecovery(r ports.RecoveryCoordinator) Option { return func(s *Server) { s.recovery = r } }
func WithIngest(i ports.TorrentIngestor) Option       { return func(s *Server) { s.ingest = i } }
func WithHub(h *ws.Hub) Option                        { return func(s *Server) { s.hub = h } }

// NewServer builds the router. Handlers for absent collaborators return 501.
func NewServer(logger *slog.Logger, options ...Option) *Server {
	s := &Server{logger: logger, mux: http.NewServeMux()}
	for _, opt := range options {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/transcriptions", s.handleTranscribe)
	s.mux.HandleFunc("POST /api/transcriptions/video", s.handleTranscribeVideo)
	s.mux.HandleFunc("POST /api/transcriptions/detect-language", s.handleDetectLanguage)
	s.mux.HandleFunc("GET /api/transcriptions/stats", s.handleTranscriptionStats)
	s.mux.HandleFunc("POST /api/transcriptions/cancel", s.handleCancelAll)

	s.mux.HandleFunc("GET /api/models", s.handleListModels)
	s.mux.HandleFunc("POST /api/models/{id}/download", s.handleDownloadModel)
	s.mux.HandleFunc("POST /api/models/{id}/load", s.handleLoadModel)
	s.mux.HandleFunc("POST /api/models/{id}/unload", s.handleUnloadModel)
	s.mux.HandleFunc("DELETE /api/models/{id}", s.handleDeleteModel)

	s.mux.HandleFunc("POST /api/media/analyze", s.handleAnalyze)
	s.mux.HandleFunc("POST /api/media/convert", s.handleConvert)
	s.mux.HandleFunc("POST /api/media/extract-audio", s.handleExtractAudio)
	s.mux.HandleFunc("POST /api/media/thumbnail", s.handleThumbnail)
	s.mux.HandleFunc("GET /api/media/operations", s.handleActiveOperations)
	s.mux.HandleFunc("POST /api/media/operations/{id}/cancel", s.handleCancelOperation)

	s.mux.HandleFunc("GET /api/library", s.handleListLibrary)
	s.mux.HandleFunc("GET /api/library/search", s.handleSearchLibrary)
	s.mux.HandleFunc("GET /api/library/stats", s.handleStorageStats)

	s.mux.HandleFunc("POST /api/torrents", s.handleAddTorrent)
	s.mux.HandleFunc("DELETE /api/torrents/{hash}", s.handleRemoveTorrent)

	s.mux.HandleFunc("GET /api/recovery/history", s.handleRecoveryHistory)

	if s.hub != nil {
		s.mux.Handle("GET /ws", s.hub)
	}
}

// ServeHTTP applies the metrics/logging middleware around the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withMetrics(s.mux).ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func (s *Server) notConfigured(w http.ResponseWriter, what string) {
	writeError(w, http.StatusNotImplemented, "not_configured", what+" is not configured")
}
