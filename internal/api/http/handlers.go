package apihttp

import (
	"net/http"
	"strings"

	"github.com/vodscribe/corekit/internal/domain"
)

type transcribeRequest struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Format   string `json:"format"`
}

func settingsFrom(req transcribeRequest) domain.TranscriptionSettings {
	settings := domain.TranscriptionSettings{
		Language:         req.Language,
		EnableTimestamps: true,
		OutputFormat:     domain.OutputFormatJSON,
	}
	switch strings.ToLower(req.Format) {
	case "srt":
		settings.OutputFormat = domain.OutputFormatSRT
	case "vtt":
		settings.OutputFormat = domain.OutputFormatVTT
	case "txt":
		settings.OutputFormat = domain.OutputFormatTXT
	}
	return settings
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcription == nil {
		s.notConfigured(w, "transcription engine")
		return
	}
	var req transcribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, kind, err := s.transcription.TranscribeAudio(r.Context(), req.Path, settingsFrom(req))
	if err != nil {
		writeError(w, statusForTranscription(kind), kind.String(), err.Error())
		return
	}
	s.writeTranscription(w, result, req.Format)
}

func (s *Server) handleTranscribeVideo(w http.ResponseWriter, r *http.Request) {
	if s.transcription == nil {
		s.notConfigured(w, "transcription engine")
		return
	}
	var req transcribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, kind, err := s.transcription.TranscribeFromVideo(r.Context(), req.Path, settingsFrom(req))
	if err != nil {
		writeError(w, statusForTranscription(kind), kind.String(), err.Error())
		return
	}
	s.writeTranscription(w, result, req.Format)
}

func (s *Server) writeTranscription(w http.ResponseWriter, result domain.TranscriptionResult, format string) {
	switch strings.ToLower(format) {
	case "srt":
		payload, err := s.transcription.ConvertToSRT(result)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "format_failed", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/x-subrip")
		_, _ = w.Write([]byte(payload))
	case "vtt":
		payload, err := s.transcription.ConvertToVTT(result)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "format_failed", err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/vtt")
		_, _ = w.Write([]byte(payload))
	case "txt":
		payload, err := s.transcription.ConvertToPlainText(result)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "format_failed", err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(payload))
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func statusForTranscription(kind domain.TranscriptionErrorKind) int {
	switch kind {
	case domain.TranscriptionErrInvalidFile, domain.TranscriptionErrUnsupportedLanguage:
		return http.StatusBadRequest
	case domain.TranscriptionErrModelNotLoaded:
		return http.StatusConflict
	case domain.TranscriptionErrResourceExhausted:
		return http.StatusTooManyRequests
	case domain.TranscriptionErrTaskNotFound, domain.TranscriptionErrSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleDetectLanguage(w http.ResponseWriter, r *http.Request) {
	if s.transcription == nil {
		s.notConfigured(w, "transcription engine")
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	lang, err := s.transcription.DetectLanguage(r.Context(), req.Path)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "detect_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"language": lang})
}

func (s *Server) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if s.transcription == nil {
		s.notConfigured(w, "transcription engine")
		return
	}
	writeJSON(w, http.StatusOK, s.transcription.Stats())
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if s.transcription == nil {
		s.notConfigured(w, "transcription engine")
		return
	}
	s.transcription.CancelAllTranscriptions()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		s.notConfigured(w, "model manager")
		return
	}
	writeJSON(w, http.StatusOK, s.models.AvailableModels())
}

func (s *Server) handleDownloadModel(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		s.notConfigured(w, "model manager")
		return
	}
	kind, err := s.models.DownloadModel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForModel(kind), kind.String(), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		s.notConfigured(w, "model manager")
		return
	}
	kind, err := s.models.LoadModel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForModel(kind), kind.String(), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		s.notConfigured(w, "model manager")
		return
	}
	if err := s.models.UnloadModel(r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "unload_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		s.notConfigured(w, "model manager")
		return
	}
	if err := s.models.DeleteModel(r.PathValue("id")); err != nil {
		writeError(w, http.StatusConflict, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusForModel(kind domain.ModelErrorKind) int {
	switch kind {
	case domain.ModelErrModelNotFound:
		return http.StatusNotFound
	case domain.ModelErrModelNotAvailable, domain.ModelErrInvalidConfiguration:
		return http.StatusBadRequest
	case domain.ModelErrCorruptedModel:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type mediaRequest struct {
	Input      string                `json:"input"`
	Output     string                `json:"output"`
	TimeOffset float64               `json:"timeOffset"`
	Options    domain.ConvertOptions `json:"options"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		s.notConfigured(w, "media pipeline")
		return
	}
	var req mediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	info, kind, err := s.media.AnalyzeVideo(r.Context(), req.Input)
	if err != nil {
		writeError(w, statusForMedia(kind), kind.String(), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		s.notConfigured(w, "media pipeline")
		return
	}
	var req mediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, kind, err := s.media.ConvertVideo(r.Context(), req.Input, req.Output, req.Options)
	if err != nil {
		writeError(w, statusForMedia(kind), kind.String(), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func (s *Server) handleExtractAudio(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		s.notConfigured(w, "media pipeline")
		return
	}
	var req mediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, kind, err := s.media.ExtractAudio(r.Context(), req.Input, req.Output)
	if err != nil {
		writeError(w, statusForMedia(kind), kind.String(), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		s.notConfigured(w, "media pipeline")
		return
	}
	var req mediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, kind, err := s.media.GenerateThumbnail(r.Context(), req.Input, req.Output, req.TimeOffset)
	if err != nil {
		writeError(w, statusForMedia(kind), kind.String(), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func (s *Server) handleActiveOperations(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		s.notConfigured(w, "media pipeline")
		return
	}
	writeJSON(w, http.StatusOK, s.media.ActiveOperations())
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		s.notConfigured(w, "media pipeline")
		return
	}
	if err := s.media.CancelOperation(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "unknown_operation", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusForMedia(kind domain.MediaErrorKind) int {
	switch kind {
	case domain.MediaErrInvalidFile, domain.MediaErrUnsupportedFormat:
		return http.StatusBadRequest
	case domain.MediaErrResourceExhausted:
		return http.StatusTooManyRequests
	case domain.MediaErrCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListLibrary(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.notConfigured(w, "storage")
		return
	}
	media, err := s.storage.ListMedia(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, media)
}

func (s *Server) handleSearchLibrary(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.notConfigured(w, "storage")
		return
	}
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query parameter q is required")
		return
	}
	media, err := s.storage.SearchMedia(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, media)
}

func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.notConfigured(w, "storage")
		return
	}
	stats, err := s.storage.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		s.notConfigured(w, "torrent ingest")
		return
	}
	var req struct {
		Magnet  string `json:"magnet"`
		SaveDir string `json:"saveDir"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	infoHash, err := s.ingest.AddMagnet(r.Context(), req.Magnet, req.SaveDir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ingest_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"infoHash": infoHash})
}

func (s *Server) handleRemoveTorrent(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		s.notConfigured(w, "torrent ingest")
		return
	}
	deleteData := r.URL.Query().Get("deleteData") == "true"
	if err := s.ingest.Remove(r.Context(), r.PathValue("hash"), deleteData); err != nil {
		writeError(w, http.StatusNotFound, "unknown_torrent", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecoveryHistory(w http.ResponseWriter, r *http.Request) {
	if s.recovery == nil {
		s.notConfigured(w, "recovery coordinator")
		return
	}
	component := r.URL.Query().Get("component")
	writeJSON(w, http.StatusOK, s.recovery.History(component))
}
