package apihttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTranscription struct {
	result domain.TranscriptionResult
	kind   domain.TranscriptionErrorKind
	err    error
}

func (f *fakeTranscription) TranscribeAudio(ctx context.Context, path string, settings domain.TranscriptionSettings) (domain.TranscriptionResult, domain.TranscriptionErrorKind, error) {
	return f.result, f.kind, f.err
}
func (f *fakeTranscription) TranscribeFromVideo(ctx context.Context, path string, settings domain.TranscriptionSettings) (domain.TranscriptionResult, domain.TranscriptionErrorKind, error) {
	return f.result, f.kind, f.err
}
func (f *fakeTranscription) DetectLanguage(ctx context.Context, path string) (string, error) {
	return "en", nil
}
func (f *fakeTranscription) StartRealtimeTranscription(ctx context.Context, settings domain.TranscriptionSettings) (string, error) {
	return "session", nil
}
func (f *fakeTranscription) FeedAudioData(sessionID string, pcm []byte) error { return nil }
func (f *fakeTranscription) StopRealtimeTranscription(sessionID string) error { return nil }
func (f *fakeTranscription) StartMicrophoneTranscription(ctx context.Context, settings domain.TranscriptionSettings) (string, error) {
	return "mic", nil
}
func (f *fakeTranscription) StopMicrophoneTranscription(sessionID string) error { return nil }
func (f *fakeTranscription) CancelTranscription(id string) error                { return nil }
func (f *fakeTranscription) CancelAllTranscriptions()                           {}
func (f *fakeTranscription) ConvertToSRT(result domain.TranscriptionResult) (string, error) {
	return "1\n00:00:00,000 --> 00:00:01,000\nhi\n\n", nil
}
func (f *fakeTranscription) ConvertToVTT(result domain.TranscriptionResult) (string, error) {
	return "WEBVTT\n\n", nil
}
func (f *fakeTranscription) ConvertToPlainText(result domain.TranscriptionResult) (string, error) {
	return "hi\n", nil
}
func (f *fakeTranscription) Stats() domain.PerformanceStats { return domain.PerformanceStats{} }

type fakeModels struct {
	models []domain.ModelInfo
}

func (f *fakeModels) Initialize(ctx context.Context, dir string) error { return nil }
func (f *fakeModels) AvailableModels() []domain.ModelInfo              { return f.models }
func (f *fakeModels) DownloadedModels() []domain.ModelInfo             { return nil }
func (f *fakeModels) FindModel(t domain.ModelType, lang string) (domain.ModelInfo, bool) {
	return domain.ModelInfo{}, false
}
func (f *fakeModels) FindBestModel(lang string) (domain.ModelInfo, bool) {
	return domain.ModelInfo{}, false
}
func (f *fakeModels) DownloadModel(ctx context.Context, id string) (domain.ModelErrorKind, error) {
	return domain.ModelErrNone, nil
}
func (f *fakeModels) CancelDownload(id string) error { return nil }
func (f *fakeModels) LoadModel(ctx context.Context, id string) (domain.ModelErrorKind, error) {
	return domain.ModelErrNone, nil
}
func (f *fakeModels) UnloadModel(id string) error { return nil }
func (f *fakeModels) ValidateModel(id string) (domain.ModelErrorKind, error) {
	return domain.ModelErrNone, nil
}
func (f *fakeModels) DeleteModel(id string) error                { return nil }
func (f *fakeModels) RefreshModelList(ctx context.Context) error { return nil }

var _ ports.TranscriptionEngine = (*fakeTranscription)(nil)
var _ ports.ModelManager = (*fakeModels)(nil)

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(testLogger())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTranscribeEndpointJSON(t *testing.T) {
	engine := &fakeTranscription{
		result: domain.TranscriptionResult{
			Language: "en",
			FullText: "hi",
			Segments: []domain.TranscriptionSegment{{StartTimeMs: 0, EndTimeMs: 1000, Text: "hi"}},
		},
	}
	srv := NewServer(testLogger(), WithTranscription(engine))

	body := strings.NewReader(`{"path":"/media/a.wav","language":"en"}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transcriptions", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result domain.TranscriptionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("response decode: %v", err)
	}
	if result.FullText != "hi" {
		t.Fatalf("fullText = %q", result.FullText)
	}
}

func TestTranscribeEndpointSRTFormat(t *testing.T) {
	engine := &fakeTranscription{result: domain.TranscriptionResult{FullText: "hi"}}
	srv := NewServer(testLogger(), WithTranscription(engine))

	body := strings.NewReader(`{"path":"/media/a.wav","format":"srt"}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transcriptions", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-subrip" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "-->") {
		t.Fatalf("body = %q, want SRT", rec.Body.String())
	}
}

func TestTranscribeErrorMapping(t *testing.T) {
	tests := []struct {
		kind domain.TranscriptionErrorKind
		want int
	}{
		{domain.TranscriptionErrInvalidFile, http.StatusBadRequest},
		{domain.TranscriptionErrModelNotLoaded, http.StatusConflict},
		{domain.TranscriptionErrResourceExhausted, http.StatusTooManyRequests},
		{domain.TranscriptionErrInferenceFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		engine := &fakeTranscription{kind: tt.kind, err: errFor(tt.kind)}
		srv := NewServer(testLogger(), WithTranscription(engine))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transcriptions",
			strings.NewReader(`{"path":"/x.wav"}`)))
		if rec.Code != tt.want {
			t.Fatalf("kind %v: status = %d, want %d", tt.kind, rec.Code, tt.want)
		}
	}
}

func errFor(kind domain.TranscriptionErrorKind) error {
	return &kindError{kind}
}

type kindError struct{ kind domain.TranscriptionErrorKind }

func (e *kindError) Error() string { return e.kind.String() }

func TestModelsEndpoint(t *testing.T) {
	models := &fakeModels{models: []domain.ModelInfo{{ID: "base", Name: "ggml-base"}}}
	srv := NewServer(testLogger(), WithModels(models))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ggml-base") {
		t.Fatalf("body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/models/base/load", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("load status = %d", rec.Code)
	}
}

func TestUnconfiguredCollaborator(t *testing.T) {
	srv := NewServer(testLogger())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	srv := NewServer(testLogger(), WithStorage(&nullStorage{}))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/library/search", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

type nullStorage struct{}

func (nullStorage) AddTorrent(ctx context.Context, rec domain.TorrentRecord) error    { return nil }
func (nullStorage) UpdateTorrent(ctx context.Context, rec domain.TorrentRecord) error { return nil }
func (nullStorage) GetTorrent(ctx context.Context, infoHash string) (domain.TorrentRecord, error) {
	return domain.TorrentRecord{}, nil
}
func (nullStorage) RemoveTorrent(ctx context.Context, infoHash string) error { return nil }
func (nullStorage) ListTorrents(ctx context.Context) ([]domain.TorrentRecord, error) {
	return nil, nil
}
func (nullStorage) ListActiveTorrents(ctx context.Context) ([]domain.TorrentRecord, error) {
	return nil, nil
}
func (nullStorage) AddMedia(ctx context.Context, rec domain.MediaRecord) error    { return nil }
func (nullStorage) UpdateMedia(ctx context.Context, rec domain.MediaRecord) error { return nil }
func (nullStorage) GetMedia(ctx context.Context, id string) (domain.MediaRecord, error) {
	return domain.MediaRecord{}, nil
}
func (nullStorage) RemoveMedia(ctx context.Context, id string) error { return nil }
func (nullStorage) ListMedia(ctx context.Context) ([]domain.MediaRecord, error) {
	return nil, nil
}
func (nullStorage) SearchMedia(ctx context.Context, query string) ([]domain.MediaRecord, error) {
	return nil, nil
}
func (nullStorage) AddTranscription(ctx context.Context, rec domain.TranscriptionRecord) error {
	return nil
}
func (nullStorage) GetTranscription(ctx context.Context, id string) (domain.TranscriptionRecord, error) {
	return domain.TranscriptionRecord{}, nil
}
func (nullStorage) RemoveTranscription(ctx context.Context, id string) error         { return nil }
func (nullStorage) AddSession(ctx context.Context, rec domain.PlaybackSession) error { return nil }
func (nullStorage) UpdateSession(ctx context.Context, rec domain.PlaybackSession) error {
	return nil
}
func (nullStorage) GetSession(ctx context.Context, id string) (domain.PlaybackSession, error) {
	return domain.PlaybackSession{}, nil
}
func (nullStorage) Stats(ctx context.Context) (ports.StorageStats, error) {
	return ports.StorageStats{}, nil
}
func (nullStorage) Vacuum(ctx context.Context) error                  { return nil }
func (nullStorage) Reindex(ctx context.Context) error                 { return nil }
func (nullStorage) CleanupOrphans(ctx context.Context) (int64, error) { return 0, nil }
func (nullStorage) Backup(ctx context.Context, destPath string) error { return nil }
func (nullStorage) Restore(ctx context.Context, srcPath string) error { return nil }
func (nullStorage) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (nullStorage) Close() error { return nil }
