package transcription

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRecognizer returns canned segments shifted to the input's duration.
type fakeRecognizer struct {
	mu       sync.Mutex
	loaded   bool
	segments []domain.TranscriptionSegment
	calls    int
}

func (r *fakeRecognizer) Initialize(ctx context.Context) error { return nil }
func (r *fakeRecognizer) LoadModel(ctx context.Context, path string) error {
	r.loaded = true
	return nil
}
func (r *fakeRecognizer) UnloadModel() error  { r.loaded = false; return nil }
func (r *fakeRecognizer) IsModelLoaded() bool { return r.loaded }

func (r *fakeRecognizer) Transcribe(ctx context.Context, samples []float32, cfg ports.WhisperConfig, progress func(int)) (ports.WhisperResult, domain.WhisperErrorKind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if progress != nil {
		progress(100)
	}
	segments := make([]domain.TranscriptionSegment, len(r.segments))
	copy(segments, r.segments)
	return ports.WhisperResult{
		Language:         "en",
		DetectedLanguage: "en",
		Segments:         segments,
	}, domain.WhisperErrNone, nil
}

func (r *fakeRecognizer) TranscribeFile(ctx context.Context, path string, cfg ports.WhisperConfig, progress func(int)) (ports.WhisperResult, domain.WhisperErrorKind, error) {
	return r.Transcribe(ctx, nil, cfg, progress)
}

func (r *fakeRecognizer) DetectLanguage(ctx context.Context, samples []float32) (string, error) {
	return "en", nil
}
func (r *fakeRecognizer) RequestCancel()               {}
func (r *fakeRecognizer) SupportedLanguages() []string { return []string{"en", "de"} }
func (r *fakeRecognizer) ModelInfo() domain.ModelInfo  { return domain.ModelInfo{} }
func (r *fakeRecognizer) MemoryUsageBytes() int64      { return 0 }

type fakeModels struct{}

func (fakeModels) Initialize(ctx context.Context, dir string) error { return nil }
func (fakeModels) AvailableModels() []domain.ModelInfo              { return nil }
func (fakeModels) DownloadedModels() []domain.ModelInfo             { return nil }
func (fakeModels) FindModel(t domain.ModelType, lang string) (domain.ModelInfo, bool) {
	return domain.ModelInfo{}, false
}
func (fakeModels) FindBestModel(lang string) (domain.ModelInfo, bool) {
	return domain.ModelInfo{}, false
}
func (fakeModels) DownloadModel(ctx context.Context, id string) (domain.ModelErrorKind, error) {
	return domain.ModelErrNone, nil
}
func (fakeModels) CancelDownload(id string) error { return nil }
func (fakeModels) LoadModel(ctx context.Context, id string) (domain.ModelErrorKind, error) {
	return domain.ModelErrNone, nil
}
func (fakeModels) UnloadModel(id string) error { return nil }
func (fakeModels) ValidateModel(id string) (domain.ModelErrorKind, error) {
	return domain.ModelErrNone, nil
}
func (fakeModels) DeleteModel(id string) error                { return nil }
func (fakeModels) RefreshModelList(ctx context.Context) error { return nil }

type collectingObserver struct {
	mu       sync.Mutex
	segments []domain.TranscriptionSegment
	sessions []string
}

func (o *collectingObserver) Progress(string, int)                         {}
func (o *collectingObserver) Completed(string, domain.TranscriptionResult) {}
func (o *collectingObserver) Failed(string, domain.TranscriptionErrorKind) {}
func (o *collectingObserver) SegmentEmitted(sessionID string, seg domain.TranscriptionSegment) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions = append(o.sessions, sessionID)
	o.segments = append(o.segments, seg)
}

func (o *collectingObserver) snapshot() []domain.TranscriptionSegment {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.TranscriptionSegment, len(o.segments))
	copy(out, o.segments)
	return out
}

// writeTestWAV drops a placeholder .wav file; the fake recognizer never
// reads it.
func writeTestWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T, rec ports.SpeechRecognizer, obs ports.TranscriptionObserver) *Engine {
	t.Helper()
	return New(testLogger(), rec, fakeModels{}, nil, nil, obs, Options{
		MaxConcurrentTranscriptions: 2,
		MemoryLimitMB:               0,
		TempDir:                     t.TempDir(),
	})
}

func TestMapWhisperError(t *testing.T) {
	tests := []struct {
		in   domain.WhisperErrorKind
		want domain.TranscriptionErrorKind
	}{
		{domain.WhisperErrNone, domain.TranscriptionErrNone},
		{domain.WhisperErrInvalidInput, domain.TranscriptionErrInvalidFile},
		{domain.WhisperErrAudioProcessingFailed, domain.TranscriptionErrAudioProcessingFailed},
		{domain.WhisperErrOutOfMemory, domain.TranscriptionErrResourceExhausted},
		{domain.WhisperErrCancelled, domain.TranscriptionErrCancelled},
		{domain.WhisperErrModelLoadFailed, domain.TranscriptionErrModelNotLoaded},
		{domain.WhisperErrInferenceFailed, domain.TranscriptionErrInferenceFailed},
	}
	for _, tt := range tests {
		if got := MapWhisperError(tt.in); got != tt.want {
			t.Fatalf("MapWhisperError(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTranscribeAudioRejectsWithoutModel(t *testing.T) {
	rec := &fakeRecognizer{}
	engine := newTestEngine(t, rec, nil)

	path := writeTestWAV(t)
	_, kind, err := engine.TranscribeAudio(context.Background(), path, domain.TranscriptionSettings{})
	if err == nil || kind != domain.TranscriptionErrModelNotLoaded {
		t.Fatalf("kind = %v, want model_not_loaded", kind)
	}
}

func TestTranscribeAudioRejectsUnknownExtension(t *testing.T) {
	rec := &fakeRecognizer{loaded: true}
	engine := newTestEngine(t, rec, nil)

	_, kind, err := engine.TranscribeAudio(context.Background(), "/tmp/notes.txt", domain.TranscriptionSettings{})
	if err == nil || kind != domain.TranscriptionErrInvalidFile {
		t.Fatalf("kind = %v, want invalid_file", kind)
	}
}

func TestTranscribeAudioRejectsUnsupportedLanguage(t *testing.T) {
	rec := &fakeRecognizer{loaded: true}
	engine := newTestEngine(t, rec, nil)

	path := writeTestWAV(t)
	_, kind, err := engine.TranscribeAudio(context.Background(), path, domain.TranscriptionSettings{Language: "xx"})
	if err == nil || kind != domain.TranscriptionErrUnsupportedLanguage {
		t.Fatalf("kind = %v, want unsupported_language", kind)
	}
}

func TestBuildResultFullTextLaw(t *testing.T) {
	raw := ports.WhisperResult{
		Language: "en",
		Segments: []domain.TranscriptionSegment{
			{StartTimeMs: 0, EndTimeMs: 1000, Text: "  hello  world ", Confidence: 0.8},
			{StartTimeMs: 1000, EndTimeMs: 2000, Text: "again", Confidence: 0.6},
		},
	}
	result := buildResult(raw, domain.TranscriptionSettings{})
	if result.FullText != "hello world again" {
		t.Fatalf("FullText = %q, want normalized concatenation", result.FullText)
	}
	if result.AvgConfidence != 0.7 {
		t.Fatalf("AvgConfidence = %v, want 0.7", result.AvgConfidence)
	}
}

func TestPerformanceStatsCumulativeAverage(t *testing.T) {
	var stats domain.PerformanceStats
	stats.Observe(500, 1000)  // RTF 0.5
	stats.Observe(1500, 1000) // RTF 1.5; mean 1.0
	if stats.TotalTranscriptions != 2 {
		t.Fatalf("total = %d, want 2", stats.TotalTranscriptions)
	}
	if stats.AverageRealTimeFactor != 1.0 {
		t.Fatalf("avg RTF = %v, want 1.0", stats.AverageRealTimeFactor)
	}
}

func TestRealtimeSessionOrderedSegments(t *testing.T) {
	rec := &fakeRecognizer{
		loaded: true,
		segments: []domain.TranscriptionSegment{
			{StartTimeMs: 0, EndTimeMs: 2000, Text: "chunk text", Confidence: 0.9},
		},
	}
	obs := &collectingObserver{}
	engine := newTestEngine(t, rec, obs)

	id, err := engine.StartRealtimeTranscription(context.Background(), domain.TranscriptionSettings{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Feed 10 seconds of PCM in 100 ms chunks.
	chunk := make([]byte, bytesPerSecondPCM/10)
	for i := 0; i < 100; i++ {
		if err := engine.FeedAudioData(id, chunk); err != nil {
			t.Fatalf("feed failed: %v", err)
		}
	}

	// Let at least one tick fire, then stop (which flushes the remainder).
	time.Sleep(1200 * time.Millisecond)
	if err := engine.StopRealtimeTranscription(id); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	segments := obs.snapshot()
	if len(segments) == 0 {
		t.Fatal("no segments emitted")
	}
	var lastStart int64 = -1
	for _, seg := range segments {
		if seg.StartTimeMs < lastStart {
			t.Fatalf("segment starts not non-decreasing: %d after %d", seg.StartTimeMs, lastStart)
		}
		if seg.EndTimeMs <= seg.StartTimeMs {
			t.Fatalf("segment %+v has non-positive duration", seg)
		}
		lastStart = seg.StartTimeMs
	}

	// No events after stop.
	before := len(obs.snapshot())
	time.Sleep(700 * time.Millisecond)
	if after := len(obs.snapshot()); after != before {
		t.Fatalf("events continued after stop: %d -> %d", before, after)
	}

	if _, err := engine.VolumeLevel(id); Kind(err) != domain.TranscriptionErrSessionNotFound {
		t.Fatal("stopped session should be gone")
	}
}

func TestFeedRejectsUnalignedChunk(t *testing.T) {
	rec := &fakeRecognizer{loaded: true}
	engine := newTestEngine(t, rec, nil)

	id, err := engine.StartRealtimeTranscription(context.Background(), domain.TranscriptionSettings{})
	if err != nil {
		t.Fatal(err)
	}
	defer engine.StopRealtimeTranscription(id)

	if err := engine.FeedAudioData(id, []byte{1, 2, 3}); err == nil {
		t.Fatal("odd-length chunk should be rejected")
	}
	if err := engine.FeedAudioData("missing", []byte{1, 2}); Kind(err) != domain.TranscriptionErrSessionNotFound {
		t.Fatal("unknown session should be rejected")
	}
}

func TestRealtimeBufferOverflowResets(t *testing.T) {
	var sess domain.RealtimeSession
	big := make([]byte, domain.MaxRealtimeBufferBytes-10)
	sess.Append(big)
	sess.LastProcessedOffset = 1000

	sess.Append(make([]byte, 100))
	if sess.LastProcessedOffset != 0 {
		t.Fatal("overflow should reset the processed offset")
	}
	if len(sess.AudioBuffer) != 100 {
		t.Fatalf("buffer length = %d, want only the new chunk", len(sess.AudioBuffer))
	}
}

func TestCancelUnknownTask(t *testing.T) {
	rec := &fakeRecognizer{loaded: true}
	engine := newTestEngine(t, rec, nil)
	if err := engine.CancelTranscription("nope"); Kind(err) != domain.TranscriptionErrTaskNotFound {
		t.Fatalf("kind = %v, want task_not_found", Kind(err))
	}
}
