// Package transcription orchestrates the model manager and the native
// recognizer into the user-facing engine: file and video transcription,
// language detection, realtime streaming sessions, microphone capture,
// resource gating, and output format conversion.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
	"github.com/vodscribe/corekit/internal/metrics"
	"github.com/vodscribe/corekit/internal/resource"
	"github.com/vodscribe/corekit/internal/stt"
	"github.com/vodscribe/corekit/internal/subtitle"
)

// Error carries the typed transcription failure kind alongside the cause.
type Error struct {
	Kind domain.TranscriptionErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind domain.TranscriptionErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Kind extracts the TranscriptionErrorKind from an engine error.
func Kind(err error) domain.TranscriptionErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if err == nil {
		return domain.TranscriptionErrNone
	}
	return domain.TranscriptionErrInternal
}

// MapWhisperError converts the recognizer's error kinds across the
// component boundary.
func MapWhisperError(kind domain.WhisperErrorKind) domain.TranscriptionErrorKind {
	switch kind {
	case domain.WhisperErrNone:
		return domain.TranscriptionErrNone
	case domain.WhisperErrInvalidInput:
		return domain.TranscriptionErrInvalidFile
	case domain.WhisperErrAudioProcessingFailed:
		return domain.TranscriptionErrAudioProcessingFailed
	case domain.WhisperErrOutOfMemory:
		return domain.TranscriptionErrResourceExhausted
	case domain.WhisperErrCancelled:
		return domain.TranscriptionErrCancelled
	case domain.WhisperErrModelLoadFailed, domain.WhisperErrInvalidModel, domain.WhisperErrInitializationFailed:
		return domain.TranscriptionErrModelNotLoaded
	default:
		return domain.TranscriptionErrInferenceFailed
	}
}

// Options configures an Engine.
type Options struct {
	MaxConcurrentTranscriptions int
	MemoryLimitMB               int64
	GPUEnabled                  bool
	TempDir                     string
}

// DefaultOptions returns the stock engine configuration.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentTranscriptions: 2,
		MemoryLimitMB:               4096,
		TempDir:                     os.TempDir(),
	}
}

type task struct {
	id     string
	cancel context.CancelFunc
	// estimate is the memory projection this task contributes to the gate.
	estimate int64
}

type noopObserver struct{}

func (noopObserver) Progress(string, int)                               {}
func (noopObserver) Completed(string, domain.TranscriptionResult)       {}
func (noopObserver) Failed(string, domain.TranscriptionErrorKind)       {}
func (noopObserver) SegmentEmitted(string, domain.TranscriptionSegment) {}

// Engine is the transcription orchestrator. Inference serializes on
// inferMu; task bookkeeping on taskMu.
type Engine struct {
	logger     *slog.Logger
	recognizer ports.SpeechRecognizer
	models     ports.ModelManager
	converter  ports.EncoderWrapper
	vad        *stt.VAD
	observer   ports.TranscriptionObserver
	opts       Options

	inferMu sync.Mutex

	taskMu sync.Mutex
	tasks  map[string]*task

	statsMu sync.Mutex
	stats   domain.PerformanceStats

	sessions *sessionSet
}

// New builds an Engine. vad may be nil to disable silence trimming; a nil
// observer is replaced with a no-op.
func New(logger *slog.Logger, recognizer ports.SpeechRecognizer, models ports.ModelManager, converter ports.EncoderWrapper, vad *stt.VAD, observer ports.TranscriptionObserver, opts Options) *Engine {
	if opts.MaxConcurrentTranscriptions <= 0 {
		opts.MaxConcurrentTranscriptions = DefaultOptions().MaxConcurrentTranscriptions
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	e := &Engine{
		logger:     logger,
		recognizer: recognizer,
		models:     models,
		converter:  converter,
		vad:        vad,
		observer:   observer,
		opts:       opts,
		tasks:      make(map[string]*task),
	}
	e.sessions = newSessionSet(e)
	return e
}

// audioExtensions lists the media files accepted for transcription input.
var audioExtensions = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".flac": {}, ".ogg": {}, ".m4a": {}, ".aac": {},
	".opus": {}, ".wma": {}, ".mp4": {}, ".mkv": {}, ".avi": {}, ".mov": {},
	".webm": {},
}

func (e *Engine) validateInput(path, language string) error {
	if _, err := os.Stat(path); err != nil {
		return newError(domain.TranscriptionErrInvalidFile, err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := audioExtensions[ext]; !ok {
		return newError(domain.TranscriptionErrInvalidFile,
			fmt.Errorf("extension %q is not a recognized media file", ext))
	}
	if language == "" || language == "auto" {
		return nil
	}
	supported := e.recognizer.SupportedLanguages()
	if len(supported) == 0 {
		// No model loaded yet; the model check surfaces separately.
		return nil
	}
	for _, lang := range supported {
		if lang == language {
			return nil
		}
	}
	return newError(domain.TranscriptionErrUnsupportedLanguage,
		fmt.Errorf("language %q is not supported by the loaded model", language))
}

// memoryEstimate projects a task's footprint: model size × 3 with GPU
// enabled (× 2 without) plus roughly 1 MiB per second of audio.
func (e *Engine) memoryEstimate(audioSeconds float64) int64 {
	factor := int64(2)
	if e.opts.GPUEnabled {
		factor = 3
	}
	modelBytes := e.recognizer.MemoryUsageBytes()
	return factor*modelBytes + int64(audioSeconds)*(1<<20)
}

// admit registers a task, enforcing the concurrency and memory gates.
func (e *Engine) admit(cancel context.CancelFunc, audioSeconds float64) (*task, error) {
	estimate := e.memoryEstimate(audioSeconds)

	e.taskMu.Lock()
	defer e.taskMu.Unlock()

	if len(e.tasks) >= e.opts.MaxConcurrentTranscriptions {
		return nil, newError(domain.TranscriptionErrResourceExhausted,
			fmt.Errorf("%d transcription tasks already active", len(e.tasks)))
	}
	if e.opts.MemoryLimitMB > 0 {
		rss, err := resource.ProcessRSSBytes()
		if err != nil {
			e.logger.Warn("memory gate skipped, RSS unavailable", slog.String("error", err.Error()))
		} else {
			projected := rss + estimate
			for _, t := range e.tasks {
				projected += t.estimate
			}
			if projected > e.opts.MemoryLimitMB*1024*1024 {
				return nil, newError(domain.TranscriptionErrResourceExhausted,
					fmt.Errorf("projected memory %d MiB exceeds the %d MiB cap", projected>>20, e.opts.MemoryLimitMB))
			}
		}
	}

	t := &task{id: uuid.NewString(), cancel: cancel, estimate: estimate}
	e.tasks[t.id] = t
	metrics.ActiveTranscriptions.Set(float64(len(e.tasks)))
	return t, nil
}

func (e *Engine) release(t *task) {
	e.taskMu.Lock()
	delete(e.tasks, t.id)
	metrics.ActiveTranscriptions.Set(float64(len(e.tasks)))
	e.taskMu.Unlock()
}

// TranscribeAudio transcribes a media file into a TranscriptionResult.
func (e *Engine) TranscribeAudio(ctx context.Context, path string, settings domain.TranscriptionSettings) (domain.TranscriptionResult, domain.TranscriptionErrorKind, error) {
	if err := e.validateInput(path, settings.Language); err != nil {
		return domain.TranscriptionResult{}, Kind(err), err
	}
	if !e.recognizer.IsModelLoaded() {
		err := newError(domain.TranscriptionErrModelNotLoaded, errors.New("no model loaded"))
		return domain.TranscriptionResult{}, Kind(err), err
	}

	audioSeconds := e.probeDurationSeconds(ctx, path)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t, err := e.admit(cancel, audioSeconds)
	if err != nil {
		return domain.TranscriptionResult{}, Kind(err), err
	}
	defer e.release(t)

	e.inferMu.Lock()
	defer e.inferMu.Unlock()

	e.observer.Progress(t.id, 0)
	start := time.Now()

	result, kind, err := e.runInference(taskCtx, t.id, path, settings)
	if err != nil {
		metrics.TranscriptionsTotal.WithLabelValues(outcomeLabel(kind)).Inc()
		e.observer.Failed(t.id, kind)
		return domain.TranscriptionResult{}, kind, err
	}

	e.observer.Progress(t.id, 100)
	processing := time.Since(start)
	result.ProcessingTimeMs = processing.Milliseconds()
	result.ProcessedAt = time.Now()
	metrics.TranscriptionsTotal.WithLabelValues("success").Inc()
	metrics.TranscriptionDuration.Observe(processing.Seconds())

	e.recordStats(processing.Milliseconds(), int64(audioSeconds*1000))
	e.observer.Completed(t.id, result)
	return result, domain.TranscriptionErrNone, nil
}

func outcomeLabel(kind domain.TranscriptionErrorKind) string {
	if kind == domain.TranscriptionErrCancelled {
		return "cancelled"
	}
	return "failure"
}

// runInference loads audio, applies VAD when enabled, invokes the
// recognizer, and maps the raw result. Caller holds inferMu.
func (e *Engine) runInference(ctx context.Context, taskID, path string, settings domain.TranscriptionSettings) (domain.TranscriptionResult, domain.TranscriptionErrorKind, error) {
	wrapper, ok := e.recognizer.(*stt.Wrapper)
	var samples []float32
	var err error
	if ok {
		samples, err = wrapper.LoadAudio(ctx, path)
		if err != nil {
			kind := MapWhisperError(stt.Kind(err))
			return domain.TranscriptionResult{}, kind, newError(kind, err)
		}
	}

	if settings.EnableVAD && e.vad != nil && samples != nil {
		trimmed := e.vad.TrimSilence(samples)
		if len(trimmed) > 0 {
			samples = trimmed
		}
	}

	cfg := whisperConfig(settings)
	progress := func(pct int) {
		// The recognizer's own percentage occupies the front half; mapping
		// completes the back half.
		e.observer.Progress(taskID, pct/2)
	}

	var raw ports.WhisperResult
	var whisperKind domain.WhisperErrorKind
	if samples != nil {
		raw, whisperKind, err = e.recognizer.Transcribe(ctx, samples, cfg, progress)
	} else {
		raw, whisperKind, err = e.recognizer.TranscribeFile(ctx, path, cfg, progress)
	}
	if err != nil {
		kind := MapWhisperError(whisperKind)
		return domain.TranscriptionResult{}, kind, newError(kind, err)
	}
	e.observer.Progress(taskID, 50)

	result := buildResult(raw, settings)
	if loaded := e.models; loaded != nil {
		if id := loadedModelID(loaded); id != "" {
			result.ModelUsed = id
		}
	}
	return result, domain.TranscriptionErrNone, nil
}

// loadedModelID asks the manager which model is resident; managers outside
// this module may not track it, so a missing answer degrades to empty.
func loadedModelID(m ports.ModelManager) string {
	type loadedIDer interface{ LoadedModelID() string }
	if l, ok := m.(loadedIDer); ok {
		return l.LoadedModelID()
	}
	return ""
}

func whisperConfig(settings domain.TranscriptionSettings) ports.WhisperConfig {
	return ports.WhisperConfig{
		Language:              settings.Language,
		AutoDetectLanguage:    settings.Language == "" || settings.Language == "auto",
		EnableTimestamps:      settings.EnableTimestamps,
		EnableTokenTimestamps: settings.EnableWordConfidence,
		Temperature:           settings.Temperature,
		BeamSize:              settings.BeamSize,
	}
}

// buildResult enriches the raw recognizer output with full text, averaged
// confidence, and post-processing per the request settings.
func buildResult(raw ports.WhisperResult, settings domain.TranscriptionSettings) domain.TranscriptionResult {
	segments := raw.Segments
	if settings.MaxSegmentLength > 0 {
		segments = subtitle.SplitLongSegments(segments, settings.MaxSegmentLength, true)
	}

	post := subtitle.PostProcessOptions{
		Capitalize:        settings.EnableCapitalization,
		EnsurePunctuation: settings.EnablePunctuation,
	}
	var parts []string
	var confSum float64
	for i := range segments {
		segments[i].Text = subtitle.PostProcessText(segments[i].Text, post)
		parts = append(parts, segments[i].Text)
		confSum += segments[i].Confidence
	}

	result := domain.TranscriptionResult{
		Language:         raw.Language,
		DetectedLanguage: raw.DetectedLanguage,
		Segments:         segments,
		FullText:         strings.Join(parts, " "),
	}
	if len(segments) > 0 {
		result.AvgConfidence = confSum / float64(len(segments))
	}
	return result
}

// TranscribeFromVideo extracts the audio track to a temporary WAV through
// the external encoder, transcribes it, and removes the temporary.
func (e *Engine) TranscribeFromVideo(ctx context.Context, path string, settings domain.TranscriptionSettings) (domain.TranscriptionResult, domain.TranscriptionErrorKind, error) {
	if err := e.validateInput(path, settings.Language); err != nil {
		return domain.TranscriptionResult{}, Kind(err), err
	}

	tmp := filepath.Join(e.opts.TempDir, "transcribe-"+uuid.NewString()+".wav")
	defer os.Remove(tmp)

	if err := e.converter.ToPCMWAV(ctx, path, tmp, stt.SampleRate, 1); err != nil {
		kind := domain.TranscriptionErrAudioProcessingFailed
		if ctx.Err() != nil {
			kind = domain.TranscriptionErrCancelled
		}
		return domain.TranscriptionResult{}, kind, newError(kind, err)
	}
	return e.TranscribeAudio(ctx, tmp, settings)
}

// DetectLanguage loads the file and runs detection over its first 30
// seconds.
func (e *Engine) DetectLanguage(ctx context.Context, path string) (string, error) {
	if !e.recognizer.IsModelLoaded() {
		return "", newError(domain.TranscriptionErrModelNotLoaded, errors.New("no model loaded"))
	}
	wrapper, ok := e.recognizer.(*stt.Wrapper)
	if !ok {
		return "", newError(domain.TranscriptionErrInternal, errors.New("recognizer cannot load files"))
	}
	samples, err := wrapper.LoadAudio(ctx, path)
	if err != nil {
		kind := MapWhisperError(stt.Kind(err))
		return "", newError(kind, err)
	}
	e.inferMu.Lock()
	defer e.inferMu.Unlock()
	return e.recognizer.DetectLanguage(ctx, samples)
}

// probeDurationSeconds asks the external encoder for the file duration used
// as the progress denominator and memory estimate; failures degrade to 0.
func (e *Engine) probeDurationSeconds(ctx context.Context, path string) float64 {
	if e.converter == nil {
		return 0
	}
	probe, err := e.converter.Probe(ctx, path)
	if err != nil {
		e.logger.Debug("duration probe failed", slog.String("error", err.Error()))
		return 0
	}
	return float64(probe.DurationMs) / 1000
}

// CancelTranscription cancels one task by id and kills any encoder child it
// spawned.
func (e *Engine) CancelTranscription(id string) error {
	e.taskMu.Lock()
	t, ok := e.tasks[id]
	e.taskMu.Unlock()
	if !ok {
		return newError(domain.TranscriptionErrTaskNotFound, fmt.Errorf("no task %q", id))
	}
	t.cancel()
	e.recognizer.RequestCancel()
	e.observer.Failed(id, domain.TranscriptionErrCancelled)
	return nil
}

// CancelAllTranscriptions cancels every active task and terminates encoder
// children.
func (e *Engine) CancelAllTranscriptions() {
	e.taskMu.Lock()
	tasks := make([]*task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	e.taskMu.Unlock()

	e.recognizer.RequestCancel()
	for _, t := range tasks {
		t.cancel()
		e.observer.Failed(t.id, domain.TranscriptionErrCancelled)
	}
	if e.converter != nil {
		if err := e.converter.Terminate(); err != nil {
			e.logger.Warn("encoder terminate failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) recordStats(processingMs, audioMs int64) {
	e.statsMu.Lock()
	e.stats.Observe(processingMs, audioMs)
	rtf := e.stats.AverageRealTimeFactor
	e.statsMu.Unlock()
	metrics.TranscriptionRealTimeFactor.Set(rtf)
}

// Stats snapshots the engine's running performance totals.
func (e *Engine) Stats() domain.PerformanceStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// ConvertToSRT renders a result through the subtitle formatter.
func (e *Engine) ConvertToSRT(result domain.TranscriptionResult) (string, error) {
	return subtitle.ToSRT(result, subtitle.Options{})
}

// ConvertToVTT renders a result through the subtitle formatter.
func (e *Engine) ConvertToVTT(result domain.TranscriptionResult) (string, error) {
	return subtitle.ToVTT(result, subtitle.Options{})
}

// ConvertToPlainText renders a result through the subtitle formatter.
func (e *Engine) ConvertToPlainText(result domain.TranscriptionResult) (string, error) {
	return subtitle.ToTXT(result, subtitle.Options{})
}
