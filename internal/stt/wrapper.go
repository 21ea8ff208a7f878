// Package stt is the safe façade over the native speech recognition
// library: model load/unload, synchronous inference with progress and
// cancellation, audio conversion to the library's 16 kHz mono float
// contract, and language detection.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
)

// MinModelFileBytes rejects obviously truncated model files.
const MinModelFileBytes = 1 << 20

// languageDetectWindow caps how much audio feeds language detection.
const languageDetectWindow = 30 * time.Second

// Error carries the typed recognizer failure kind alongside the cause.
type Error struct {
	Kind domain.WhisperErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind domain.WhisperErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Kind extracts the WhisperErrorKind from a wrapper error.
func Kind(err error) domain.WhisperErrorKind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	if err == nil {
		return domain.WhisperErrNone
	}
	return domain.WhisperErrInferenceFailed
}

// Wrapper implements ports.SpeechRecognizer over a Binding. The native
// context is not reentrant; inferMu serializes every inference.
type Wrapper struct {
	logger    *slog.Logger
	binding   Binding
	resampler Resampler
	converter ports.EncoderWrapper
	tempDir   string

	inferMu sync.Mutex

	stateMu     sync.Mutex
	initialized bool
	handle      ModelHandle
	modelPath   string
	modelSize   int64
	loadedAt    time.Time

	cancelled atomic.Bool
}

// NewWrapper builds a Wrapper. converter handles non-PCM inputs; a nil
// resampler falls back to the linear implementation.
func NewWrapper(logger *slog.Logger, binding Binding, converter ports.EncoderWrapper, resampler Resampler, tempDir string) *Wrapper {
	if resampler == nil {
		resampler = LinearResampler{}
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Wrapper{
		logger:    logger,
		binding:   binding,
		resampler: resampler,
		converter: converter,
		tempDir:   tempDir,
	}
}

// Initialize prepares the wrapper. The native library initializes lazily on
// first model load; this only validates construction.
func (w *Wrapper) Initialize(ctx context.Context) error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.binding == nil {
		return newError(domain.WhisperErrInitializationFailed, errors.New("no native binding"))
	}
	w.initialized = true
	return nil
}

// LoadModel loads the model file, unloading any previous model first. Files
// smaller than 1 MiB are rejected as invalid.
func (w *Wrapper) LoadModel(ctx context.Context, path string) error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if !w.initialized {
		return newError(domain.WhisperErrInitializationFailed, errors.New("wrapper not initialized"))
	}

	fi, err := os.Stat(path)
	if err != nil {
		return newError(domain.WhisperErrModelLoadFailed, err)
	}
	if fi.Size() < MinModelFileBytes {
		return newError(domain.WhisperErrInvalidModel,
			fmt.Errorf("model file %s is %d bytes, below the %d byte minimum", path, fi.Size(), int64(MinModelFileBytes)))
	}

	if w.handle != nil {
		if err := w.handle.Close(); err != nil {
			w.logger.Warn("previous model close failed", slog.String("error", err.Error()))
		}
		w.handle = nil
	}

	handle, err := w.binding.Load(path)
	if err != nil {
		return newError(domain.WhisperErrModelLoadFailed, err)
	}
	w.handle = handle
	w.modelPath = path
	w.modelSize = fi.Size()
	w.loadedAt = time.Now()
	w.logger.Info("model loaded",
		slog.String("path", path),
		slog.Int64("sizeBytes", fi.Size()),
		slog.Bool("multilingual", handle.Multilingual()),
	)
	return nil
}

// UnloadModel releases the native model.
func (w *Wrapper) UnloadModel() error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.handle == nil {
		return nil
	}
	err := w.handle.Close()
	w.handle = nil
	w.modelPath = ""
	w.modelSize = 0
	return err
}

// IsModelLoaded reports whether a model is currently resident.
func (w *Wrapper) IsModelLoaded() bool {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.handle != nil
}

// RequestCancel aborts the in-flight inference at the next poll point.
func (w *Wrapper) RequestCancel() {
	w.cancelled.Store(true)
}

func (w *Wrapper) currentHandle() (ModelHandle, error) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.handle == nil {
		return nil, newError(domain.WhisperErrInvalidInput, errors.New("no model loaded"))
	}
	return w.handle, nil
}

// Transcribe runs inference over normalized 16 kHz mono samples. Callers
// serialize through the internal mutex; progress percentages are
// deduplicated before reaching the callback.
func (w *Wrapper) Transcribe(ctx context.Context, samples []float32, cfg ports.WhisperConfig, progress func(pct int)) (ports.WhisperResult, domain.WhisperErrorKind, error) {
	if len(samples) == 0 {
		err := newError(domain.WhisperErrInvalidInput, errors.New("empty sample buffer"))
		return ports.WhisperResult{}, err.Kind, err
	}
	if float64(len(samples))/SampleRate < 0.1 {
		w.logger.Warn("audio shorter than 100ms, result may be empty",
			slog.Int("samples", len(samples)))
	}

	handle, err := w.currentHandle()
	if err != nil {
		return ports.WhisperResult{}, Kind(err), err
	}

	w.inferMu.Lock()
	defer w.inferMu.Unlock()
	w.cancelled.Store(false)

	params := InferenceParams{
		Language:        cfg.Language,
		Translate:       cfg.EnableTranslation,
		Threads:         cfg.NThreads,
		TokenTimestamps: cfg.EnableTokenTimestamps,
		SplitOnWord:     cfg.SplitOnWord,
		SingleSegment:   cfg.SingleSegment,
		NoContext:       cfg.NoContext,
		Temperature:     cfg.Temperature,
		BeamSize:        cfg.BeamSize,
	}
	if cfg.AutoDetectLanguage {
		params.Language = "auto"
	}

	var segments []domain.TranscriptionSegment
	lastPct := -1
	onProgress := func(pct int) {
		if pct == lastPct || progress == nil {
			return
		}
		lastPct = pct
		progress(pct)
	}
	onSegment := func(seg Segment) {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			return
		}
		segments = append(segments, domain.TranscriptionSegment{
			ID:          uuid.NewString(),
			StartTimeMs: seg.StartMs,
			EndTimeMs:   seg.EndMs,
			Text:        text,
			Confidence:  meanProb(seg.TokenProbs),
			Tokens:      seg.Tokens,
			TokenProbs:  seg.TokenProbs,
			IsWordLevel: cfg.EnableTokenTimestamps,
		})
	}
	abort := func() bool {
		return w.cancelled.Load() || ctx.Err() != nil
	}

	if err := handle.Transcribe(samples, params, onSegment, onProgress, abort); err != nil {
		return ports.WhisperResult{}, domain.WhisperErrInferenceFailed, newError(domain.WhisperErrInferenceFailed, err)
	}
	if w.cancelled.Load() || ctx.Err() != nil {
		err := newError(domain.WhisperErrCancelled, context.Canceled)
		return ports.WhisperResult{}, err.Kind, err
	}

	detected := handle.DetectedLanguage()
	lang := cfg.Language
	if lang == "" || lang == "auto" {
		lang = detected
	}
	for i := range segments {
		segments[i].Language = lang
	}

	return ports.WhisperResult{
		Language:         lang,
		DetectedLanguage: detected,
		Segments:         segments,
	}, domain.WhisperErrNone, nil
}

// TranscribeFile loads path (converting through the external encoder when
// it is not already a 16-bit PCM WAV) and transcribes it.
func (w *Wrapper) TranscribeFile(ctx context.Context, path string, cfg ports.WhisperConfig, progress func(pct int)) (ports.WhisperResult, domain.WhisperErrorKind, error) {
	samples, err := w.LoadAudio(ctx, path)
	if err != nil {
		return ports.WhisperResult{}, Kind(err), err
	}
	return w.Transcribe(ctx, samples, cfg, progress)
}

// LoadAudio reads any supported media file into normalized 16 kHz mono
// samples. Non-PCM and non-WAV inputs are converted by the external
// encoder into a temporary WAV that is removed before returning.
func (w *Wrapper) LoadAudio(ctx context.Context, path string) ([]float32, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, newError(domain.WhisperErrInvalidInput, err)
	}

	samples, err := func() ([]float32, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if _, err := parseWAVHeader(f); err != nil {
			return nil, err
		}
		return loadPCM16WAV(path, w.resampler)
	}()
	if err == nil {
		return samples, nil
	}
	if !errors.Is(err, errNotPCM16WAV) {
		return nil, newError(domain.WhisperErrAudioProcessingFailed, err)
	}

	if w.converter == nil {
		return nil, newError(domain.WhisperErrUnsupportedFeature,
			errors.New("no converter available for non-PCM input"))
	}
	tmp := filepath.Join(w.tempDir, "stt-"+uuid.NewString()+".wav")
	defer os.Remove(tmp)
	if err := w.converter.ToPCMWAV(ctx, path, tmp, SampleRate, 1); err != nil {
		return nil, newError(domain.WhisperErrAudioProcessingFailed, err)
	}
	samples, err = loadPCM16WAV(tmp, w.resampler)
	if err != nil {
		return nil, newError(domain.WhisperErrAudioProcessingFailed, err)
	}
	return samples, nil
}

// DetectLanguage runs detection over at most the first 30 seconds of audio.
func (w *Wrapper) DetectLanguage(ctx context.Context, samples []float32) (string, error) {
	maxSamples := int(languageDetectWindow.Seconds()) * SampleRate
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	result, _, err := w.Transcribe(ctx, samples, ports.WhisperConfig{
		AutoDetectLanguage: true,
		SingleSegment:      true,
	}, nil)
	if err != nil {
		return "", err
	}
	return result.DetectedLanguage, nil
}

// SupportedLanguages lists the languages the loaded model accepts.
func (w *Wrapper) SupportedLanguages() []string {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.handle == nil {
		return nil
	}
	return w.handle.Languages()
}

// ModelInfo describes the currently loaded model file.
func (w *Wrapper) ModelInfo() domain.ModelInfo {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.handle == nil {
		return domain.ModelInfo{}
	}
	return domain.ModelInfo{
		ID:           filepath.Base(w.modelPath),
		Name:         filepath.Base(w.modelPath),
		Status:       domain.ModelStatusLoaded,
		FilePath:     w.modelPath,
		FileSize:     w.modelSize,
		LastUsed:     w.loadedAt,
		Multilingual: w.handle.Multilingual(),
	}
}

// MemoryUsageBytes estimates resident native memory from the model file
// size.
func (w *Wrapper) MemoryUsageBytes() int64 {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.handle == nil {
		return 0
	}
	return w.modelSize
}

func meanProb(probs []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	return sum / float64(len(probs))
}
