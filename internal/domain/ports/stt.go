package ports

import (
	"context"

	"github.com/vodscribe/corekit/internal/domain"
)

// WhisperConfig controls one inference call.
type WhisperConfig struct {
	Language              string
	AutoDetectLanguage    bool
	EnableTimestamps      bool
	EnableTokenTimestamps bool
	Temperature           float64
	BeamSize              int
	NThreads              int
	EnableTranslation     bool
	SingleSegment         bool
	NoContext             bool
	SplitOnWord           bool
}

// WhisperResult is the raw inference output from the STT library, before the
// Transcription Engine enriches it into a TranscriptionResult.
type WhisperResult struct {
	Language         string
	DetectedLanguage string
	Segments         []domain.TranscriptionSegment
}

// SpeechRecognizer is the thin safe façade over the native STT library.
// Implementations must serialize concurrent Transcribe/TranscribeFile
// calls internally with a mutex; the native context is not reentrant.
type SpeechRecognizer interface {
	Initialize(ctx context.Context) error
	LoadModel(ctx context.Context, path string) error
	UnloadModel() error
	IsModelLoaded() bool

	Transcribe(ctx context.Context, samples []float32, cfg WhisperConfig, progress func(pct int)) (WhisperResult, domain.WhisperErrorKind, error)
	TranscribeFile(ctx context.Context, path string, cfg WhisperConfig, progress func(pct int)) (WhisperResult, domain.WhisperErrorKind, error)
	DetectLanguage(ctx context.Context, samples []float32) (string, error)

	RequestCancel()

	SupportedLanguages() []string
	ModelInfo() domain.ModelInfo
	MemoryUsageBytes() int64
}

// Resampler converts PCM samples to the STT library's 16 kHz mono float32
// contract. The built-in implementation is linear; callers may substitute a
// higher-quality resampler without changing SpeechRecognizer's contract.
type Resampler interface {
	Resample(samples []float32, fromHz, toHz int) []float32
}
