package ports

import (
	"context"

	"github.com/vodscribe/corekit/internal/domain"
)

// TranscriptionEngine is the user-facing transcription orchestrator.
type TranscriptionEngine interface {
	TranscribeAudio(ctx context.Context, path string, settings domain.TranscriptionSettings) (domain.TranscriptionResult, domain.TranscriptionErrorKind, error)
	TranscribeFromVideo(ctx context.Context, path string, settings domain.TranscriptionSettings) (domain.TranscriptionResult, domain.TranscriptionErrorKind, error)
	DetectLanguage(ctx context.Context, path string) (string, error)

	StartRealtimeTranscription(ctx context.Context, settings domain.TranscriptionSettings) (sessionID string, err error)
	FeedAudioData(sessionID string, pcm []byte) error
	StopRealtimeTranscription(sessionID string) error

	StartMicrophoneTranscription(ctx context.Context, settings domain.TranscriptionSettings) (sessionID string, err error)
	StopMicrophoneTranscription(sessionID string) error

	CancelTranscription(id string) error
	CancelAllTranscriptions()

	ConvertToSRT(result domain.TranscriptionResult) (string, error)
	ConvertToVTT(result domain.TranscriptionResult) (string, error)
	ConvertToPlainText(result domain.TranscriptionResult) (string, error)

	Stats() domain.PerformanceStats
}

// TranscriptionObserver receives the progress/completion/failure events the
// Transcription Engine emits per task and per realtime session.
type TranscriptionObserver interface {
	Progress(taskID string, pct int)
	Completed(taskID string, result domain.TranscriptionResult)
	Failed(taskID string, kind domain.TranscriptionErrorKind)
	SegmentEmitted(sessionID string, segment domain.TranscriptionSegment)
}
