package ports

import (
	"context"

	"github.com/vodscribe/corekit/internal/domain"
)

// MediaPipeline runs analysis, transcode, extraction, and thumbnail work.
type MediaPipeline interface {
	AnalyzeVideo(ctx context.Context, path string) (domain.MediaInfo, domain.MediaErrorKind, error)
	ValidateVideoFile(ctx context.Context, path string) (domain.MediaErrorKind, error)
	ConvertVideo(ctx context.Context, inputPath, outputPath string, opts domain.ConvertOptions) (string, domain.MediaErrorKind, error)
	ExtractAudio(ctx context.Context, inputPath, outputPath string) (string, domain.MediaErrorKind, error)
	GenerateThumbnail(ctx context.Context, inputPath, outputPath string, timeOffsetSeconds float64) (string, domain.MediaErrorKind, error)

	CancelOperation(id string) error
	CancelAllOperations()
	ActiveOperations() []domain.OperationContext
}

// HardwareAccelerator reports available GPUs and codec support, and is
// consulted by the Media Pipeline before requesting hardware-accelerated
// encode/decode.
type HardwareAccelerator interface {
	Available(ctx context.Context) bool
	SupportedCodecs(ctx context.Context) []string
}

// MediaObserver receives Media Pipeline progress events.
type MediaObserver interface {
	Progress(event domain.ProgressEvent)
	Completed(operationID, outputPath string)
	Failed(operationID string, kind domain.MediaErrorKind)
	Cancelled(operationID string)
}
