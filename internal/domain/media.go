package domain

import "time"

// MediaInfo is the result of analyzing a video file.
type MediaInfo struct {
	FilePath        string
	Format          string
	DurationMs      int64
	FileSize        int64
	Width           int
	Height          int
	FrameRate       float64
	Codec           string
	Bitrate         int64
	HasAudio        bool
	AudioCodec      string
	AudioChannels   int
	AudioSampleRate int
}

// ConvertOptions parameterizes a convertVideo request.
type ConvertOptions struct {
	OutputFormat    string
	VideoCodec      string
	AudioCodec      string
	VideoBitrate    int64
	AudioBitrate    int64
	MaxWidth        int
	MaxHeight       int
	ExtractAudio    bool
	PreserveQuality bool
	CustomOptions   map[string]string
}

// OperationContext is the Media Pipeline's per-operation tracking record; it
// lives from submission until the operation completes or is cancelled.
type OperationContext struct {
	ID          string
	InputPath   string
	OutputPath  string
	Settings    ConvertOptions
	StartTime   time.Time
	TotalFrames int64
	cancelled   bool
}

// Cancel flips the cancellation flag. Safe to call once a context has
// already completed; callers are expected to guard concurrent access with
// the owning operations-map mutex.
func (c *OperationContext) Cancel() {
	c.cancelled = true
}

// Cancelled reports whether Cancel has been called.
func (c *OperationContext) Cancelled() bool {
	return c.cancelled
}

// ProgressEvent reports Media Pipeline operation progress.
type ProgressEvent struct {
	OperationID        string
	ProcessedFrames    int64
	TotalFrames        int64
	CurrentFPS         float64
	Elapsed            time.Duration
	EstimatedRemaining time.Duration
}
