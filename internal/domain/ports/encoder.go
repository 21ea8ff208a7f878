package ports

import "context"

// EncoderProbe is the metadata the external media encoder subprocess reports
// for a file.
type EncoderProbe struct {
	DurationMs      int64
	Format          string
	Width           int
	Height          int
	FrameRate       float64
	VideoCodec      string
	HasAudio        bool
	AudioCodec      string
	AudioChannels   int
	AudioSampleRate int
	Bitrate         int64
}

// EncoderWrapper is the external media encoder collaborator:
// accepts media, emits standardized WAV plus metadata, and performs
// transcode/thumbnail work on the Media Pipeline's behalf.
type EncoderWrapper interface {
	Probe(ctx context.Context, path string) (EncoderProbe, error)
	ToPCMWAV(ctx context.Context, inputPath, outputPath string, sampleRateHz, channels int) error
	Transcode(ctx context.Context, inputPath, outputPath string, args []string, onProgress func(processedFrames int64, fps float64)) error
	Thumbnail(ctx context.Context, inputPath, outputPath string, timeOffsetSeconds float64) error
	Terminate() error
}
