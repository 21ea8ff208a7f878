package domain

import "time"

// TranscriptionSegment is a single time-bounded unit of recognized speech.
// Immutable once created.
type TranscriptionSegment struct {
	ID          string
	StartTimeMs int64
	EndTimeMs   int64
	Text        string
	Confidence  float64
	Language    string
	IsWordLevel bool
	Tokens      []string
	TokenProbs  []float64
	Metadata    map[string]string
}

// DurationMs returns the segment's length in milliseconds.
func (s TranscriptionSegment) DurationMs() int64 {
	return s.EndTimeMs - s.StartTimeMs
}

// TranscriptionResult is the richer, caller-facing output the Transcription
// Engine builds from a WhisperResult.
type TranscriptionResult struct {
	Language         string
	DetectedLanguage string
	Segments         []TranscriptionSegment
	FullText         string
	AvgConfidence    float64
	ProcessingTimeMs int64
	ModelUsed        string
	ProcessedAt      time.Time
	Metadata         map[string]string
}

// OutputFormat is the subtitle/text format a caller may request directly
// from the Transcription Engine's convenience wrappers.
type OutputFormat string

const (
	OutputFormatJSON OutputFormat = "json"
	OutputFormatSRT  OutputFormat = "srt"
	OutputFormatVTT  OutputFormat = "vtt"
	OutputFormatTXT  OutputFormat = "txt"
)

// TranscriptionSettings configures one transcription request end to end.
type TranscriptionSettings struct {
	Language             string
	ModelSize            ModelType
	EnableTimestamps     bool
	EnableWordConfidence bool
	EnableVAD            bool
	SilenceThreshold     float64
	MaxSegmentLength     int64
	EnableDiarization    bool
	EnablePunctuation    bool
	EnableCapitalization bool
	OutputFormat         OutputFormat
	BeamSize             int
	Temperature          float64
	EnableGPU            bool
}

// RealtimeSession tracks one streaming transcription session's bounded FIFO
// and emission bookkeeping.
type RealtimeSession struct {
	ID                  string
	Settings            TranscriptionSettings
	AudioBuffer         []byte
	LastProcessedOffset int
	SegmentStartTime    time.Time
	CurrentVolume       float64
	IsActive            bool
	IsMicrophoneSession bool
}

// MaxRealtimeBufferBytes is the default bounded FIFO capacity for a
// RealtimeSession (32 MiB).
const MaxRealtimeBufferBytes = 32 * 1024 * 1024

// Append adds incoming PCM bytes to the session buffer, applying the
// overflow drop policy: if the combined length would exceed the cap, the
// whole buffer is cleared and LastProcessedOffset reset to zero rather than
// trimming the oldest bytes piecemeal.
func (s *RealtimeSession) Append(data []byte) {
	if len(s.AudioBuffer)+len(data) > MaxRealtimeBufferBytes {
		s.AudioBuffer = s.AudioBuffer[:0]
		s.LastProcessedOffset = 0
	}
	s.AudioBuffer = append(s.AudioBuffer, data...)
}

// PerformanceStats aggregates the Transcription Engine's running totals.
type PerformanceStats struct {
	TotalTranscriptions   int64
	TotalProcessingTimeMs int64
	TotalAudioDurationMs  int64
	AverageRealTimeFactor float64
}

// Observe folds one completed transcription's timing into the running
// cumulative average RTF.
func (p *PerformanceStats) Observe(processingTimeMs, audioDurationMs int64) {
	p.TotalTranscriptions++
	p.TotalProcessingTimeMs += processingTimeMs
	p.TotalAudioDurationMs += audioDurationMs
	if audioDurationMs <= 0 {
		return
	}
	rtf := float64(processingTimeMs) / float64(audioDurationMs)
	n := float64(p.TotalTranscriptions)
	p.AverageRealTimeFactor += (rtf - p.AverageRealTimeFactor) / n
}
