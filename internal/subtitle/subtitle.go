// Package subtitle converts transcription results into subtitle and text
// payloads (SRT, VTT, ASS, LRC, TXT, JSON, CSV) and provides the segment
// transformations (merge, split, text post-processing) shared by every
// output format.
package subtitle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vodscribe/corekit/internal/domain"
)

// maxTimestampMs rejects timestamps beyond 24 hours.
const maxTimestampMs = 24 * 3600 * 1000

// Error carries the typed formatting failure kind alongside the cause.
type Error struct {
	Kind domain.FormatErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind domain.FormatErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Kind extracts the FormatErrorKind from a formatter error.
func Kind(err error) domain.FormatErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if err == nil {
		return domain.FormatErrNone
	}
	return domain.FormatErrEncodingFailed
}

// Options tunes formatting output. The zero value is valid for every
// format.
type Options struct {
	// VTT cue settings rendered after the timestamp line when non-empty.
	VTTPosition string
	VTTAlign    string

	// TXT settings.
	TXTIncludeTimestamps bool
	TXTIncludeMetadata   bool

	// CSV settings.
	CSVIncludeConfidence bool

	// LRC metadata headers.
	LRCArtist string
	LRCTitle  string
	LRCAlbum  string
	LRCBy     string
}

// Validate rejects results the formatters cannot express: no usable text,
// negative or out-of-range timestamps, or segments ending before they
// start.
func Validate(result domain.TranscriptionResult) error {
	if len(nonEmptySegments(result.Segments)) == 0 {
		return newError(domain.FormatErrEmptyTranscription, errors.New("no segments with text"))
	}
	for _, seg := range result.Segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		if seg.StartTimeMs < 0 || seg.EndTimeMs > maxTimestampMs {
			return newError(domain.FormatErrInvalidTimestamp,
				fmt.Errorf("segment %s outside [0, 24h]", seg.ID))
		}
		if seg.EndTimeMs < seg.StartTimeMs {
			return newError(domain.FormatErrInvalidTimestamp,
				fmt.Errorf("segment %s ends before it starts", seg.ID))
		}
	}
	return nil
}

func nonEmptySegments(segments []domain.TranscriptionSegment) []domain.TranscriptionSegment {
	out := make([]domain.TranscriptionSegment, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) != "" {
			out = append(out, seg)
		}
	}
	return out
}

// stripControl removes control characters that break line-oriented subtitle
// formats, keeping plain spaces.
func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(' ')
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
