package subtitle

import (
	"strings"

	"github.com/vodscribe/corekit/internal/domain"
)

// MergeSegments merges adjacent segments when the inter-segment gap is at
// most maxGapMs and the combined duration stays within maxLengthMs. Merged
// confidence is the arithmetic mean of the constituents.
func MergeSegments(segments []domain.TranscriptionSegment, maxGapMs, maxLengthMs int64) []domain.TranscriptionSegment {
	segments = nonEmptySegments(segments)
	if len(segments) == 0 {
		return nil
	}

	out := make([]domain.TranscriptionSegment, 0, len(segments))
	current := segments[0]
	confidences := []float64{current.Confidence}

	for _, next := range segments[1:] {
		gap := next.StartTimeMs - current.EndTimeMs
		combined := next.EndTimeMs - current.StartTimeMs
		if gap <= maxGapMs && combined <= maxLengthMs {
			current.EndTimeMs = next.EndTimeMs
			current.Text = strings.TrimSpace(current.Text) + " " + strings.TrimSpace(next.Text)
			current.Tokens = append(current.Tokens, next.Tokens...)
			current.TokenProbs = append(current.TokenProbs, next.TokenProbs...)
			confidences = append(confidences, next.Confidence)
			continue
		}
		current.Confidence = mean(confidences)
		out = append(out, current)
		current = next
		confidences = []float64{next.Confidence}
	}
	current.Confidence = mean(confidences)
	out = append(out, current)
	return out
}

// SplitLongSegments splits segments exceeding maxLengthMs. With onWords the
// text partitions into word groups proportional to each part's share of the
// duration; otherwise the time range splits evenly and each part repeats
// the full text window boundaries.
func SplitLongSegments(segments []domain.TranscriptionSegment, maxLengthMs int64, onWords bool) []domain.TranscriptionSegment {
	if maxLengthMs <= 0 {
		return segments
	}
	var out []domain.TranscriptionSegment
	for _, seg := range segments {
		duration := seg.DurationMs()
		if duration <= maxLengthMs {
			out = append(out, seg)
			continue
		}
		parts := int((duration + maxLengthMs - 1) / maxLengthMs)
		if onWords {
			out = append(out, splitOnWords(seg, parts)...)
		} else {
			out = append(out, splitEvenly(seg, parts)...)
		}
	}
	return out
}

func splitEvenly(seg domain.TranscriptionSegment, parts int) []domain.TranscriptionSegment {
	duration := seg.DurationMs()
	out := make([]domain.TranscriptionSegment, 0, parts)
	for i := 0; i < parts; i++ {
		cp := seg
		cp.StartTimeMs = seg.StartTimeMs + duration*int64(i)/int64(parts)
		cp.EndTimeMs = seg.StartTimeMs + duration*int64(i+1)/int64(parts)
		out = append(out, cp)
	}
	return out
}

func splitOnWords(seg domain.TranscriptionSegment, parts int) []domain.TranscriptionSegment {
	words := strings.Fields(seg.Text)
	if len(words) < parts {
		parts = len(words)
	}
	if parts <= 1 {
		return []domain.TranscriptionSegment{seg}
	}
	duration := seg.DurationMs()
	out := make([]domain.TranscriptionSegment, 0, parts)
	for i := 0; i < parts; i++ {
		lo := len(words) * i / parts
		hi := len(words) * (i + 1) / parts
		cp := seg
		cp.Text = strings.Join(words[lo:hi], " ")
		cp.StartTimeMs = seg.StartTimeMs + duration*int64(i)/int64(parts)
		cp.EndTimeMs = seg.StartTimeMs + duration*int64(i+1)/int64(parts)
		cp.Tokens = nil
		cp.TokenProbs = nil
		out = append(out, cp)
	}
	return out
}

// PostProcessOptions tunes PostProcessText.
type PostProcessOptions struct {
	Capitalize        bool
	RemoveFillers     bool
	EnsurePunctuation bool
}

var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "er": {}, "ah": {}, "like": {},
}

// PostProcessText collapses whitespace and optionally capitalizes sentence
// starts, strips filler words, and guarantees terminal punctuation.
func PostProcessText(text string, opts PostProcessOptions) string {
	words := strings.Fields(text)

	if opts.RemoveFillers {
		kept := words[:0]
		for i := 0; i < len(words); i++ {
			w := strings.ToLower(strings.Trim(words[i], ",."))
			// "you know" is the one two-word filler.
			if w == "you" && i+1 < len(words) {
				next := strings.ToLower(strings.Trim(words[i+1], ",."))
				if next == "know" {
					i++
					continue
				}
			}
			if _, filler := fillerWords[w]; filler {
				continue
			}
			kept = append(kept, words[i])
		}
		words = kept
	}

	out := strings.Join(words, " ")
	if out == "" {
		return out
	}

	if opts.Capitalize {
		out = capitalizeSentences(out)
	}
	if opts.EnsurePunctuation && !strings.ContainsAny(out[len(out)-1:], ".!?") {
		out += "."
	}
	return out
}

func capitalizeSentences(s string) string {
	runes := []rune(s)
	capitalizeNext := true
	for i, r := range runes {
		if capitalizeNext && isLetter(r) {
			runes[i] = toUpper(r)
			capitalizeNext = false
			continue
		}
		if r == '.' || r == '!' || r == '?' {
			capitalizeNext = true
		}
	}
	return string(runes)
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
