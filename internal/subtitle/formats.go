package subtitle

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vodscribe/corekit/internal/domain"
)

// ToSRT renders sequential numbered cues separated by blank lines.
func ToSRT(result domain.TranscriptionResult, opts Options) (string, error) {
	if err := Validate(result); err != nil {
		return "", err
	}
	var b strings.Builder
	index := 1
	for _, seg := range nonEmptySegments(result.Segments) {
		text := stripControl(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			index, srtTimestamp(seg.StartTimeMs), srtTimestamp(seg.EndTimeMs), text)
		index++
	}
	return b.String(), nil
}

// ToVTT renders a WEBVTT file with optional position/align cue settings.
func ToVTT(result domain.TranscriptionResult, opts Options) (string, error) {
	if err := Validate(result); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")

	var cueSettings string
	if opts.VTTPosition != "" {
		cueSettings += " position:" + opts.VTTPosition
	}
	if opts.VTTAlign != "" {
		cueSettings += " align:" + opts.VTTAlign
	}

	for _, seg := range nonEmptySegments(result.Segments) {
		text := escapeVTT(stripControl(seg.Text))
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s --> %s%s\n%s\n\n",
			vttTimestamp(seg.StartTimeMs), vttTimestamp(seg.EndTimeMs), cueSettings, text)
	}
	return b.String(), nil
}

func escapeVTT(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

const assHeader = `[Script Info]
Title: Transcription
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,20,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,2,2,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// ToASS renders an Advanced SubStation script.
func ToASS(result domain.TranscriptionResult, opts Options) (string, error) {
	if err := Validate(result); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(assHeader)
	for _, seg := range nonEmptySegments(result.Segments) {
		text := escapeASS(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			assTimestamp(seg.StartTimeMs), assTimestamp(seg.EndTimeMs), text)
	}
	return b.String(), nil
}

func escapeASS(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "{", `\{`)
	s = strings.ReplaceAll(s, "}", `\}`)
	s = strings.ReplaceAll(s, "\r\n", `\N`)
	s = strings.ReplaceAll(s, "\n", `\N`)
	return strings.TrimSpace(s)
}

// ToLRC renders a lyrics file with metadata headers and per-line
// timestamps.
func ToLRC(result domain.TranscriptionResult, opts Options) (string, error) {
	if err := Validate(result); err != nil {
		return "", err
	}
	var b strings.Builder
	if opts.LRCArtist != "" {
		fmt.Fprintf(&b, "[ar:%s]\n", opts.LRCArtist)
	}
	if opts.LRCTitle != "" {
		fmt.Fprintf(&b, "[ti:%s]\n", opts.LRCTitle)
	}
	if opts.LRCAlbum != "" {
		fmt.Fprintf(&b, "[al:%s]\n", opts.LRCAlbum)
	}
	if opts.LRCBy != "" {
		fmt.Fprintf(&b, "[by:%s]\n", opts.LRCBy)
	}
	for _, seg := range nonEmptySegments(result.Segments) {
		text := stripControl(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s]%s\n", lrcTimestamp(seg.StartTimeMs), text)
	}
	return b.String(), nil
}

// ToTXT renders plain text, optionally with a metadata header and
// per-segment timestamp prefixes.
func ToTXT(result domain.TranscriptionResult, opts Options) (string, error) {
	if err := Validate(result); err != nil {
		return "", err
	}
	var b strings.Builder
	if opts.TXTIncludeMetadata {
		fmt.Fprintf(&b, "Language: %s\n", result.Language)
		fmt.Fprintf(&b, "Model: %s\n", result.ModelUsed)
		fmt.Fprintf(&b, "Average confidence: %.2f\n\n", result.AvgConfidence)
	}
	if !opts.TXTIncludeTimestamps {
		b.WriteString(FullText(result))
		b.WriteString("\n")
		return b.String(), nil
	}
	for _, seg := range nonEmptySegments(result.Segments) {
		fmt.Fprintf(&b, "[%s] %s\n", vttTimestamp(seg.StartTimeMs), stripControl(seg.Text))
	}
	return b.String(), nil
}

// jsonPayload is the JSON output shape; FromJSON accepts the same shape.
type jsonPayload struct {
	Language          string            `json:"language"`
	Text              string            `json:"text"`
	Model             string            `json:"model,omitempty"`
	ProcessingTime    int64             `json:"processingTime,omitempty"`
	AverageConfidence float64           `json:"averageConfidence"`
	Segments          []jsonSegment     `json:"segments"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type jsonSegment struct {
	Start      int64    `json:"start"`
	End        int64    `json:"end"`
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Words      []string `json:"words,omitempty"`
}

// ToJSON renders the result as a machine-readable document.
func ToJSON(result domain.TranscriptionResult, opts Options) (string, error) {
	if err := Validate(result); err != nil {
		return "", err
	}
	payload := jsonPayload{
		Language:          result.Language,
		Text:              FullText(result),
		Model:             result.ModelUsed,
		ProcessingTime:    result.ProcessingTimeMs,
		AverageConfidence: result.AvgConfidence,
		Metadata:          result.Metadata,
	}
	for _, seg := range nonEmptySegments(result.Segments) {
		js := jsonSegment{
			Start:      seg.StartTimeMs,
			End:        seg.EndTimeMs,
			Text:       seg.Text,
			Confidence: seg.Confidence,
		}
		if seg.IsWordLevel {
			js.Words = seg.Tokens
		}
		payload.Segments = append(payload.Segments, js)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", newError(domain.FormatErrEncodingFailed, err)
	}
	return string(data), nil
}

// FromJSON parses a document produced by ToJSON back into a result.
func FromJSON(data string) (domain.TranscriptionResult, error) {
	var payload jsonPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return domain.TranscriptionResult{}, newError(domain.FormatErrEncodingFailed, err)
	}
	if len(payload.Segments) == 0 {
		return domain.TranscriptionResult{}, newError(domain.FormatErrEmptyTranscription, errors.New("document has no segments"))
	}
	result := domain.TranscriptionResult{
		Language:         payload.Language,
		FullText:         payload.Text,
		ModelUsed:        payload.Model,
		ProcessingTimeMs: payload.ProcessingTime,
		AvgConfidence:    payload.AverageConfidence,
		Metadata:         payload.Metadata,
	}
	for i, js := range payload.Segments {
		result.Segments = append(result.Segments, domain.TranscriptionSegment{
			ID:          strconv.Itoa(i + 1),
			StartTimeMs: js.Start,
			EndTimeMs:   js.End,
			Text:        js.Text,
			Confidence:  js.Confidence,
			Language:    payload.Language,
			Tokens:      js.Words,
			IsWordLevel: len(js.Words) > 0,
		})
	}
	return result, nil
}

// ToCSV renders one row per segment with RFC 4180 quoting.
func ToCSV(result domain.TranscriptionResult, opts Options) (string, error) {
	if err := Validate(result); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"Start (ms)", "End (ms)", "Duration (ms)", "Text"}
	if opts.CSVIncludeConfidence {
		header = append(header, "Confidence")
	}
	if err := w.Write(header); err != nil {
		return "", newError(domain.FormatErrEncodingFailed, err)
	}
	for _, seg := range nonEmptySegments(result.Segments) {
		row := []string{
			strconv.FormatInt(seg.StartTimeMs, 10),
			strconv.FormatInt(seg.EndTimeMs, 10),
			strconv.FormatInt(seg.DurationMs(), 10),
			stripControl(seg.Text),
		}
		if opts.CSVIncludeConfidence {
			row = append(row, strconv.FormatFloat(seg.Confidence, 'f', 4, 64))
		}
		if err := w.Write(row); err != nil {
			return "", newError(domain.FormatErrEncodingFailed, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", newError(domain.FormatErrEncodingFailed, err)
	}
	return buf.String(), nil
}

// FullText joins segment texts with single spaces, matching the
// whitespace-normalized concatenation the result contract requires.
func FullText(result domain.TranscriptionResult) string {
	if result.FullText != "" {
		return result.FullText
	}
	parts := make([]string, 0, len(result.Segments))
	for _, seg := range nonEmptySegments(result.Segments) {
		parts = append(parts, strings.Join(strings.Fields(seg.Text), " "))
	}
	return strings.Join(parts, " ")
}
