package stt

import (
	"fmt"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperCppBinding loads ggml/gguf models through the whisper.cpp Go
// bindings. Requires libwhisper at link time.
type WhisperCppBinding struct{}

type whisperHandle struct {
	model whisper.Model
	lang  string
}

// Load opens the model file with the native library.
func (WhisperCppBinding) Load(path string) (ModelHandle, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("stt: native model load: %w", err)
	}
	return &whisperHandle{model: model}, nil
}

func (h *whisperHandle) Transcribe(samples []float32, params InferenceParams, onSegment func(Segment), onProgress func(pct int), abort func() bool) error {
	ctx, err := h.model.NewContext()
	if err != nil {
		return fmt.Errorf("stt: native context: %w", err)
	}

	if params.Language != "" && params.Language != "auto" {
		if err := ctx.SetLanguage(params.Language); err != nil {
			return fmt.Errorf("stt: set language %q: %w", params.Language, err)
		}
	} else if h.model.IsMultilingual() {
		_ = ctx.SetLanguage("auto")
	}
	ctx.SetTranslate(params.Translate)
	if params.Threads > 0 {
		ctx.SetThreads(uint(params.Threads))
	}
	ctx.SetTokenTimestamps(params.TokenTimestamps)
	ctx.SetSplitOnWord(params.SplitOnWord)

	segmentCb := func(seg whisper.Segment) {
		if onSegment == nil {
			return
		}
		out := Segment{
			StartMs: seg.Start.Milliseconds(),
			EndMs:   seg.End.Milliseconds(),
			Text:    seg.Text,
		}
		for _, tok := range seg.Tokens {
			out.Tokens = append(out.Tokens, tok.Text)
			out.TokenProbs = append(out.TokenProbs, float64(tok.P))
		}
		onSegment(out)
	}
	progressCb := func(pct int) {
		if onProgress != nil {
			onProgress(pct)
		}
	}
	encoderBeginCb := func() bool {
		if abort == nil {
			return true
		}
		return !abort()
	}

	if err := ctx.Process(samples, encoderBeginCb, segmentCb, progressCb); err != nil {
		return fmt.Errorf("stt: native inference: %w", err)
	}
	h.lang = ctx.Language()
	return nil
}

func (h *whisperHandle) DetectedLanguage() string {
	return h.lang
}

func (h *whisperHandle) Multilingual() bool {
	return h.model.IsMultilingual()
}

func (h *whisperHandle) Languages() []string {
	return h.model.Languages()
}

func (h *whisperHandle) Close() error {
	return h.model.Close()
}
