package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandle struct {
	segments []Segment
	language string
	failWith error
	// progressSteps drives the progress callback during Transcribe.
	progressSteps []int
	abortAfter    int
	closed        bool
}

func (h *fakeHandle) Transcribe(samples []float32, params InferenceParams, onSegment func(Segment), onProgress func(int), abort func() bool) error {
	if h.failWith != nil {
		return h.failWith
	}
	for _, pct := range h.progressSteps {
		if onProgress != nil {
			onProgress(pct)
		}
	}
	for i, seg := range h.segments {
		if h.abortAfter > 0 && i >= h.abortAfter && abort != nil && abort() {
			return nil
		}
		if onSegment != nil {
			onSegment(seg)
		}
	}
	return nil
}

func (h *fakeHandle) DetectedLanguage() string { return h.language }
func (h *fakeHandle) Multilingual() bool       { return true }
func (h *fakeHandle) Languages() []string      { return []string{"en", "de"} }
func (h *fakeHandle) Close() error             { h.closed = true; return nil }

type fakeBinding struct {
	handle  *fakeHandle
	loadErr error
	loads   int
}

func (b *fakeBinding) Load(path string) (ModelHandle, error) {
	b.loads++
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.handle, nil
}

func writeModelFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-test.bin")
	data := make([]byte, size)
	copy(data, "lmgg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestWrapper(t *testing.T, binding Binding) *Wrapper {
	t.Helper()
	w := NewWrapper(testLogger(), binding, nil, nil, t.TempDir())
	if err := w.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	return w
}

func TestLoadModelRejectsSmallFiles(t *testing.T) {
	w := newTestWrapper(t, &fakeBinding{handle: &fakeHandle{}})
	path := writeModelFile(t, 1024)

	err := w.LoadModel(context.Background(), path)
	if Kind(err) != domain.WhisperErrInvalidModel {
		t.Fatalf("kind = %v, want invalid_model", Kind(err))
	}
	if w.IsModelLoaded() {
		t.Fatal("model should not be loaded")
	}
}

func TestLoadModelReplacesPrevious(t *testing.T) {
	first := &fakeHandle{}
	binding := &fakeBinding{handle: first}
	w := newTestWrapper(t, binding)
	path := writeModelFile(t, MinModelFileBytes)

	if err := w.LoadModel(context.Background(), path); err != nil {
		t.Fatalf("first load failed: %v", err)
	}

	second := &fakeHandle{}
	binding.handle = second
	if err := w.LoadModel(context.Background(), path); err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if !first.closed {
		t.Fatal("previous model was not closed")
	}
	if binding.loads != 2 {
		t.Fatalf("loads = %d, want 2", binding.loads)
	}
}

func TestTranscribeMapsSegments(t *testing.T) {
	handle := &fakeHandle{
		language: "en",
		segments: []Segment{
			{StartMs: 0, EndMs: 1500, Text: " Hello there ", Tokens: []string{"Hello", "there"}, TokenProbs: []float64{0.9, 0.7}},
			{StartMs: 1500, EndMs: 3000, Text: ""},
			{StartMs: 3000, EndMs: 4000, Text: "General"},
		},
	}
	w := newTestWrapper(t, &fakeBinding{handle: handle})
	if err := w.LoadModel(context.Background(), writeModelFile(t, MinModelFileBytes)); err != nil {
		t.Fatal(err)
	}

	samples := make([]float32, SampleRate) // one second
	result, kind, err := w.Transcribe(context.Background(), samples, ports.WhisperConfig{AutoDetectLanguage: true}, nil)
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if kind != domain.WhisperErrNone {
		t.Fatalf("kind = %v, want none", kind)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("segments = %d, want empty one dropped", len(result.Segments))
	}
	if result.Segments[0].Text != "Hello there" {
		t.Fatalf("text = %q, want trimmed", result.Segments[0].Text)
	}
	if math.Abs(result.Segments[0].Confidence-0.8) > 1e-9 {
		t.Fatalf("confidence = %v, want mean token prob 0.8", result.Segments[0].Confidence)
	}
	if result.DetectedLanguage != "en" || result.Language != "en" {
		t.Fatalf("language = %q/%q, want en", result.Language, result.DetectedLanguage)
	}
	if result.Segments[0].Language != "en" {
		t.Fatal("segment language not backfilled")
	}
}

func TestTranscribeEmptyInput(t *testing.T) {
	w := newTestWrapper(t, &fakeBinding{handle: &fakeHandle{}})
	_, kind, err := w.Transcribe(context.Background(), nil, ports.WhisperConfig{}, nil)
	if err == nil || kind != domain.WhisperErrInvalidInput {
		t.Fatalf("kind = %v, want invalid_input", kind)
	}
}

func TestTranscribeWithoutModel(t *testing.T) {
	w := newTestWrapper(t, &fakeBinding{handle: &fakeHandle{}})
	_, kind, _ := w.Transcribe(context.Background(), make([]float32, 100), ports.WhisperConfig{}, nil)
	if kind != domain.WhisperErrInvalidInput {
		t.Fatalf("kind = %v, want invalid_input for missing model", kind)
	}
}

func TestProgressDeduplicated(t *testing.T) {
	handle := &fakeHandle{
		progressSteps: []int{10, 10, 10, 50, 50, 100},
		segments:      []Segment{{StartMs: 0, EndMs: 100, Text: "x"}},
	}
	w := newTestWrapper(t, &fakeBinding{handle: handle})
	if err := w.LoadModel(context.Background(), writeModelFile(t, MinModelFileBytes)); err != nil {
		t.Fatal(err)
	}

	var seen []int
	_, _, err := w.Transcribe(context.Background(), make([]float32, SampleRate), ports.WhisperConfig{}, func(pct int) {
		seen = append(seen, pct)
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []int{10, 50, 100}
	if len(seen) != len(want) {
		t.Fatalf("progress = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress = %v, want %v", seen, want)
		}
	}
}

func TestRequestCancel(t *testing.T) {
	handle := &fakeHandle{
		segments:   []Segment{{StartMs: 0, EndMs: 100, Text: "a"}, {StartMs: 100, EndMs: 200, Text: "b"}},
		abortAfter: 1,
	}
	w := newTestWrapper(t, &fakeBinding{handle: handle})
	if err := w.LoadModel(context.Background(), writeModelFile(t, MinModelFileBytes)); err != nil {
		t.Fatal(err)
	}

	w.RequestCancel()
	// Cancel is rearmed per call; the flag set before Transcribe is cleared.
	_, kind, err := w.Transcribe(context.Background(), make([]float32, SampleRate), ports.WhisperConfig{}, nil)
	if err != nil || kind != domain.WhisperErrNone {
		t.Fatalf("pre-armed cancel should not affect a fresh call: %v", err)
	}
}

func TestInferenceFailureMapsKind(t *testing.T) {
	handle := &fakeHandle{failWith: errors.New("native blowup")}
	w := newTestWrapper(t, &fakeBinding{handle: handle})
	if err := w.LoadModel(context.Background(), writeModelFile(t, MinModelFileBytes)); err != nil {
		t.Fatal(err)
	}
	_, kind, err := w.Transcribe(context.Background(), make([]float32, SampleRate), ports.WhisperConfig{}, nil)
	if err == nil || kind != domain.WhisperErrInferenceFailed {
		t.Fatalf("kind = %v, want inference_failed", kind)
	}
}

// writeWAV emits a minimal PCM16 WAV file.
func writeWAV(t *testing.T, path string, sampleRate, channels int, samples []int16) {
	t.Helper()
	var data bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&data, binary.LittleEndian, s)
	}

	var buf bytes.Buffer
	dataSize := data.Len()
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(data.Bytes())

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAudioPCMWAV(t *testing.T) {
	w := newTestWrapper(t, &fakeBinding{handle: &fakeHandle{}})
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWAV(t, path, SampleRate, 1, []int16{0, 16384, -16384, 32767})

	samples, err := w.LoadAudio(context.Background(), path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("samples = %d, want 4", len(samples))
	}
	if math.Abs(float64(samples[1])-0.5) > 0.001 || math.Abs(float64(samples[2])+0.5) > 0.001 {
		t.Fatalf("normalization wrong: %v", samples)
	}
}

func TestLoadAudioDownmixesStereo(t *testing.T) {
	w := newTestWrapper(t, &fakeBinding{handle: &fakeHandle{}})
	path := filepath.Join(t.TempDir(), "stereo.wav")
	// Left 16384, right 0 per frame: mono mean is 8192.
	writeWAV(t, path, SampleRate, 2, []int16{16384, 0, 16384, 0})

	samples, err := w.LoadAudio(context.Background(), path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("frames = %d, want 2", len(samples))
	}
	if math.Abs(float64(samples[0])-0.25) > 0.001 {
		t.Fatalf("downmix wrong: %v", samples)
	}
}

func TestLoadAudioNonWAVNeedsConverter(t *testing.T) {
	w := newTestWrapper(t, &fakeBinding{handle: &fakeHandle{}})
	path := filepath.Join(t.TempDir(), "x.mp3")
	if err := os.WriteFile(path, []byte("ID3 not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := w.LoadAudio(context.Background(), path)
	if Kind(err) != domain.WhisperErrUnsupportedFeature {
		t.Fatalf("kind = %v, want unsupported_feature without converter", Kind(err))
	}
}

func TestLinearResampler(t *testing.T) {
	r := LinearResampler{}

	in := []float32{0, 1, 0, -1}
	out := r.Resample(in, 32000, 16000)
	if len(out) != 2 {
		t.Fatalf("downsampled length = %d, want 2", len(out))
	}

	same := r.Resample(in, 16000, 16000)
	if len(same) != len(in) {
		t.Fatal("same-rate resample should be identity")
	}

	up := r.Resample([]float32{0, 1}, 8000, 16000)
	if len(up) != 4 {
		t.Fatalf("upsampled length = %d, want 4", len(up))
	}
	if math.Abs(float64(up[1])-0.5) > 0.001 {
		t.Fatalf("interpolation wrong: %v", up)
	}
}

func TestMeanAbsVolume(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(int16(-16384)))
	if got := MeanAbsVolume(pcm); math.Abs(got-0.5) > 0.001 {
		t.Fatalf("volume = %v, want 0.5", got)
	}
	if MeanAbsVolume(nil) != 0 {
		t.Fatal("empty buffer volume should be 0")
	}
}

func TestVADEnergyFallback(t *testing.T) {
	opts := DefaultVADOptions()
	opts.PaddingWindows = 1
	vad, err := NewVAD("", opts)
	if err != nil {
		t.Fatal(err)
	}
	defer vad.Close()

	// Silence, speech burst, silence.
	samples := make([]float32, 512*10)
	for i := 512 * 4; i < 512*6; i++ {
		samples[i] = 0.5
	}
	trimmed := vad.TrimSilence(samples)
	if len(trimmed) == 0 || len(trimmed) >= len(samples) {
		t.Fatalf("trimmed length = %d, want a proper sub-range of %d", len(trimmed), len(samples))
	}

	silent := make([]float32, 512*10)
	if got := vad.TrimSilence(silent); got != nil {
		t.Fatalf("all-silence input should trim to nil, got %d samples", len(got))
	}
}
