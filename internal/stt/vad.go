package stt

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// VADOptions configures voice activity detection.
type VADOptions struct {
	// ActivationThreshold is the speech probability (ONNX path) or
	// normalized energy (fallback path) above which a window counts as
	// speech.
	ActivationThreshold float64
	// WindowSamples is the analysis window size; 512 samples at 16 kHz.
	WindowSamples int
	// PaddingWindows keeps this many windows of context on each side of a
	// detected speech region.
	PaddingWindows int
}

// DefaultVADOptions matches the Silero defaults at 16 kHz.
func DefaultVADOptions() VADOptions {
	return VADOptions{
		ActivationThreshold: 0.5,
		WindowSamples:       512,
		PaddingWindows:      4,
	}
}

// VAD trims silence from audio before inference. With an ONNX model file it
// runs a Silero-style session; without one it falls back to a normalized
// energy detector so callers never hard-depend on the model asset.
type VAD struct {
	opts    VADOptions
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	state   []float32
}

// NewVAD builds a VAD. modelPath may be empty; the energy fallback is used
// until a model is supplied.
func NewVAD(modelPath string, opts VADOptions) (*VAD, error) {
	if opts.WindowSamples <= 0 {
		opts.WindowSamples = DefaultVADOptions().WindowSamples
	}
	if opts.ActivationThreshold <= 0 {
		opts.ActivationThreshold = DefaultVADOptions().ActivationThreshold
	}

	v := &VAD{opts: opts}
	if modelPath == "" {
		return v, nil
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("stt: onnx environment: %w", err)
		}
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("stt: vad session: %w", err)
	}
	v.session = session
	v.state = make([]float32, 2*1*128)
	return v, nil
}

// Close releases the ONNX session if one was created.
func (v *VAD) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != nil {
		if err := v.session.Destroy(); err != nil {
			return err
		}
		v.session = nil
	}
	return nil
}

// TrimSilence returns the sample range covering detected speech, padded by
// PaddingWindows on both sides. All-silence input returns an empty slice.
func (v *VAD) TrimSilence(samples []float32) []float32 {
	window := v.opts.WindowSamples
	if len(samples) < window {
		return samples
	}

	nWindows := len(samples) / window
	firstSpeech, lastSpeech := -1, -1
	for i := 0; i < nWindows; i++ {
		chunk := samples[i*window : (i+1)*window]
		if v.isSpeech(chunk) {
			if firstSpeech < 0 {
				firstSpeech = i
			}
			lastSpeech = i
		}
	}
	if firstSpeech < 0 {
		return nil
	}

	start := (firstSpeech - v.opts.PaddingWindows) * window
	if start < 0 {
		start = 0
	}
	end := (lastSpeech + 1 + v.opts.PaddingWindows) * window
	if end > len(samples) {
		end = len(samples)
	}
	return samples[start:end]
}

func (v *VAD) isSpeech(chunk []float32) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != nil {
		if p, err := v.inferProbability(chunk); err == nil {
			return p >= float32(v.opts.ActivationThreshold)
		}
		// Session errors degrade to the energy path rather than failing the
		// whole transcription.
	}
	return energyOf(chunk) >= v.opts.ActivationThreshold*0.02
}

func (v *VAD) inferProbability(chunk []float32) (float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(chunk))), chunk)
	if err != nil {
		return 0, err
	}
	defer inputTensor.Destroy()
	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), v.state)
	if err != nil {
		return 0, err
	}
	defer stateTensor.Destroy()
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{SampleRate})
	if err != nil {
		return 0, err
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	err = v.session.Run([]ort.Value{inputTensor, stateTensor, srTensor}, outputs)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	prob, ok := outputs[0].(*ort.Tensor[float32])
	if !ok || len(prob.GetData()) == 0 {
		return 0, fmt.Errorf("stt: unexpected vad output")
	}
	if next, ok := outputs[1].(*ort.Tensor[float32]); ok {
		copy(v.state, next.GetData())
	}
	return prob.GetData()[0], nil
}

func energyOf(chunk []float32) float64 {
	var sum float64
	for _, s := range chunk {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	if len(chunk) == 0 {
		return 0
	}
	return sum / float64(len(chunk))
}
