// Package encoder wraps the external media encoder subprocesses (ffmpeg and
// ffprobe): metadata probing, PCM WAV extraction, transcoding with progress
// parsing, and thumbnail capture.
package encoder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vodscribe/corekit/internal/domain/ports"
)

const defaultProbeTimeout = 30 * time.Second

// FFmpeg shells out to ffmpeg/ffprobe binaries. Terminate kills every
// subprocess it has started and not yet reaped.
type FFmpeg struct {
	ffmpegBin  string
	ffprobeBin string

	mu      sync.Mutex
	running map[*exec.Cmd]struct{}
}

// New builds an FFmpeg wrapper; empty binary paths fall back to ffmpeg and
// ffprobe on PATH.
func New(ffmpegBin, ffprobeBin string) *FFmpeg {
	if strings.TrimSpace(ffmpegBin) == "" {
		ffmpegBin = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBin) == "" {
		ffprobeBin = "ffprobe"
	}
	return &FFmpeg{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		running:    make(map[*exec.Cmd]struct{}),
	}
}

func (f *FFmpeg) track(cmd *exec.Cmd) {
	f.mu.Lock()
	f.running[cmd] = struct{}{}
	f.mu.Unlock()
}

func (f *FFmpeg) untrack(cmd *exec.Cmd) {
	f.mu.Lock()
	delete(f.running, cmd)
	f.mu.Unlock()
}

// Terminate kills every in-flight subprocess.
func (f *FFmpeg) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for cmd := range f.running {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Kill(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Channels     int    `json:"channels"`
	SampleRate   string `json:"sample_rate"`
	DurationSecs string `json:"duration"`
}

type probeFormat struct {
	FormatName   string `json:"format_name"`
	DurationSecs string `json:"duration"`
	BitRate      string `json:"bit_rate"`
}

// Probe runs ffprobe and reduces the stream/format JSON into an
// EncoderProbe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (ports.EncoderProbe, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ports.EncoderProbe{}, errors.New("encoder: file path is required")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.ffprobeBin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	f.track(cmd)
	runErr := cmd.Run()
	f.untrack(cmd)

	var payload probePayload
	parseErr := json.Unmarshal(stdout.Bytes(), &payload)
	if parseErr != nil || len(payload.Streams) == 0 {
		if runErr != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return ports.EncoderProbe{}, fmt.Errorf("encoder: ffprobe failed: %w", runErr)
			}
			return ports.EncoderProbe{}, fmt.Errorf("encoder: ffprobe failed: %w: %s", runErr, msg)
		}
		if parseErr != nil {
			return ports.EncoderProbe{}, fmt.Errorf("encoder: ffprobe output parse failed: %w", parseErr)
		}
		return ports.EncoderProbe{}, errors.New("encoder: no streams found")
	}

	probe := ports.EncoderProbe{Format: payload.Format.FormatName}
	probe.DurationMs = int64(parseFloat(payload.Format.DurationSecs) * 1000)
	probe.Bitrate = int64(parseFloat(payload.Format.BitRate))

	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			if probe.VideoCodec != "" {
				continue
			}
			probe.VideoCodec = stream.CodecName
			probe.Width = stream.Width
			probe.Height = stream.Height
			probe.FrameRate = parseFrameRate(stream.AvgFrameRate)
			if probe.FrameRate == 0 {
				probe.FrameRate = parseFrameRate(stream.RFrameRate)
			}
			if probe.DurationMs == 0 {
				probe.DurationMs = int64(parseFloat(stream.DurationSecs) * 1000)
			}
		case "audio":
			if probe.HasAudio {
				continue
			}
			probe.HasAudio = true
			probe.AudioCodec = stream.CodecName
			probe.AudioChannels = stream.Channels
			probe.AudioSampleRate = int(parseFloat(stream.SampleRate))
		}
	}
	return probe, nil
}

// ToPCMWAV converts any supported container into a PCM WAV at the requested
// sample rate and channel count (signed 16-bit little-endian).
func (f *FFmpeg) ToPCMWAV(ctx context.Context, inputPath, outputPath string, sampleRateHz, channels int) error {
	if sampleRateHz <= 0 {
		sampleRateHz = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRateHz),
		"-ac", strconv.Itoa(channels),
		"-f", "wav",
		outputPath,
	}
	return f.run(ctx, args)
}

// Thumbnail seeks to timeOffsetSeconds and writes a single frame.
func (f *FFmpeg) Thumbnail(ctx context.Context, inputPath, outputPath string, timeOffsetSeconds float64) error {
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(timeOffsetSeconds, 'f', 3, 64),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	}
	return f.run(ctx, args)
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.track(cmd)
	err := cmd.Run()
	f.untrack(cmd)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("encoder: ffmpeg failed: %w: %s", err, tail(msg, 512))
		}
		return fmt.Errorf("encoder: ffmpeg failed: %w", err)
	}
	return nil
}

// Transcode runs ffmpeg with caller-supplied arguments between input and
// output, parsing -progress output for frame/fps updates.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string, args []string, onProgress func(processedFrames int64, fps float64)) error {
	full := []string{"-y", "-i", inputPath}
	full = append(full, args...)
	full = append(full, "-progress", "pipe:1", "-nostats", outputPath)

	cmd := exec.CommandContext(ctx, f.ffmpegBin, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("encoder: stdout pipe: %w", err)
	}

	f.track(cmd)
	defer f.untrack(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("encoder: ffmpeg start: %w", err)
	}

	go consumeProgress(stdout, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("encoder: ffmpeg failed: %w: %s", err, tail(msg, 512))
		}
		return fmt.Errorf("encoder: ffmpeg failed: %w", err)
	}
	return nil
}

// consumeProgress parses ffmpeg's key=value -progress stream.
func consumeProgress(r io.Reader, onProgress func(frames int64, fps float64)) {
	var frames int64
	var fps float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch key {
		case "frame":
			frames, _ = strconv.ParseInt(value, 10, 64)
		case "fps":
			fps = parseFloat(value)
		case "progress":
			if onProgress != nil {
				onProgress(frames, fps)
			}
		}
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseFrameRate parses ffprobe's "num/den" rational frame rates.
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
