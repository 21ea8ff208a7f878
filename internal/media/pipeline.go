// Package media implements the asynchronous media pipeline: analysis,
// transcoding, audio extraction, and thumbnail generation over the external
// encoder, with hardware-acceleration negotiation, bounded concurrency, and
// cooperative cancellation.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
	"github.com/vodscribe/corekit/internal/metrics"
	"github.com/vodscribe/corekit/internal/resource"
)

// Error carries the typed media failure kind alongside the cause.
type Error struct {
	Kind domain.MediaErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind domain.MediaErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Kind extracts the MediaErrorKind from a pipeline error.
func Kind(err error) domain.MediaErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if err == nil {
		return domain.MediaErrNone
	}
	return domain.MediaErrProcessingFailed
}

// Options configures a Pipeline.
type Options struct {
	MaxConcurrentOperations int
	MemoryLimitMB           int64
	TempDir                 string
	HWAccelEnabled          bool
}

// DefaultOptions returns the stock pipeline configuration.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentOperations: 4,
		MemoryLimitMB:           2048,
		TempDir:                 os.TempDir(),
	}
}

type operation struct {
	opCtx  *domain.OperationContext
	cancel context.CancelFunc
}

type noopObserver struct{}

func (noopObserver) Progress(domain.ProgressEvent)        {}
func (noopObserver) Completed(string, string)             {}
func (noopObserver) Failed(string, domain.MediaErrorKind) {}
func (noopObserver) Cancelled(string)                     {}

// Pipeline owns the operations map and the concurrency slots.
type Pipeline struct {
	logger   *slog.Logger
	enc      ports.EncoderWrapper
	hw       ports.HardwareAccelerator
	observer ports.MediaObserver
	opts     Options
	sem      *semaphore.Weighted

	mu  sync.Mutex
	ops map[string]*operation
}

// New builds a Pipeline. hw may be nil when no accelerator is available;
// a nil observer is replaced with a no-op.
func New(logger *slog.Logger, enc ports.EncoderWrapper, hw ports.HardwareAccelerator, observer ports.MediaObserver, opts Options) *Pipeline {
	if opts.MaxConcurrentOperations <= 0 {
		opts.MaxConcurrentOperations = DefaultOptions().MaxConcurrentOperations
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Pipeline{
		logger:   logger,
		enc:      enc,
		hw:       hw,
		observer: observer,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrentOperations)),
		ops:      make(map[string]*operation),
	}
}

// videoExtensions are the containers the pipeline recognizes as video.
var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".avi": {}, ".mov": {}, ".webm": {},
	".flv": {}, ".wmv": {}, ".m4v": {}, ".ts": {}, ".mpg": {}, ".mpeg": {},
}

// ValidateVideoFile checks that the path exists, carries a recognized
// extension, and probes as a video stream.
func (p *Pipeline) ValidateVideoFile(ctx context.Context, path string) (domain.MediaErrorKind, error) {
	fi, err := os.Stat(path)
	if err != nil {
		e := newError(domain.MediaErrInvalidFile, err)
		return e.Kind, e
	}
	if fi.Size() == 0 {
		e := newError(domain.MediaErrInvalidFile, errors.New("empty file"))
		return e.Kind, e
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := videoExtensions[ext]; !ok {
		e := newError(domain.MediaErrUnsupportedFormat, fmt.Errorf("extension %q is not a known video container", ext))
		return e.Kind, e
	}
	probe, err := p.enc.Probe(ctx, path)
	if err != nil {
		e := newError(domain.MediaErrInvalidFile, err)
		return e.Kind, e
	}
	if probe.VideoCodec == "" {
		e := newError(domain.MediaErrUnsupportedFormat, errors.New("no video stream"))
		return e.Kind, e
	}
	return domain.MediaErrNone, nil
}

// AnalyzeVideo probes the file and returns its stream metadata.
func (p *Pipeline) AnalyzeVideo(ctx context.Context, path string) (domain.MediaInfo, domain.MediaErrorKind, error) {
	fi, err := os.Stat(path)
	if err != nil {
		e := newError(domain.MediaErrInvalidFile, err)
		return domain.MediaInfo{}, e.Kind, e
	}
	probe, err := p.enc.Probe(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			e := newError(domain.MediaErrCancelled, ctx.Err())
			return domain.MediaInfo{}, e.Kind, e
		}
		e := newError(domain.MediaErrProcessingFailed, err)
		return domain.MediaInfo{}, e.Kind, e
	}
	return domain.MediaInfo{
		FilePath:        path,
		Format:          probe.Format,
		DurationMs:      probe.DurationMs,
		FileSize:        fi.Size(),
		Width:           probe.Width,
		Height:          probe.Height,
		FrameRate:       probe.FrameRate,
		Codec:           probe.VideoCodec,
		Bitrate:         probe.Bitrate,
		HasAudio:        probe.HasAudio,
		AudioCodec:      probe.AudioCodec,
		AudioChannels:   probe.AudioChannels,
		AudioSampleRate: probe.AudioSampleRate,
	}, domain.MediaErrNone, nil
}

// begin registers an operation, enforcing the slot limit and the memory
// gate. The returned context cancels when CancelOperation fires.
func (p *Pipeline) begin(ctx context.Context, inputPath, outputPath string, settings domain.ConvertOptions) (context.Context, *operation, error) {
	if p.opts.MemoryLimitMB > 0 {
		if rss, err := resource.ProcessRSSBytes(); err != nil {
			p.logger.Warn("memory gate skipped, RSS unavailable", slog.String("error", err.Error()))
		} else if rss > p.opts.MemoryLimitMB*1024*1024 {
			return nil, nil, newError(domain.MediaErrResourceExhausted,
				fmt.Errorf("process RSS %d MiB exceeds the %d MiB pipeline cap", rss>>20, p.opts.MemoryLimitMB))
		}
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, newError(domain.MediaErrCancelled, err)
	}

	opRunCtx, cancel := context.WithCancel(ctx)
	op := &operation{
		opCtx: &domain.OperationContext{
			ID:         uuid.NewString(),
			InputPath:  inputPath,
			OutputPath: outputPath,
			Settings:   settings,
			StartTime:  time.Now(),
		},
		cancel: cancel,
	}
	p.mu.Lock()
	p.ops[op.opCtx.ID] = op
	p.mu.Unlock()
	metrics.ActiveMediaOperations.Inc()
	return opRunCtx, op, nil
}

func (p *Pipeline) finish(op *operation) {
	op.cancel()
	p.mu.Lock()
	delete(p.ops, op.opCtx.ID)
	p.mu.Unlock()
	metrics.ActiveMediaOperations.Dec()
	p.sem.Release(1)
}

// finishWith reports the outcome and removes any partial output on failure
// or cancellation so the target path never holds a half-written file.
func (p *Pipeline) finishWith(op *operation, kindLabel string, err error) error {
	defer p.finish(op)
	id := op.opCtx.ID
	out := op.opCtx.OutputPath

	if err == nil && !op.opCtx.Cancelled() {
		metrics.MediaOperationsTotal.WithLabelValues(kindLabel, "success").Inc()
		p.observer.Completed(id, out)
		return nil
	}

	if out != "" {
		os.Remove(out)
	}
	if op.opCtx.Cancelled() || errors.Is(err, context.Canceled) {
		metrics.MediaOperationsTotal.WithLabelValues(kindLabel, "cancelled").Inc()
		p.observer.Cancelled(id)
		return newError(domain.MediaErrCancelled, err)
	}
	kind := Kind(err)
	if kind == domain.MediaErrNone {
		kind = domain.MediaErrProcessingFailed
	}
	metrics.MediaOperationsTotal.WithLabelValues(kindLabel, "failure").Inc()
	p.observer.Failed(id, kind)
	return newError(kind, err)
}

// ConvertVideo transcodes inputPath into outputPath per opts, preferring
// hardware encode when enabled and available, with automatic software
// fallback when the accelerated run fails to initialize.
func (p *Pipeline) ConvertVideo(ctx context.Context, inputPath, outputPath string, opts domain.ConvertOptions) (string, domain.MediaErrorKind, error) {
	if kind, err := p.ValidateVideoFile(ctx, inputPath); err != nil {
		return "", kind, err
	}
	probe, err := p.enc.Probe(ctx, inputPath)
	if err != nil {
		e := newError(domain.MediaErrInvalidFile, err)
		return "", e.Kind, e
	}

	runCtx, op, err := p.begin(ctx, inputPath, outputPath, opts)
	if err != nil {
		return "", Kind(err), err
	}
	op.opCtx.TotalFrames = estimateFrames(probe)

	useHW := p.opts.HWAccelEnabled && p.hw != nil && p.hw.Available(runCtx)
	args := buildConvertArgs(opts, useHW, p.supportedHWCodecs(runCtx))

	start := time.Now()
	runErr := p.enc.Transcode(runCtx, inputPath, outputPath, args, p.progressFn(op, start))
	if runErr != nil && useHW && runCtx.Err() == nil {
		// Accelerated encoders fail at init on unsupported formats; retry in
		// software before surfacing the failure.
		p.logger.Warn("hardware transcode failed, falling back to software",
			slog.String("operation", op.opCtx.ID), slog.String("error", runErr.Error()))
		args = buildConvertArgs(opts, false, nil)
		runErr = p.enc.Transcode(runCtx, inputPath, outputPath, args, p.progressFn(op, start))
	}
	metrics.MediaEncodeDuration.Observe(time.Since(start).Seconds())

	if err := p.finishWith(op, "convert", runErr); err != nil {
		return "", Kind(err), err
	}
	return outputPath, domain.MediaErrNone, nil
}

// ExtractAudio writes the input's audio track to outputPath. A .wav target
// extracts the transcription contract format (16 kHz/16-bit/mono PCM); any
// other extension copies or re-encodes per the container default.
func (p *Pipeline) ExtractAudio(ctx context.Context, inputPath, outputPath string) (string, domain.MediaErrorKind, error) {
	probe, err := p.enc.Probe(ctx, inputPath)
	if err != nil {
		e := newError(domain.MediaErrInvalidFile, err)
		return "", e.Kind, e
	}
	if !probe.HasAudio {
		e := newError(domain.MediaErrUnsupportedFormat, errors.New("no audio stream"))
		return "", e.Kind, e
	}

	runCtx, op, err := p.begin(ctx, inputPath, outputPath, domain.ConvertOptions{ExtractAudio: true})
	if err != nil {
		return "", Kind(err), err
	}

	var runErr error
	if strings.EqualFold(filepath.Ext(outputPath), ".wav") {
		runErr = p.enc.ToPCMWAV(runCtx, inputPath, outputPath, 16000, 1)
	} else {
		runErr = p.enc.Transcode(runCtx, inputPath, outputPath, []string{"-vn"}, p.progressFn(op, time.Now()))
	}

	if err := p.finishWith(op, "extract_audio", runErr); err != nil {
		return "", Kind(err), err
	}
	return outputPath, domain.MediaErrNone, nil
}

// GenerateThumbnail seeks to timeOffsetSeconds and writes a single frame.
func (p *Pipeline) GenerateThumbnail(ctx context.Context, inputPath, outputPath string, timeOffsetSeconds float64) (string, domain.MediaErrorKind, error) {
	if timeOffsetSeconds < 0 {
		timeOffsetSeconds = 0
	}
	runCtx, op, err := p.begin(ctx, inputPath, outputPath, domain.ConvertOptions{})
	if err != nil {
		return "", Kind(err), err
	}
	runErr := p.enc.Thumbnail(runCtx, inputPath, outputPath, timeOffsetSeconds)
	if err := p.finishWith(op, "thumbnail", runErr); err != nil {
		return "", Kind(err), err
	}
	return outputPath, domain.MediaErrNone, nil
}

// CancelOperation flips the cancelled flag and tears down the encoder run.
func (p *Pipeline) CancelOperation(id string) error {
	p.mu.Lock()
	op, ok := p.ops[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("media: unknown operation %q", id)
	}
	op.opCtx.Cancel()
	op.cancel()
	return nil
}

// CancelAllOperations cancels every tracked operation.
func (p *Pipeline) CancelAllOperations() {
	p.mu.Lock()
	ops := make([]*operation, 0, len(p.ops))
	for _, op := range p.ops {
		ops = append(ops, op)
	}
	p.mu.Unlock()
	for _, op := range ops {
		op.opCtx.Cancel()
		op.cancel()
	}
}

// ActiveOperations snapshots the currently tracked operation contexts.
func (p *Pipeline) ActiveOperations() []domain.OperationContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OperationContext, 0, len(p.ops))
	for _, op := range p.ops {
		out = append(out, *op.opCtx)
	}
	return out
}

func (p *Pipeline) progressFn(op *operation, start time.Time) func(frames int64, fps float64) {
	return func(frames int64, fps float64) {
		elapsed := time.Since(start)
		var remaining time.Duration
		if fps > 0 && op.opCtx.TotalFrames > frames {
			remaining = time.Duration(float64(op.opCtx.TotalFrames-frames)/fps) * time.Second
		}
		p.observer.Progress(domain.ProgressEvent{
			OperationID:        op.opCtx.ID,
			ProcessedFrames:    frames,
			TotalFrames:        op.opCtx.TotalFrames,
			CurrentFPS:         fps,
			Elapsed:            elapsed,
			EstimatedRemaining: remaining,
		})
	}
}

func (p *Pipeline) supportedHWCodecs(ctx context.Context) []string {
	if p.hw == nil {
		return nil
	}
	return p.hw.SupportedCodecs(ctx)
}

func estimateFrames(probe ports.EncoderProbe) int64 {
	if probe.FrameRate <= 0 || probe.DurationMs <= 0 {
		return 0
	}
	return int64(probe.FrameRate * float64(probe.DurationMs) / 1000)
}

// buildConvertArgs assembles the encoder argument list between -i and the
// output path.
func buildConvertArgs(opts domain.ConvertOptions, useHW bool, hwCodecs []string) []string {
	var args []string

	videoCodec := opts.VideoCodec
	if videoCodec == "" {
		videoCodec = "libx264"
	}
	if useHW {
		if hw := hardwareCodecFor(videoCodec, hwCodecs); hw != "" {
			videoCodec = hw
		}
	}
	if opts.PreserveQuality && opts.VideoBitrate == 0 {
		args = append(args, "-c:v", videoCodec, "-crf", "18")
	} else {
		args = append(args, "-c:v", videoCodec)
		if opts.VideoBitrate > 0 {
			args = append(args, "-b:v", strconv.FormatInt(opts.VideoBitrate, 10))
		}
	}

	if opts.MaxWidth > 0 || opts.MaxHeight > 0 {
		w, h := opts.MaxWidth, opts.MaxHeight
		if w == 0 {
			w = -2
		}
		if h == 0 {
			h = -2
		}
		args = append(args, "-vf", fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", w, h))
	}

	audioCodec := opts.AudioCodec
	if audioCodec == "" {
		audioCodec = "aac"
	}
	args = append(args, "-c:a", audioCodec)
	if opts.AudioBitrate > 0 {
		args = append(args, "-b:a", strconv.FormatInt(opts.AudioBitrate, 10))
	}

	for k, v := range opts.CustomOptions {
		args = append(args, k, v)
	}
	return args
}

// hardwareCodecFor maps a software encoder name onto an available
// accelerated equivalent.
func hardwareCodecFor(software string, available []string) string {
	candidates := map[string][]string{
		"libx264": {"h264_nvenc", "h264_vaapi", "h264_qsv", "h264_videotoolbox"},
		"libx265": {"hevc_nvenc", "hevc_vaapi", "hevc_qsv", "hevc_videotoolbox"},
	}
	for _, candidate := range candidates[software] {
		for _, avail := range available {
			if candidate == avail {
				return candidate
			}
		}
	}
	return ""
}
