package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/metrics"
	"github.com/vodscribe/corekit/internal/stt"
)

// Realtime emission thresholds: a segment goes out once five seconds of
// audio accumulate, or once five seconds have passed since the last
// emission and at least one second is buffered.
const (
	realtimeTick       = 500 * time.Millisecond
	emitAudioThreshold = 5 * time.Second
	emitTimeThreshold  = 5 * time.Second
	emitMinAudio       = 1 * time.Second
	bytesPerSecondPCM  = stt.SampleRate * stt.BytesPerSample
)

type rtSession struct {
	mu     sync.Mutex
	state  domain.RealtimeSession
	cancel context.CancelFunc
	// processedBytes counts every byte ever handed to inference, surviving
	// buffer overflow resets; it anchors emitted segment timestamps.
	processedBytes int64
	lastEmit       time.Time
	lastSegStartMs int64
	capture        *micCapture
}

type sessionSet struct {
	engine *Engine

	mu       sync.Mutex
	sessions map[string]*rtSession
}

func newSessionSet(engine *Engine) *sessionSet {
	return &sessionSet{engine: engine, sessions: make(map[string]*rtSession)}
}

// StartRealtimeTranscription opens a streaming session and starts its
// scheduler tick.
func (e *Engine) StartRealtimeTranscription(ctx context.Context, settings domain.TranscriptionSettings) (string, error) {
	return e.sessions.start(ctx, settings, false)
}

func (s *sessionSet) start(ctx context.Context, settings domain.TranscriptionSettings, microphone bool) (string, error) {
	if !s.engine.recognizer.IsModelLoaded() {
		return "", newError(domain.TranscriptionErrModelNotLoaded, errors.New("no model loaded"))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &rtSession{
		state: domain.RealtimeSession{
			ID:                  uuid.NewString(),
			Settings:            settings,
			SegmentStartTime:    time.Now(),
			IsActive:            true,
			IsMicrophoneSession: microphone,
		},
		cancel:   cancel,
		lastEmit: time.Now(),
	}

	s.mu.Lock()
	s.sessions[sess.state.ID] = sess
	metrics.RealtimeSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	go s.run(loopCtx, sess)
	return sess.state.ID, nil
}

func (s *sessionSet) get(id string) (*rtSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, newError(domain.TranscriptionErrSessionNotFound, fmt.Errorf("no session %q", id))
	}
	return sess, nil
}

// FeedAudioData appends raw 16-bit little-endian PCM to the session buffer.
// Fed byte counts must be sample aligned.
func (e *Engine) FeedAudioData(sessionID string, pcm []byte) error {
	sess, err := e.sessions.get(sessionID)
	if err != nil {
		return err
	}
	if len(pcm)%2 != 0 {
		return newError(domain.TranscriptionErrInvalidFile,
			fmt.Errorf("PCM chunk of %d bytes is not sample aligned", len(pcm)))
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.state.IsActive {
		return newError(domain.TranscriptionErrSessionNotFound, errors.New("session stopped"))
	}
	sess.state.Append(pcm)
	sess.state.CurrentVolume = stt.MeanAbsVolume(pcm)
	metrics.RealtimeBufferBytes.Set(float64(len(sess.state.AudioBuffer)))
	return nil
}

// VolumeLevel reports the last fed chunk's mean level, in [0, 1].
func (e *Engine) VolumeLevel(sessionID string) (float64, error) {
	sess, err := e.sessions.get(sessionID)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state.CurrentVolume, nil
}

// StopRealtimeTranscription halts a session. Any remaining buffered audio
// is flushed through one final emission; no events follow the stop.
func (e *Engine) StopRealtimeTranscription(sessionID string) error {
	return e.sessions.stop(sessionID)
}

func (s *sessionSet) stop(id string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}

	// Final flush before the scheduler dies.
	s.emit(sess, true)

	sess.mu.Lock()
	sess.state.IsActive = false
	sess.mu.Unlock()
	sess.cancel()

	s.mu.Lock()
	delete(s.sessions, id)
	metrics.RealtimeSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()
	return nil
}

func (s *sessionSet) run(ctx context.Context, sess *rtSession) {
	ticker := time.NewTicker(realtimeTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emit(sess, false)
		}
	}
}

// emit decides whether enough audio has accumulated and, if so, runs
// inference on the unprocessed suffix and publishes the segments with
// stream-relative timestamps.
func (s *sessionSet) emit(sess *rtSession, flush bool) {
	sess.mu.Lock()
	if !sess.state.IsActive {
		sess.mu.Unlock()
		return
	}
	unprocessed := len(sess.state.AudioBuffer) - sess.state.LastProcessedOffset
	if unprocessed <= 0 {
		sess.mu.Unlock()
		return
	}
	audioDur := time.Duration(unprocessed/bytesPerSecondPCM) * time.Second
	sinceLast := time.Since(sess.lastEmit)
	if !flush {
		ready := audioDur >= emitAudioThreshold ||
			(sinceLast >= emitTimeThreshold && audioDur >= emitMinAudio)
		if !ready {
			sess.mu.Unlock()
			return
		}
	}

	chunk := make([]byte, unprocessed)
	copy(chunk, sess.state.AudioBuffer[sess.state.LastProcessedOffset:])
	offsetMs := sess.processedBytes * 1000 / bytesPerSecondPCM
	sess.state.LastProcessedOffset = len(sess.state.AudioBuffer)
	sess.processedBytes += int64(unprocessed)
	sess.lastEmit = time.Now()
	settings := sess.state.Settings
	id := sess.state.ID
	sess.mu.Unlock()

	samples := stt.BytesToSamples(chunk)
	cfg := whisperConfig(settings)
	cfg.SingleSegment = false
	cfg.NoContext = true

	s.engine.inferMu.Lock()
	raw, _, err := s.engine.recognizer.Transcribe(context.Background(), samples, cfg, nil)
	s.engine.inferMu.Unlock()
	if err != nil {
		s.engine.logger.Warn("realtime inference failed",
			slog.String("session", id), slog.String("error", err.Error()))
		return
	}

	sess.mu.Lock()
	lastStart := sess.lastSegStartMs
	sess.mu.Unlock()

	for _, seg := range raw.Segments {
		seg.StartTimeMs += offsetMs
		seg.EndTimeMs += offsetMs
		// Emission order is non-decreasing by start time across the session.
		if seg.StartTimeMs < lastStart {
			seg.StartTimeMs = lastStart
		}
		if seg.EndTimeMs <= seg.StartTimeMs {
			seg.EndTimeMs = seg.StartTimeMs + 1
		}
		lastStart = seg.StartTimeMs
		s.engine.observer.SegmentEmitted(id, seg)
	}

	sess.mu.Lock()
	sess.lastSegStartMs = lastStart
	sess.mu.Unlock()
}
