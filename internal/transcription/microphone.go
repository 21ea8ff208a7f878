package transcription

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/stt"
)

const micFramesPerBuffer = 1024

var (
	paInitOnce sync.Once
	paInitErr  error
)

func initPortAudio() error {
	paInitOnce.Do(func() {
		paInitErr = portaudio.Initialize()
	})
	return paInitErr
}

type micCapture struct {
	stream *portaudio.Stream
	cancel context.CancelFunc
}

// StartMicrophoneTranscription opens the system default input device at
// 16 kHz/16-bit/mono and routes captured samples through FeedAudioData on a
// fresh realtime session.
func (e *Engine) StartMicrophoneTranscription(ctx context.Context, settings domain.TranscriptionSettings) (string, error) {
	if err := initPortAudio(); err != nil {
		return "", newError(domain.TranscriptionErrAudioProcessingFailed,
			fmt.Errorf("audio subsystem init: %w", err))
	}

	sessionID, err := e.sessions.start(ctx, settings, true)
	if err != nil {
		return "", err
	}

	buffer := make([]int16, micFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(stt.SampleRate), micFramesPerBuffer, buffer)
	if err != nil {
		_ = e.sessions.stop(sessionID)
		return "", newError(domain.TranscriptionErrAudioProcessingFailed,
			fmt.Errorf("open input device: %w", err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = e.sessions.stop(sessionID)
		return "", newError(domain.TranscriptionErrAudioProcessingFailed,
			fmt.Errorf("start input stream: %w", err))
	}

	captureCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.sessions.setCapture(sessionID, &micCapture{stream: stream, cancel: cancel})

	go e.captureLoop(captureCtx, sessionID, stream, buffer)
	return sessionID, nil
}

func (e *Engine) captureLoop(ctx context.Context, sessionID string, stream *portaudio.Stream, buffer []int16) {
	pcm := make([]byte, len(buffer)*2)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := stream.Read(); err != nil {
			// Overflows are routine on busy hosts; anything else ends capture.
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			e.logger.Warn("microphone read failed",
				slog.String("session", sessionID), slog.String("error", err.Error()))
			return
		}
		for i, s := range buffer {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
		}
		if err := e.FeedAudioData(sessionID, pcm); err != nil {
			return
		}
	}
}

// StopMicrophoneTranscription closes the input stream and stops the
// session.
func (e *Engine) StopMicrophoneTranscription(sessionID string) error {
	capture := e.sessions.takeCapture(sessionID)
	if capture != nil {
		capture.cancel()
		if err := capture.stream.Stop(); err != nil {
			e.logger.Warn("microphone stop failed", slog.String("error", err.Error()))
		}
		capture.stream.Close()
	}
	return e.sessions.stop(sessionID)
}

func (s *sessionSet) setCapture(id string, c *micCapture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.mu.Lock()
		sess.capture = c
		sess.mu.Unlock()
	}
}

func (s *sessionSet) takeCapture(id string) *micCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	c := sess.capture
	sess.capture = nil
	return c
}
