// Package voice defines the speech capture and synthesis surfaces for
// VITA-Care and the restart policy around a continuous recognizer.
//
// Recognition and synthesis engines are platform capabilities supplied by
// the embedder; this package only manages their lifecycle.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Transcript is one recognition result. Interim results carry Final=false
// and may be revised by later transcripts.
type Transcript struct {
	Text  string
	Final bool
}

// Recognizer streams transcripts from a speech source. Listen blocks until
// the recognizer ends on its own or the context is cancelled; continuous
// engines that cut out early return nil and rely on the capture session to
// restart them.
type Recognizer interface {
	Listen(ctx context.Context, transcripts chan<- Transcript) error
}

// Synthesizer renders assistant text as speech.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Capture session configuration constants
const (
	// DefaultMaxRestarts bounds how often a session revives a recognizer
	// that keeps ending before the session is closed.
	DefaultMaxRestarts = 5
	// DefaultRestartDelay spaces restart attempts.
	DefaultRestartDelay = 250 * time.Millisecond
	// transcriptBufferSize buffers transcripts between the recognizer and
	// the handler.
	transcriptBufferSize = 16
)

// ErrRestartLimitExceeded indicates the recognizer ended more times than the
// session allows.
var ErrRestartLimitExceeded = errors.New("speech recognizer restart limit exceeded")

// TranscriptHandler receives each transcript as it arrives.
type TranscriptHandler func(Transcript)

// CaptureSession runs a recognizer continuously, restarting it a bounded
// number of times when it ends before the session does. The restart budget
// counts consecutive dead starts only; any delivered transcript resets it.
type CaptureSession struct {
	recognizer   Recognizer
	handler      TranscriptHandler
	maxRestarts  int
	restartDelay time.Duration
	delivered    atomic.Uint64
}

// CaptureOption configures a CaptureSession.
type CaptureOption func(*CaptureSession)

// WithMaxRestarts overrides the restart budget.
func WithMaxRestarts(n int) CaptureOption {
	return func(s *CaptureSession) { s.maxRestarts = n }
}

// WithRestartDelay overrides the pause between restart attempts.
func WithRestartDelay(d time.Duration) CaptureOption {
	return func(s *CaptureSession) { s.restartDelay = d }
}

// NewCaptureSession creates a session that feeds transcripts from the
// recognizer into the handler.
func NewCaptureSession(recognizer Recognizer, handler TranscriptHandler, opts ...CaptureOption) *CaptureSession {
	s := &CaptureSession{
		recognizer:   recognizer,
		handler:      handler,
		maxRestarts:  DefaultMaxRestarts,
		restartDelay: DefaultRestartDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the recognizer until the context is cancelled, reviving it up
// to the restart budget when it ends early. Returns nil on context
// cancellation and ErrRestartLimitExceeded when the budget runs out.
func (s *CaptureSession) Run(ctx context.Context) error {
	transcripts := make(chan Transcript, transcriptBufferSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for t := range transcripts {
			s.delivered.Add(1)
			s.handler(t)
		}
	}()
	defer func() {
		close(transcripts)
		<-done
	}()

	restarts := 0
	for {
		seen := s.delivered.Load()
		err := s.recognizer.Listen(ctx, transcripts)
		if ctx.Err() != nil {
			slog.Debug("CaptureSession stopping due to context cancellation")
			return nil
		}
		if s.delivered.Load() > seen {
			restarts = 0
		}
		if err != nil {
			slog.Warn("CaptureSession recognizer ended with error", "error", err, "restarts", restarts)
		} else {
			slog.Debug("CaptureSession recognizer ended, restarting", "restarts", restarts)
		}

		restarts++
		if restarts > s.maxRestarts {
			slog.Error("CaptureSession giving up after repeated recognizer failures", "restarts", restarts-1)
			return ErrRestartLimitExceeded
		}

		select {
		case <-time.After(s.restartDelay):
		case <-ctx.Done():
			return nil
		}
	}
}
