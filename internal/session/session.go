// Package session holds the per-meeting state shared by the pipeline: the
// transcript log, the feedback guard and the teardown order.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/meeting-copilot/internal/feedback"
	"github.com/snarg/meeting-copilot/internal/transcript"
)

// Options configures a Session.
type Options struct {
	TranscriptPath string
	// ResetTranscript truncates the log when the session starts and ends.
	ResetTranscript bool
	Feedback        feedback.Options
	Log             zerolog.Logger
}

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Session is constructed once in main and passed to whatever needs it.
type Session struct {
	ID         string
	StartedAt  time.Time
	Transcript *transcript.Store
	Guard      *feedback.Guard

	reset bool
	log   zerolog.Logger

	mu    sync.Mutex
	hooks []hook
	ended bool
}

// New opens the transcript store and creates the guard.
func New(opts Options) (*Session, error) {
	store, err := transcript.NewStore(opts.TranscriptPath)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	if opts.ResetTranscript {
		if err := store.Reset(); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	log := opts.Log.With().Str("session", id).Logger()
	fo := opts.Feedback
	fo.Log = log.With().Str("component", "feedback").Logger()

	s := &Session{
		ID:         id,
		StartedAt:  time.Now().UTC(),
		Transcript: store,
		Guard:      feedback.NewGuard(fo),
		reset:      opts.ResetTranscript,
		log:        log,
	}
	s.log.Info().
		Str("transcript", store.Path()).
		Bool("reset", opts.ResetTranscript).
		Msg("session started")
	return s, nil
}

// OnEnd registers a cleanup step. Steps run in reverse registration order.
func (s *Session) OnEnd(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
	s.mu.Unlock()
}

// SetSpeaking forwards speech state to the guard. It has the signature of
// speech.Player.OnStateChange callbacks.
func (s *Session) SetSpeaking(playing bool) { s.Guard.SetSpeaking(playing) }

// End runs the cleanup steps and, if configured, truncates the transcript.
// Every step runs even if an earlier one fails. Later calls are no-ops.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	hooks := s.hooks
	s.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			s.log.Warn().Err(err).Str("step", h.name).Msg("session cleanup step failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		s.log.Debug().Str("step", h.name).Dur("elapsed", time.Since(start)).Msg("session cleanup step done")
	}

	if s.reset {
		if err := s.Transcript.Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Info().Dur("duration", time.Since(s.StartedAt)).Msg("session ended")
	return errors.Join(errs...)
}
