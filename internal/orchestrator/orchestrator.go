// Package orchestrator runs one finalized utterance through feedback
// suppression, classification, retrieval, generation, persistence and speech.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/meeting-copilot/internal/archive"
	"github.com/snarg/meeting-copilot/internal/classify"
	"github.com/snarg/meeting-copilot/internal/feedback"
	"github.com/snarg/meeting-copilot/internal/llm"
	"github.com/snarg/meeting-copilot/internal/metrics"
	"github.com/snarg/meeting-copilot/internal/retrieval"
	"github.com/snarg/meeting-copilot/internal/transcript"
)

var (
	// ErrNotFinal is returned for interim utterances, which are never processed.
	ErrNotFinal = errors.New("utterance is not final")
	// ErrGeneration wraps a failed answer generation.
	ErrGeneration = errors.New("generation failed")
	// ErrPersist wraps a failed archive write.
	ErrPersist = errors.New("persist failed")
)

// Event kinds passed to the Publisher.
const (
	EventAnalysis   = "analysis"
	EventSuppressed = "suppressed"
)

// Gate decides whether an utterance is the system's own speech.
type Gate interface {
	Check(text string) feedback.Reason
	StoreResponse(text string)
}

// Classifier labels an utterance. It never fails.
type Classifier interface {
	Classify(ctx context.Context, text string) classify.Type
}

// Retriever fetches background passages. It never fails; failures come back
// as a degraded, empty result.
type Retriever interface {
	Retrieve(ctx context.Context, query string) retrieval.Result
}

// Generator produces the answer text.
type Generator interface {
	Complete(ctx context.Context, messages []llm.Message, p llm.SamplingParams) (string, error)
}

// Archiver persists results.
type Archiver interface {
	Save(ctx context.Context, rec archive.Record) (string, error)
}

// Speaker voices a response. onStart must be called when the audio begins
// rendering; a speaker that plays synchronously calls it before returning.
type Speaker interface {
	Say(ctx context.Context, text string, onStart func()) error
}

// Publisher receives pipeline events for live subscribers.
type Publisher interface {
	Publish(kind string, payload any)
}

// Deps are the collaborators of an Orchestrator. Speaker and Publisher may be nil.
type Deps struct {
	Gate       Gate
	Classifier Classifier
	Retriever  Retriever
	Generator  Generator
	Archive    Archiver
	Speaker    Speaker
	Publisher  Publisher
}

// Options configures an Orchestrator.
type Options struct {
	SpeakResponses    bool
	GenerationTimeout time.Duration
	Prompts           Prompts
	Log               zerolog.Logger
}

// Outcome is the result of one orchestration.
type Outcome struct {
	State    State              `json:"state"`
	Stage    State              `json:"stage"` // last stage entered
	Type     classify.Type      `json:"conversation_type,omitempty"`
	Record   *archive.Record    `json:"record,omitempty"`
	Sources  []retrieval.Source `json:"sources,omitempty"`
	Reason   feedback.Reason    `json:"reason,omitempty"`
	Degraded bool               `json:"retrieval_degraded,omitempty"`
	Spoken   bool               `json:"spoken"`
}

// SuppressedEvent is published when an utterance is dropped as self-speech.
type SuppressedEvent struct {
	Timestamp string          `json:"timestamp"`
	Text      string          `json:"text"`
	Reason    feedback.Reason `json:"reason"`
}

// Orchestrator runs the per-utterance state machine. Process may be called
// from many goroutines.
type Orchestrator struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 60 * time.Second
	}
	if opts.Prompts.TechnicalSystem == "" && opts.Prompts.CasualSystem == "" {
		opts.Prompts = DefaultPrompts()
	}
	return &Orchestrator{
		deps: deps,
		opts: opts,
		log:  opts.Log.With().Str("component", "orchestrator").Logger(),
	}
}

// Process runs u through the pipeline.
func (o *Orchestrator) Process(ctx context.Context, u transcript.Utterance) (Outcome, error) {
	return o.ProcessWithContext(ctx, u, nil)
}

// ProcessWithContext runs u through the pipeline with caller-supplied
// background context. A non-nil background skips retrieval.
func (o *Orchestrator) ProcessWithContext(ctx context.Context, u transcript.Utterance, background *string) (Outcome, error) {
	o.wg.Add(1)
	o.inFlight.Add(1)
	defer func() {
		o.inFlight.Add(-1)
		o.wg.Done()
	}()

	run := &run{o: o, log: o.log.With().Str("utterance_ts", u.Timestamp).Logger()}
	out, err := run.execute(ctx, u, background)

	metrics.OrchestrationsTotal.WithLabelValues(out.State.String(), out.Stage.String()).Inc()
	return out, err
}

// InFlight returns the number of orchestrations currently running.
func (o *Orchestrator) InFlight() int { return int(o.inFlight.Load()) }

// Wait blocks until every running orchestration finishes or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d orchestrations still running: %w", o.InFlight(), ctx.Err())
	}
}

type run struct {
	o     *Orchestrator
	log   zerolog.Logger
	out   Outcome
	start time.Time
}

func (r *run) enter(s State) {
	now := time.Now()
	if !r.start.IsZero() {
		metrics.StageDuration.WithLabelValues(r.out.Stage.String()).Observe(now.Sub(r.start).Seconds())
	}
	r.out.Stage = s
	r.start = now
}

func (r *run) abort(err error) (Outcome, error) {
	r.enter(r.out.Stage) // close the timing of the failed stage
	r.out.State = Aborted
	return r.out, err
}

func (r *run) execute(ctx context.Context, u transcript.Utterance, background *string) (Outcome, error) {
	o := r.o
	r.out.State = Received
	r.enter(Received)

	if !u.IsFinal() {
		return r.abort(ErrNotFinal)
	}
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return r.abort(transcript.ErrEmptyText)
	}

	r.enter(FeedbackCheck)
	if reason := o.deps.Gate.Check(text); reason != feedback.ReasonNone {
		r.out.Reason = reason
		metrics.FeedbackSuppressedTotal.WithLabelValues(string(reason)).Inc()
		r.log.Info().Str("reason", string(reason)).Str("text", text).Msg("utterance suppressed as self-speech")
		o.publish(EventSuppressed, SuppressedEvent{Timestamp: u.Timestamp, Text: text, Reason: reason})
		return r.abort(nil)
	}

	r.enter(Classify)
	r.out.Type = o.deps.Classifier.Classify(ctx, text)
	metrics.ClassificationsTotal.WithLabelValues(string(r.out.Type)).Inc()

	if r.out.Type == classify.Technical && background == nil {
		r.enter(Retrieve)
		res := o.deps.Retriever.Retrieve(ctx, text)
		r.out.Sources = res.Sources
		r.out.Degraded = res.Degraded
		if res.Context != "" {
			background = &res.Context
		}
	}

	r.enter(Generate)
	genCtx, cancel := context.WithTimeout(ctx, o.opts.GenerationTimeout)
	answer, err := o.deps.Generator.Complete(genCtx,
		o.opts.Prompts.Messages(r.out.Type, text, background),
		o.opts.Prompts.Sampling(r.out.Type))
	cancel()
	if err != nil {
		r.log.Error().Err(err).Str("type", string(r.out.Type)).Msg("generation failed")
		return r.abort(fmt.Errorf("%w: %w", ErrGeneration, err))
	}

	r.enter(Persist)
	rec := archive.Record{
		Transcript:       text,
		Context:          background,
		Analysis:         answer,
		ConversationType: r.out.Type,
	}
	id, err := o.deps.Archive.Save(ctx, rec)
	if err != nil {
		r.log.Error().Err(err).Msg("persist failed, response will not be spoken")
		return r.abort(fmt.Errorf("%w: %w", ErrPersist, err))
	}
	rec.ID = id
	r.out.Record = &rec
	o.publish(EventAnalysis, rec)

	if o.opts.SpeakResponses && o.deps.Speaker != nil {
		r.enter(Speak)
		// The echo window opens when playback starts, not when the answer is queued.
		remember := func() { o.deps.Gate.StoreResponse(answer) }
		if err := o.deps.Speaker.Say(ctx, answer, remember); err != nil {
			r.log.Warn().Err(err).Msg("speech output failed")
		} else {
			r.out.Spoken = true
		}
	}

	r.enter(Done)
	r.out.State = Done
	r.log.Info().
		Str("id", id).
		Str("type", string(r.out.Type)).
		Int("sources", len(r.out.Sources)).
		Bool("spoken", r.out.Spoken).
		Msg("utterance processed")
	return r.out, nil
}

func (o *Orchestrator) publish(kind string, payload any) {
	if o.deps.Publisher != nil {
		o.deps.Publisher.Publish(kind, payload)
	}
}
