// Package speech voices responses: text is synthesized to audio and played
// one response at a time through an external player command.
package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/meeting-copilot/internal/metrics"
)

var (
	// ErrQueueFull is returned by Say when the playback queue has no room.
	ErrQueueFull = errors.New("speech queue full")
	// ErrStopped is returned by Say after Stop.
	ErrStopped = errors.New("speech player stopped")
)

// Synthesizer renders text to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Sink plays encoded audio and returns when playback has finished.
type Sink interface {
	Play(ctx context.Context, audio []byte) error
}

// Stats reports the playback queue state.
type Stats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Playing   bool  `json:"playing"`
}

// PlayerOptions configures a Player.
type PlayerOptions struct {
	Synth     Synthesizer
	Sink      Sink
	QueueSize int
	// Timeout bounds synthesis plus playback of one response.
	Timeout time.Duration
	Log     zerolog.Logger
}

// Player serializes speech output. Listeners registered with OnStateChange
// are told when playback starts and ends.
type Player struct {
	opts   PlayerOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    chan job
	stopped bool

	listenersMu sync.RWMutex
	listeners   []func(playing bool)

	playing   atomic.Bool
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPlayer creates a player. Call Start to begin draining the queue.
func NewPlayer(opts PlayerOptions) *Player {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		opts:   opts,
		log:    opts.Log.With().Str("component", "speech").Logger(),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, opts.QueueSize),
	}
}

// OnStateChange registers fn to be called with true when playback starts and
// false when it ends.
func (p *Player) OnStateChange(fn func(playing bool)) {
	p.listenersMu.Lock()
	p.listeners = append(p.listeners, fn)
	p.listenersMu.Unlock()
}

type job struct {
	text    string
	onStart func()
}

// Say queues text for playback. It does not wait for playback. onStart, when
// non-nil, runs once synthesis is done and immediately before the audio starts.
func (p *Player) Say(_ context.Context, text string, onStart func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job{text: text, onStart: onStart}:
		return nil
	default:
		metrics.SpeechPlaybacksTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// Start launches the playback worker.
func (p *Player) Start() {
	p.wg.Add(1)
	go p.worker()
	p.log.Info().Int("queue_size", cap(p.jobs)).Msg("speech player started")
}

// Stop stops accepting responses and waits for queued ones to finish.
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("speech player stopped")
}

// Abort stops the player and cancels the playback in progress.
func (p *Player) Abort() {
	p.cancel()
	p.Stop()
}

// Stats returns current queue statistics.
func (p *Player) Stats() Stats {
	return Stats{
		Pending:   len(p.jobs),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Playing:   p.playing.Load(),
	}
}

// QueueDepth returns the number of responses waiting to be spoken.
func (p *Player) QueueDepth() int { return len(p.jobs) }

func (p *Player) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		if err := p.speak(j); err != nil {
			p.failed.Add(1)
			metrics.SpeechPlaybacksTotal.WithLabelValues("failed").Inc()
			p.log.Warn().Err(err).Int("chars", len(j.text)).Msg("speech output failed")
		} else {
			p.completed.Add(1)
			metrics.SpeechPlaybacksTotal.WithLabelValues("ok").Inc()
		}
	}
}

func (p *Player) speak(j job) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	audio, err := p.opts.Synth.Synthesize(ctx, j.text)
	if err != nil {
		return err
	}

	if j.onStart != nil {
		j.onStart()
	}
	p.setPlaying(true)
	defer p.setPlaying(false)
	if err := p.opts.Sink.Play(ctx, audio); err != nil {
		return err
	}
	p.log.Debug().Int("bytes", len(audio)).Dur("elapsed", time.Since(start)).Msg("response spoken")
	return nil
}

func (p *Player) setPlaying(v bool) {
	p.playing.Store(v)
	p.listenersMu.RLock()
	defer p.listenersMu.RUnlock()
	for _, fn := range p.listeners {
		fn(v)
	}
}
