package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/meeting-copilot/internal/api"
	"github.com/snarg/meeting-copilot/internal/metrics"
	"github.com/snarg/meeting-copilot/internal/transcript"
)

// ErrCycleRunning is returned by Check when another cycle is in progress.
// The notification is dropped, not queued; the running cycle or the next
// poll picks up whatever changed.
var ErrCycleRunning = errors.New("change cycle already running")

// Handler receives every FINAL utterance found in a delta.
type Handler func(ctx context.Context, u transcript.Utterance) error

// Publisher receives an event for every parsed utterance. May be nil.
type Publisher interface {
	Publish(kind string, payload any)
}

// WatcherOptions configures a ChangeWatcher.
type WatcherOptions struct {
	Store        *transcript.Store
	Handler      Handler
	Publisher    Publisher
	PollInterval time.Duration
	// StartAtEnd skips whatever the log already holds when the watcher starts.
	StartAtEnd bool
	Log        zerolog.Logger
}

// CycleResult summarizes one change-detection cycle.
type CycleResult struct {
	Entries   int
	Finals    int
	Malformed int
	Truncated bool
	Offset    int64
}

// UtteranceEvent is published for each parsed entry.
type UtteranceEvent struct {
	Timestamp  string  `json:"timestamp"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// ChangeWatcher detects appends to the transcript log and hands new FINAL
// utterances to its handler. Notifications come from fsnotify on the log's
// directory and from a polling ticker; at most one cycle runs at a time.
type ChangeWatcher struct {
	store   *transcript.Store
	handler Handler
	pub     Publisher
	poll    time.Duration
	atEnd   bool
	log     zerolog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	cycleWg sync.WaitGroup

	running atomic.Bool
	offset  atomic.Int64

	cycles      atomic.Int64
	skipped     atomic.Int64
	entries     atomic.Int64
	malformed   atomic.Int64
	truncations atomic.Int64
	status      atomic.Value // string: "starting", "watching", "stopped"
}

// NewChangeWatcher creates a watcher. Call Start to begin watching.
func NewChangeWatcher(opts WatcherOptions) *ChangeWatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	w := &ChangeWatcher{
		store:   opts.Store,
		handler: opts.Handler,
		pub:     opts.Publisher,
		poll:    opts.PollInterval,
		atEnd:   opts.StartAtEnd,
		log:     opts.Log.With().Str("component", "watcher").Logger(),
	}
	w.status.Store("starting")
	return w
}

// Start watches the log's directory and begins the event loop. An initial
// cycle runs immediately.
func (w *ChangeWatcher) Start(ctx context.Context) error {
	if w.atEnd {
		size, err := w.store.Size()
		if err != nil {
			return fmt.Errorf("stat transcript: %w", err)
		}
		w.offset.Store(size)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.store.Path())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.watcher = fw

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.log.Info().
		Str("path", w.store.Path()).
		Int64("offset", w.offset.Load()).
		Dur("poll_interval", w.poll).
		Msg("transcript watcher initialized")

	w.status.Store("watching")
	go w.watchLoop(ctx)
	w.trigger(ctx, "startup")
	return nil
}

// Stop ends the event loop and closes the fsnotify watcher. Cycles already
// running finish on their own; handlers are never cancelled mid-flight.
func (w *ChangeWatcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.log.Info().
		Int64("offset", w.offset.Load()).
		Int64("cycles", w.cycles.Load()).
		Int64("skipped", w.skipped.Load()).
		Int64("entries", w.entries.Load()).
		Msg("transcript watcher stopped")
}

// WaitCycles blocks until every triggered cycle has returned or ctx is done.
func (w *ChangeWatcher) WaitCycles(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.cycleWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offset returns the processed byte offset.
func (w *ChangeWatcher) Offset() int64 { return w.offset.Load() }

// Status returns the current watcher status for the health endpoint.
func (w *ChangeWatcher) Status() *api.WatcherStatusData {
	s, _ := w.status.Load().(string)
	return &api.WatcherStatusData{
		Status:               s,
		Path:                 w.store.Path(),
		Offset:               w.offset.Load(),
		Cycles:               w.cycles.Load(),
		SkippedNotifications: w.skipped.Load(),
		Entries:              w.entries.Load(),
		Malformed:            w.malformed.Load(),
		Truncations:          w.truncations.Load(),
	}
}

func (w *ChangeWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	target := filepath.Clean(w.store.Path())
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			w.trigger(ctx, "fsnotify")

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")

		case <-ticker.C:
			w.trigger(ctx, "poll")
		}
	}
}

// trigger runs a cycle in its own goroutine so notifications keep flowing
// while handlers work.
func (w *ChangeWatcher) trigger(ctx context.Context, source string) {
	w.cycleWg.Add(1)
	go func() {
		defer w.cycleWg.Done()
		_, err := w.Check(ctx)
		switch {
		case errors.Is(err, ErrCycleRunning):
			w.log.Debug().Str("source", source).Msg("change notification dropped, cycle running")
		case err != nil:
			w.log.Warn().Err(err).Str("source", source).Msg("change cycle failed")
		}
	}()
}

// Check runs one change-detection cycle. If a cycle is already running the
// call returns ErrCycleRunning immediately.
func (w *ChangeWatcher) Check(ctx context.Context) (CycleResult, error) {
	if !w.running.CompareAndSwap(false, true) {
		w.skipped.Add(1)
		metrics.WatcherSkippedTotal.Inc()
		return CycleResult{}, ErrCycleRunning
	}
	defer w.running.Store(false)
	return w.cycle(context.WithoutCancel(ctx))
}

func (w *ChangeWatcher) cycle(ctx context.Context) (CycleResult, error) {
	offset := w.offset.Load()
	delta, err := w.store.ReadSince(offset)
	if err != nil {
		return CycleResult{Offset: offset}, err
	}
	w.cycles.Add(1)
	metrics.WatcherCyclesTotal.Inc()

	res := CycleResult{Truncated: delta.Truncated, Offset: delta.Size}
	if delta.Truncated {
		w.truncations.Add(1)
		metrics.WatcherTruncationsTotal.Inc()
		w.log.Info().
			Int64("old_offset", offset).
			Int64("size", delta.Size).
			Msg("transcript truncated, restarting from beginning")
	}
	if len(delta.Data) == 0 {
		w.offset.Store(delta.Size)
		return res, nil
	}

	batch := transcript.ParseBatch(transcript.SplitEntries(delta.Data))
	for _, s := range batch.Skipped {
		w.malformed.Add(1)
		metrics.MalformedEntriesTotal.Inc()
		w.log.Warn().Err(s.Err).Msg("skipping malformed transcript entry")
	}
	res.Malformed = len(batch.Skipped)
	res.Entries = len(batch.Utterances)
	w.entries.Add(int64(len(batch.Utterances)))

	var wg sync.WaitGroup
	for _, u := range batch.Utterances {
		metrics.TranscriptEntriesTotal.WithLabelValues(strings.ToLower(u.Finality.String())).Inc()
		if w.pub != nil {
			w.pub.Publish(EventUtterance, UtteranceEvent{
				Timestamp:  u.Timestamp,
				Text:       u.Text,
				Confidence: u.Confidence,
				Final:      u.IsFinal(),
			})
		}
		if !u.IsFinal() || w.handler == nil {
			continue
		}
		res.Finals++
		wg.Add(1)
		go func(u transcript.Utterance) {
			defer wg.Done()
			w.handle(ctx, u)
		}(u)
	}
	wg.Wait()

	w.offset.Store(delta.Size)
	return res, nil
}

func (w *ChangeWatcher) handle(ctx context.Context, u transcript.Utterance) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("utterance_ts", u.Timestamp).Msg("utterance handler panicked")
		}
	}()
	if err := w.handler(ctx, u); err != nil {
		w.log.Warn().Err(err).Str("utterance_ts", u.Timestamp).Msg("utterance handler failed")
	}
}
