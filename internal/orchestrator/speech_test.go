package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/meeting-copilot/internal/classify"
	"github.com/snarg/meeting-copilot/internal/feedback"
	"github.com/snarg/meeting-copilot/internal/llm"
	"github.com/snarg/meeting-copilot/internal/speech"
)

// ── Echo window with queued playback ─────────────────────────────────

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type textSynth struct{}

func (textSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte(text), nil
}

// heldSink reports each playback on started and holds it until release.
type heldSink struct {
	started chan string
	release chan struct{}
}

func (s *heldSink) Play(ctx context.Context, audio []byte) error {
	s.started <- string(audio)
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type scriptedGenerator struct {
	mu      sync.Mutex
	answers []string
}

func (g *scriptedGenerator) Complete(context.Context, []llm.Message, llm.SamplingParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.answers[0]
	g.answers = g.answers[1:]
	return a, nil
}

func TestQueuedAnswerEchoWindowStartsAtPlayback(t *testing.T) {
	const (
		first  = "Leader election picks one node to coordinate every write."
		second = "Log replication copies each entry to a majority before commit."
	)
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	guard := feedback.NewGuard(feedback.Options{Now: clock.Now})
	sink := &heldSink{started: make(chan string), release: make(chan struct{})}
	player := speech.NewPlayer(speech.PlayerOptions{Synth: textSynth{}, Sink: sink, QueueSize: 4, Log: zerolog.Nop()})
	player.OnStateChange(guard.SetSpeaking)

	orch := New(Deps{
		Gate:       guard,
		Classifier: &fakeClassifier{t: classify.Casual},
		Retriever:  &fakeRetriever{},
		Generator:  &scriptedGenerator{answers: []string{first, second}},
		Archive:    &fakeArchive{},
		Speaker:    player,
	}, Options{SpeakResponses: true, Log: zerolog.Nop()})

	// Both answers are queued before playback begins.
	for _, q := range []string{"how does raft pick a leader", "and how are writes kept safe"} {
		out, err := orch.Process(context.Background(), final(q))
		if err != nil || out.State != Done {
			t.Fatalf("Process(%q) = %v, %v", q, out.State, err)
		}
	}
	if r := guard.Check(second); r != feedback.ReasonNone {
		t.Fatalf("queued answer registered before playback: reason %q", r)
	}

	player.Start()
	if got := <-sink.started; got != first {
		t.Fatalf("first playback = %q", got)
	}
	clock.Advance(40 * time.Second)
	sink.release <- struct{}{}

	if got := <-sink.started; got != second {
		t.Fatalf("second playback = %q", got)
	}
	clock.Advance(20 * time.Second)
	sink.release <- struct{}{}
	player.Stop()

	clock.Advance(3 * time.Second)
	if r := guard.Check(second); r != feedback.ReasonRecentMatch {
		t.Errorf("echo of second answer 23s after it began playing: reason %q, want %q", r, feedback.ReasonRecentMatch)
	}
	if r := guard.Check(first); r != feedback.ReasonNone {
		t.Errorf("first answer should have expired 63s after it began playing: reason %q", r)
	}
}
