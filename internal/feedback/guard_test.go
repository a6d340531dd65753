package feedback

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGuard() (*Guard, *fakeClock) {
	clock := newFakeClock()
	return NewGuard(Options{Now: clock.Now}), clock
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"The deadline is Friday.", "the deadline is friday"},
		{"  Hello,   WORLD!!  ", "hello world"},
		{"line\none\ttwo", "line one two"},
		{"...", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGuardExactMatch(t *testing.T) {
	g, _ := newTestGuard()
	g.StoreResponse("The deadline is Friday.")

	if g.ShouldProcess("the deadline is friday") {
		t.Error("ShouldProcess = true for echo of stored response, want false")
	}
	if !g.ShouldProcess("when do we ship the release") {
		t.Error("ShouldProcess = false for unrelated input, want true")
	}
}

func TestGuardExpiry(t *testing.T) {
	g, clock := newTestGuard()
	g.StoreResponse("The deadline is Friday.")

	clock.Advance(29 * time.Second)
	if g.ShouldProcess("the deadline is friday") {
		t.Error("still inside the 30s window, want suppressed")
	}

	clock.Advance(1 * time.Second)
	if !g.ShouldProcess("the deadline is friday") {
		t.Error("after 30s window, want processed")
	}
	if n := g.RecentCount(); n != 0 {
		t.Errorf("RecentCount = %d, want 0 after expiry", n)
	}
}

func TestGuardSpeakingWindow(t *testing.T) {
	g, clock := newTestGuard()

	g.SetSpeaking(true)
	if g.ShouldProcess("anything at all") {
		t.Error("speaking: want false")
	}
	if g.Check("anything at all") != ReasonSpeaking {
		t.Errorf("Check = %q, want %q", g.Check("anything at all"), ReasonSpeaking)
	}

	g.SetSpeaking(false)
	clock.Advance(999 * time.Millisecond)
	if g.ShouldProcess("anything at all") {
		t.Error("within 1000ms of speech end: want false")
	}

	clock.Advance(1 * time.Millisecond)
	if !g.ShouldProcess("anything at all") {
		t.Error("1000ms after speech end: want true")
	}
}

func TestGuardSetSpeakingFalseWithoutPlayingKeepsNoCooldown(t *testing.T) {
	g, _ := newTestGuard()
	g.SetSpeaking(false)
	if !g.ShouldProcess("hello there") {
		t.Error("no prior speech: want true")
	}
}

func TestGuardOverlap(t *testing.T) {
	tests := []struct {
		name     string
		response string
		input    string
		want     bool // want ShouldProcess
	}{
		{
			// 9 words -> phrase length 3; "the build pipeline" appears in input.
			name:     "three_word_phrase_echo",
			response: "I think the build pipeline is slow because of caching",
			input:    "so the build pipeline ok",
			want:     false,
		},
		{
			name:     "paraphrase_not_caught",
			response: "I think the build pipeline is slow because of caching",
			input:    "why is our ci so sluggish",
			want:     true,
		},
		{
			// 4 words -> phrase length 2; "the deadline" is 12 chars.
			name:     "two_word_phrase_over_ten_chars",
			response: "The deadline is Friday.",
			input:    "wait the deadline moved",
			want:     false,
		},
		{
			// 4 words -> phrase length 2; every 2-word phrase is <= 10 chars.
			name:     "short_phrases_never_match",
			response: "It is a yes",
			input:    "it is a question",
			want:     true,
		},
		{
			// Response of 10 normalized chars is too short for phrase matching.
			name:     "response_at_ten_chars_only_exact",
			response: "ship it ok",
			input:    "please ship it ok now",
			want:     true,
		},
		{
			name:     "response_at_ten_chars_exact_still_matches",
			response: "ship it ok",
			input:    "Ship it, OK!",
			want:     false,
		},
		{
			// Single word response: floor(1/2) = 0, so no phrase check.
			name:     "single_long_word_response",
			response: "Supercalifragilistic",
			input:    "supercalifragilistic indeed",
			want:     true,
		},
		{
			// Genuine repeated short question suppressed: accepted false positive.
			name:     "repeated_question_false_positive",
			response: "Consensus requires a quorum of nodes",
			input:    "does consensus requires a quorum matter here",
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGuard()
			g.StoreResponse(tt.response)
			if got := g.ShouldProcess(tt.input); got != tt.want {
				t.Errorf("ShouldProcess(%q) after %q = %v, want %v", tt.input, tt.response, got, tt.want)
			}
		})
	}
}

func TestGuardSweep(t *testing.T) {
	g, clock := newTestGuard()
	g.StoreResponse("first response text")
	clock.Advance(20 * time.Second)
	g.StoreResponse("second response text")
	clock.Advance(10 * time.Second)

	if n := g.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if n := g.RecentCount(); n != 1 {
		t.Errorf("RecentCount = %d, want 1", n)
	}
}

func TestGuardRunStopsOnCancel(t *testing.T) {
	g := NewGuard(Options{JanitorInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGuardConcurrentUse(t *testing.T) {
	g := NewGuard(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); g.SetSpeaking(true); g.SetSpeaking(false) }()
		go func() { defer wg.Done(); g.StoreResponse("some spoken answer text") }()
		go func() { defer wg.Done(); g.ShouldProcess("some spoken answer text") }()
	}
	wg.Wait()
}
