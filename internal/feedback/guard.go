// Package feedback suppresses transcripts that are the system hearing its own
// synthesized speech through the meeting audio.
//
// The check is a heuristic. A paraphrased echo can slip through, and a genuine
// short question that repeats a phrase of a recent answer can be suppressed.
// The thresholds live in Options so they can be tuned without code changes.
package feedback

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// Options tunes the guard.
type Options struct {
	// FeedbackDelay is how long after speech ends input is still ignored.
	FeedbackDelay time.Duration
	// ResponseTTL is how long a spoken response is remembered.
	ResponseTTL time.Duration
	// MinResponseChars: only responses longer than this take part in phrase matching.
	MinResponseChars int
	// MaxPhraseWords caps the phrase length used for overlap matching.
	MaxPhraseWords int
	// MinPhraseChars: a phrase must be longer than this to count as overlap.
	MinPhraseChars int
	// JanitorInterval is how often Run sweeps expired responses.
	JanitorInterval time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	Log zerolog.Logger
}

// DefaultOptions returns the documented thresholds.
func DefaultOptions() Options {
	return Options{
		FeedbackDelay:    1000 * time.Millisecond,
		ResponseTTL:      30 * time.Second,
		MinResponseChars: 10,
		MaxPhraseWords:   3,
		MinPhraseChars:   10,
		JanitorInterval:  5 * time.Second,
		Log:              zerolog.Nop(),
	}
}

// Reason explains why ShouldProcess rejected an input.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonSpeaking    Reason = "speaking"
	ReasonCooldown    Reason = "cooldown"
	ReasonRecentMatch Reason = "recent_response"
)

// Guard holds the speaking state and the set of recently spoken responses.
// It is safe for concurrent use.
type Guard struct {
	opts Options
	log  zerolog.Logger

	mu            sync.Mutex
	speaking      bool
	lastSpeechEnd time.Time
	responses     map[string]time.Time // normalized text -> inserted at
}

// NewGuard creates a guard. Zero-valued options fall back to the defaults.
func NewGuard(opts Options) *Guard {
	def := DefaultOptions()
	if opts.FeedbackDelay <= 0 {
		opts.FeedbackDelay = def.FeedbackDelay
	}
	if opts.ResponseTTL <= 0 {
		opts.ResponseTTL = def.ResponseTTL
	}
	if opts.MinResponseChars <= 0 {
		opts.MinResponseChars = def.MinResponseChars
	}
	if opts.MaxPhraseWords <= 0 {
		opts.MaxPhraseWords = def.MaxPhraseWords
	}
	if opts.MinPhraseChars <= 0 {
		opts.MinPhraseChars = def.MinPhraseChars
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = def.JanitorInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Guard{
		opts:      opts,
		log:       opts.Log,
		responses: make(map[string]time.Time),
	}
}

// SetSpeaking records the speech output state. The end of speech starts the
// feedback delay window.
func (g *Guard) SetSpeaking(playing bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.speaking && !playing {
		g.lastSpeechEnd = g.opts.Now()
	}
	g.speaking = playing
}

// IsSpeaking reports whether speech output is currently playing.
func (g *Guard) IsSpeaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speaking
}

// ShouldProcess reports whether a transcript should go through the pipeline.
func (g *Guard) ShouldProcess(text string) bool {
	return g.Check(text) == ReasonNone
}

// Check is ShouldProcess with the rejection reason.
func (g *Guard) Check(text string) Reason {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.opts.Now()
	if g.speaking {
		return ReasonSpeaking
	}
	if !g.lastSpeechEnd.IsZero() && now.Sub(g.lastSpeechEnd) < g.opts.FeedbackDelay {
		return ReasonCooldown
	}

	cleaned := Normalize(text)
	if cleaned == "" {
		return ReasonNone
	}
	for resp, at := range g.responses {
		if now.Sub(at) >= g.opts.ResponseTTL {
			delete(g.responses, resp)
			continue
		}
		if g.overlaps(cleaned, resp) {
			g.log.Debug().Str("input", cleaned).Str("response", resp).Msg("transcript matches recent response")
			return ReasonRecentMatch
		}
	}
	return ReasonNone
}

// StoreResponse remembers text that is about to be spoken.
func (g *Guard) StoreResponse(text string) {
	n := Normalize(text)
	if n == "" {
		return
	}
	g.mu.Lock()
	g.responses[n] = g.opts.Now()
	g.mu.Unlock()
}

// RecentCount returns the number of remembered responses, expired or not yet swept.
func (g *Guard) RecentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.responses)
}

// Sweep removes expired responses and returns how many were removed.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.opts.Now()
	removed := 0
	for resp, at := range g.responses {
		if now.Sub(at) >= g.opts.ResponseTTL {
			delete(g.responses, resp)
			removed++
		}
	}
	return removed
}

// Run sweeps expired responses until ctx is cancelled.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				g.log.Debug().Int("expired", n).Msg("recent responses expired")
			}
		}
	}
}

// overlaps implements the echo heuristic: an exact match, or any run of
// min(MaxPhraseWords, words/2) consecutive response words, longer than
// MinPhraseChars, appearing in the input.
func (g *Guard) overlaps(input, resp string) bool {
	if input == resp {
		return true
	}
	if len(resp) <= g.opts.MinResponseChars {
		return false
	}

	words := strings.Fields(resp)
	n := len(words) / 2
	if n > g.opts.MaxPhraseWords {
		n = g.opts.MaxPhraseWords
	}
	if n < 1 {
		return false
	}
	for i := 0; i+n <= len(words); i++ {
		phrase := strings.Join(words[i:i+n], " ")
		if len(phrase) > g.opts.MinPhraseChars && strings.Contains(input, phrase) {
			return true
		}
	}
	return false
}

// Normalize lower-cases text, strips punctuation and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}
