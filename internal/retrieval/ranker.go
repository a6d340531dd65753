// Package retrieval turns a query into a bounded block of background passages
// from the vector index.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is a nearest-neighbour search over stored passages.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]Match, error)
}

// Match is one search hit. Score is a similarity in [0,1], higher is closer.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Text     string         `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Source describes a passage included in the context.
type Source struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is the outcome of a retrieval.
type Result struct {
	Context  string
	Sources  []Source
	Degraded bool // embedding or search failed; Context is empty
}

// ContextSeparator joins passages in the context string.
const ContextSeparator = "\n\n"

// minTruncatedTail is the budget that must remain before a passage is cut
// rather than dropped.
const minTruncatedTail = 100

// Options tunes the ranker.
type Options struct {
	TopK                int
	SimilarityThreshold float64
	MinRelevantChunks   int
	MaxContextLength    int // in characters
	Log                 zerolog.Logger
}

// DefaultOptions returns the documented retrieval defaults.
func DefaultOptions() Options {
	return Options{
		TopK:                5,
		SimilarityThreshold: 0.5,
		MinRelevantChunks:   1,
		MaxContextLength:    3000,
		Log:                 zerolog.Nop(),
	}
}

// Ranker runs embed → search → filter → budget.
type Ranker struct {
	embedder Embedder
	index    VectorIndex
	opts     Options
	log      zerolog.Logger

	// OnDegraded, when set, is called after a failed retrieval.
	OnDegraded func()
}

// NewRanker creates a ranker. Zero-valued options take the defaults, except
// SimilarityThreshold where 0 is a valid setting.
func NewRanker(e Embedder, idx VectorIndex, opts Options) *Ranker {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MinRelevantChunks <= 0 {
		opts.MinRelevantChunks = def.MinRelevantChunks
	}
	if opts.MaxContextLength <= 0 {
		opts.MaxContextLength = def.MaxContextLength
	}
	return &Ranker{
		embedder: e,
		index:    idx,
		opts:     opts,
		log:      opts.Log.With().Str("component", "retrieval").Logger(),
	}
}

// Retrieve finds passages relevant to query. Failures are logged and produce
// an empty, degraded result.
func (r *Ranker) Retrieve(ctx context.Context, query string) Result {
	start := time.Now()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return r.degraded(fmt.Errorf("embed query: %w", err))
	}
	matches, err := r.index.Query(ctx, vec, r.opts.TopK, true)
	if err != nil {
		return r.degraded(fmt.Errorf("vector search: %w", err))
	}

	selected := Select(matches, r.opts.SimilarityThreshold, r.opts.MinRelevantChunks)
	ctxText, included := BuildContext(selected, r.opts.MaxContextLength)

	sources := make([]Source, 0, len(included))
	for _, m := range included {
		sources = append(sources, Source{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}

	r.log.Debug().
		Int("matches", len(matches)).
		Int("selected", len(selected)).
		Int("included", len(included)).
		Int("context_chars", len([]rune(ctxText))).
		Dur("elapsed", time.Since(start)).
		Msg("retrieval complete")
	return Result{Context: ctxText, Sources: sources}
}

func (r *Ranker) degraded(err error) Result {
	r.log.Warn().Err(err).Msg("retrieval failed, continuing without context")
	if r.OnDegraded != nil {
		r.OnDegraded()
	}
	return Result{Degraded: true}
}

// Select keeps matches scoring at or above threshold. When fewer than
// minRelevant survive, the top minRelevant raw matches are used instead.
// The returned slice is ordered by descending score.
func Select(matches []Match, threshold float64, minRelevant int) []Match {
	ranked := make([]Match, len(matches))
	copy(ranked, matches)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	var kept []Match
	for _, m := range ranked {
		if m.Score >= threshold {
			kept = append(kept, m)
		}
	}
	if len(kept) >= minRelevant {
		return kept
	}
	if minRelevant > len(ranked) {
		minRelevant = len(ranked)
	}
	return ranked[:minRelevant]
}

// BuildContext concatenates match texts in order, separated by
// ContextSeparator, without exceeding maxLen characters. A passage that does
// not fit is cut to the remaining budget when more than 100 characters remain,
// otherwise it is dropped; nothing after it is considered. It returns the
// context and the matches that contributed to it.
func BuildContext(matches []Match, maxLen int) (string, []Match) {
	var b strings.Builder
	var included []Match
	used := 0
	sepLen := len([]rune(ContextSeparator))

	for _, m := range matches {
		text := []rune(strings.TrimSpace(m.Text))
		if len(text) == 0 {
			continue
		}
		sep := 0
		if len(included) > 0 {
			sep = sepLen
		}

		if used+sep+len(text) <= maxLen {
			if sep > 0 {
				b.WriteString(ContextSeparator)
			}
			b.WriteString(string(text))
			used += sep + len(text)
			included = append(included, m)
			continue
		}

		remaining := maxLen - used - sep
		if remaining > minTruncatedTail {
			if sep > 0 {
				b.WriteString(ContextSeparator)
			}
			b.WriteString(string(text[:remaining]))
			included = append(included, m)
		}
		break
	}
	return b.String(), included
}
