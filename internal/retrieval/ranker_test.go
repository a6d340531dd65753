package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeIndex struct {
	matches []Match
	err     error
	topK    int
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, topK int, _ bool) ([]Match, error) {
	f.topK = topK
	return f.matches, f.err
}

func newTestRanker(idx *fakeIndex, emb *fakeEmbedder) *Ranker {
	opts := DefaultOptions()
	opts.Log = zerolog.Nop()
	return NewRanker(emb, idx, opts)
}

// ── Select ──────────────────────────────────────────────────────────

func TestSelect(t *testing.T) {
	matches := []Match{
		{ID: "a", Score: 0.3},
		{ID: "b", Score: 0.9},
		{ID: "c", Score: 0.5},
	}

	t.Run("threshold_inclusive", func(t *testing.T) {
		got := Select(matches, 0.5, 1)
		if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
			t.Errorf("got %+v, want [b c]", got)
		}
	})

	t.Run("fallback_to_best_raw_match", func(t *testing.T) {
		got := Select(matches, 0.95, 1)
		if len(got) != 1 || got[0].ID != "b" {
			t.Errorf("got %+v, want [b]", got)
		}
	})

	t.Run("fallback_capped_by_available", func(t *testing.T) {
		got := Select(matches[:1], 0.95, 3)
		if len(got) != 1 {
			t.Errorf("got %d matches, want 1", len(got))
		}
	})

	t.Run("no_matches", func(t *testing.T) {
		if got := Select(nil, 0.5, 1); len(got) != 0 {
			t.Errorf("got %+v, want empty", got)
		}
	})
}

// ── BuildContext ────────────────────────────────────────────────────

func TestBuildContext(t *testing.T) {
	t.Run("all_fit", func(t *testing.T) {
		ctx, inc := BuildContext([]Match{{ID: "1", Text: "alpha"}, {ID: "2", Text: "beta"}}, 3000)
		if ctx != "alpha\n\nbeta" {
			t.Errorf("context = %q", ctx)
		}
		if len(inc) != 2 {
			t.Errorf("included %d, want 2", len(inc))
		}
	})

	t.Run("truncates_when_budget_over_100", func(t *testing.T) {
		first := strings.Repeat("a", 200)
		second := strings.Repeat("b", 500)
		ctx, inc := BuildContext([]Match{{ID: "1", Text: first}, {ID: "2", Text: second}}, 400)
		if utf8.RuneCountInString(ctx) != 400 {
			t.Errorf("context length = %d, want 400", utf8.RuneCountInString(ctx))
		}
		if len(inc) != 2 {
			t.Errorf("included %d, want 2", len(inc))
		}
		// 400 - 200 - 2 separator = 198 chars of the second passage.
		if !strings.HasSuffix(ctx, "\n\n"+strings.Repeat("b", 198)) {
			t.Error("second passage not truncated to the remaining budget")
		}
	})

	t.Run("drops_when_budget_at_most_100", func(t *testing.T) {
		first := strings.Repeat("a", 298)
		second := strings.Repeat("b", 500)
		// Remaining after separator: 400 - 298 - 2 = 100, not > 100.
		ctx, inc := BuildContext([]Match{{ID: "1", Text: first}, {ID: "2", Text: second}}, 400)
		if ctx != first {
			t.Errorf("context length = %d, want only the first passage", len(ctx))
		}
		if len(inc) != 1 {
			t.Errorf("included %d, want 1", len(inc))
		}
	})

	t.Run("never_exceeds_budget", func(t *testing.T) {
		var ms []Match
		for i := 0; i < 10; i++ {
			ms = append(ms, Match{ID: "x", Text: strings.Repeat("é", 700)})
		}
		ctx, _ := BuildContext(ms, 3000)
		if n := utf8.RuneCountInString(ctx); n > 3000 {
			t.Errorf("context length = %d, want <= 3000", n)
		}
		if !utf8.ValidString(ctx) {
			t.Error("context is not valid UTF-8")
		}
	})

	t.Run("single_oversized_passage", func(t *testing.T) {
		ctx, inc := BuildContext([]Match{{ID: "1", Text: strings.Repeat("z", 5000)}}, 3000)
		if len(ctx) != 3000 || len(inc) != 1 {
			t.Errorf("len = %d, included = %d; want 3000, 1", len(ctx), len(inc))
		}
	})
}

// ── Ranker ──────────────────────────────────────────────────────────

func TestRetrieve(t *testing.T) {
	t.Run("fallback_returns_exactly_one", func(t *testing.T) {
		idx := &fakeIndex{matches: []Match{
			{ID: "low1", Score: 0.2, Text: "weak passage one"},
			{ID: "low2", Score: 0.4, Text: "weak passage two"},
		}}
		r := newTestRanker(idx, &fakeEmbedder{})
		res := r.Retrieve(context.Background(), "what is raft")
		if res.Degraded {
			t.Fatal("Degraded = true")
		}
		if len(res.Sources) != 1 || res.Sources[0].ID != "low2" {
			t.Fatalf("sources = %+v, want [low2]", res.Sources)
		}
		if res.Context != "weak passage two" {
			t.Errorf("context = %q", res.Context)
		}
		if idx.topK != 5 {
			t.Errorf("topK = %d, want 5", idx.topK)
		}
	})

	t.Run("sources_carry_metadata", func(t *testing.T) {
		idx := &fakeIndex{matches: []Match{
			{ID: "doc-1", Score: 0.8, Text: "Consensus requires a majority.", Metadata: map[string]any{"source": "raft.md"}},
		}}
		res := newTestRanker(idx, &fakeEmbedder{}).Retrieve(context.Background(), "consensus")
		if len(res.Sources) != 1 || res.Sources[0].Metadata["source"] != "raft.md" {
			t.Errorf("sources = %+v", res.Sources)
		}
	})

	t.Run("embed_failure_degrades", func(t *testing.T) {
		idx := &fakeIndex{}
		r := newTestRanker(idx, &fakeEmbedder{err: errors.New("timeout")})
		var degraded int
		r.OnDegraded = func() { degraded++ }
		res := r.Retrieve(context.Background(), "q")
		if !res.Degraded || res.Context != "" || len(res.Sources) != 0 {
			t.Errorf("got %+v, want empty degraded result", res)
		}
		if degraded != 1 {
			t.Errorf("OnDegraded called %d times, want 1", degraded)
		}
	})

	t.Run("search_failure_degrades", func(t *testing.T) {
		idx := &fakeIndex{err: errors.New("connection refused")}
		res := newTestRanker(idx, &fakeEmbedder{}).Retrieve(context.Background(), "q")
		if !res.Degraded {
			t.Error("Degraded = false, want true")
		}
	})
}
