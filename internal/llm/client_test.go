package llm

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewClient(t *testing.T) {
	t.Run("api_key_required", func(t *testing.T) {
		if _, err := NewClient(Options{Log: zerolog.Nop()}); err == nil {
			t.Error("expected error without api key")
		}
	})

	t.Run("defaults_applied", func(t *testing.T) {
		c, err := NewClient(Options{APIKey: "sk-test", Log: zerolog.Nop()})
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		if c.ChatModel() != "gpt-4o-mini" {
			t.Errorf("ChatModel = %q, want gpt-4o-mini", c.ChatModel())
		}
		if c.opts.EmbeddingModel != "text-embedding-3-small" {
			t.Errorf("EmbeddingModel = %q", c.opts.EmbeddingModel)
		}
		if c.opts.Voice != "alloy" {
			t.Errorf("Voice = %q, want alloy", c.opts.Voice)
		}
	})

	t.Run("explicit_models_kept", func(t *testing.T) {
		c, err := NewClient(Options{APIKey: "sk-test", ChatModel: "gpt-4o", EmbeddingModel: "text-embedding-3-large"})
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		if c.ChatModel() != "gpt-4o" || c.opts.EmbeddingModel != "text-embedding-3-large" {
			t.Errorf("opts = %+v", c.opts)
		}
	})
}

func TestToChatMessages(t *testing.T) {
	msgs := toChatMessages([]Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "question"},
		{Role: RoleAssistant, Content: "earlier answer"},
		{Role: "", Content: "defaults to user"},
	})
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].OfSystem == nil || msgs[1].OfUser == nil || msgs[2].OfAssistant == nil || msgs[3].OfUser == nil {
		t.Errorf("unexpected message roles: %+v", msgs)
	}
}
