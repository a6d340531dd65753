// Package classify labels an utterance as technical or casual conversation.
package classify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/meeting-copilot/internal/llm"
)

// Type is the conversation type of an utterance.
type Type string

const (
	Technical Type = "technical"
	Casual    Type = "casual"
)

// ParseType maps a stored or model-provided label to a Type. Anything that is
// not "technical" is casual.
func ParseType(s string) Type {
	if strings.ToLower(strings.TrimSpace(s)) == string(Technical) {
		return Technical
	}
	return Casual
}

// Completer is the chat completion service the classifier calls.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, p llm.SamplingParams) (string, error)
}

// DefaultInstruction asks the model for a single-word label.
const DefaultInstruction = `You classify one utterance from a live meeting.
Reply with exactly one word, either "technical" or "casual".
technical: questions or statements about software, systems, engineering, science or other subject matter that needs domain knowledge.
casual: greetings, small talk, scheduling, jokes and anything else.`

// Options configures a Classifier.
type Options struct {
	Model       string // empty = the completer's default chat model
	Instruction string
	Log         zerolog.Logger
}

// Classifier decides the conversation type with one low-temperature completion.
type Classifier struct {
	completer Completer
	opts      Options
	log       zerolog.Logger
}

// NewClassifier creates a classifier backed by c.
func NewClassifier(c Completer, opts Options) *Classifier {
	if opts.Instruction == "" {
		opts.Instruction = DefaultInstruction
	}
	return &Classifier{
		completer: c,
		opts:      opts,
		log:       opts.Log.With().Str("component", "classifier").Logger(),
	}
}

// Classify returns the conversation type of text. Service failures are logged
// and classified as casual; Classify never fails.
func (c *Classifier) Classify(ctx context.Context, text string) Type {
	reply, err := c.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: c.opts.Instruction},
		{Role: llm.RoleUser, Content: text},
	}, llm.SamplingParams{
		Model:       c.opts.Model,
		Temperature: 0,
		MaxTokens:   5,
		MaxRetries:  llm.ClassifyRetries,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("classification failed, defaulting to casual")
		return Casual
	}

	t := ParseType(reply)
	c.log.Debug().Str("reply", reply).Str("type", string(t)).Msg("classified")
	return t
}
