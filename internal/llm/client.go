// Package llm wraps the OpenAI-compatible APIs used by the pipeline: chat
// completions for classification and answers, embeddings for retrieval, and
// speech synthesis for spoken replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// Per-call retry budgets. The SDK retries connection errors, 408, 409, 429
// and 5xx responses with backoff; everything else fails immediately.
const (
	ClassifyRetries = 1
	EmbedRetries    = 2
	GenerateRetries = 2
	SpeechRetries   = 1
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    Role
	Content string
}

// SamplingParams are the per-request generation settings.
type SamplingParams struct {
	Model       string // empty = the client's chat model
	Temperature float64
	MaxTokens   int
	MaxRetries  int
}

// ErrEmptyResponse is returned when the API answers without any content.
var ErrEmptyResponse = errors.New("empty response from model")

// Options configures the client.
type Options struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	SpeechModel    string
	Voice          string
	Timeout        time.Duration
	Log            zerolog.Logger
}

// Client calls the OpenAI API through openai-go.
type Client struct {
	api  openai.Client
	opts Options
	log  zerolog.Logger
}

// NewClient creates a client. APIKey is required.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if opts.ChatModel == "" {
		opts.ChatModel = string(openai.ChatModelGPT4oMini)
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if opts.SpeechModel == "" {
		opts.SpeechModel = string(openai.SpeechModelTTS1)
	}
	if opts.Voice == "" {
		opts.Voice = "alloy"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithRequestTimeout(opts.Timeout),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Client{
		api:  openai.NewClient(reqOpts...),
		opts: opts,
		log:  opts.Log.With().Str("component", "llm").Logger(),
	}, nil
}

// ChatModel returns the default chat model.
func (c *Client) ChatModel() string { return c.opts.ChatModel }

// Complete runs a chat completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, messages []Message, p SamplingParams) (string, error) {
	model := p.Model
	if model == "" {
		model = c.opts.ChatModel
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    toChatMessages(messages),
		Temperature: openai.Float(p.Temperature),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params, option.WithMaxRetries(p.MaxRetries))
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}

	c.log.Debug().
		Str("model", model).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Dur("elapsed", time.Since(start)).
		Msg("chat completion")
	return text, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.opts.EmbeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	}, option.WithMaxRetries(EmbedRetries))
	if err != nil {
		return nil, fmt.Errorf("embedding (%s): %w", c.opts.EmbeddingModel, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Synthesize renders text to MP3 audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.api.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.opts.SpeechModel),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(c.opts.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}, option.WithMaxRetries(SpeechRetries))
	if err != nil {
		return nil, fmt.Errorf("speech synthesis (%s): %w", c.opts.SpeechModel, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyResponse
	}
	return audio, nil
}

func toChatMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
