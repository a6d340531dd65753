package orchestrator

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/snarg/meeting-copilot/internal/classify"
	"github.com/snarg/meeting-copilot/internal/llm"
)

// Sampling holds the generation settings for one conversation type.
type Sampling struct {
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// Prompts holds the persona text and sampling per conversation type.
type Prompts struct {
	TechnicalSystem string   `toml:"technical_system"`
	CasualSystem    string   `toml:"casual_system"`
	ContextHeader   string   `toml:"context_header"`
	Technical       Sampling `toml:"technical"`
	Casual          Sampling `toml:"casual"`
}

// DefaultPrompts returns the built-in persona and sampling settings.
func DefaultPrompts() Prompts {
	return Prompts{
		TechnicalSystem: "You are a senior engineer taking part in a live meeting. " +
			"Answer the question you just heard clearly and accurately in a few spoken sentences. " +
			"Use the background material when it is relevant and say so when you are unsure.",
		CasualSystem: "You are a friendly colleague in a live meeting. " +
			"Reply to what you just heard briefly and naturally, in one or two spoken sentences.",
		ContextHeader: "Background material that may help with the answer:",
		Technical:     Sampling{Temperature: 0.3, MaxTokens: 500},
		Casual:        Sampling{Temperature: 0.8, MaxTokens: 150},
	}
}

// LoadPrompts reads overrides from a TOML file on top of DefaultPrompts.
// Unknown keys are rejected.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return Prompts{}, fmt.Errorf("load prompts %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Prompts{}, fmt.Errorf("load prompts %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := p.validate(); err != nil {
		return Prompts{}, fmt.Errorf("load prompts %s: %w", path, err)
	}
	return p, nil
}

func (p Prompts) validate() error {
	if strings.TrimSpace(p.TechnicalSystem) == "" || strings.TrimSpace(p.CasualSystem) == "" {
		return fmt.Errorf("system prompts must not be empty")
	}
	for name, s := range map[string]Sampling{"technical": p.Technical, "casual": p.Casual} {
		if s.Temperature < 0 || s.Temperature > 2 {
			return fmt.Errorf("%s temperature %g outside [0,2]", name, s.Temperature)
		}
		if s.MaxTokens < 0 {
			return fmt.Errorf("%s max_tokens %d is negative", name, s.MaxTokens)
		}
	}
	return nil
}

// Messages builds the role-structured request for one utterance.
func (p Prompts) Messages(t classify.Type, question string, background *string) []llm.Message {
	system := p.CasualSystem
	if t == classify.Technical {
		system = p.TechnicalSystem
	}
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	if background != nil && strings.TrimSpace(*background) != "" {
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleSystem,
			Content: p.ContextHeader + "\n\n" + *background,
		})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: question})
}

// Sampling returns the generation settings for t.
func (p Prompts) Sampling(t classify.Type) llm.SamplingParams {
	s := p.Casual
	if t == classify.Technical {
		s = p.Technical
	}
	return llm.SamplingParams{
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		MaxRetries:  llm.GenerateRetries,
	}
}
