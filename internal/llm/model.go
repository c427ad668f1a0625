// Package llm provides graph extraction through langchaingo chat models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/docbatch/internal/config"
)

// ErrDisabled is returned by NewModel when no provider is configured.
var ErrDisabled = errors.New("llm provider disabled")

// Model wraps langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	modelName string
	timeout   time.Duration
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderNone, "":
		return nil, ErrDisabled

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return newModel(model, cfg.LLMModel, cfg.LLMTimeout), nil
}

func newModel(model llms.Model, name string, timeout time.Duration) *Model {
	return &Model{llm: model, modelName: name, timeout: timeout}
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate with system: %w", wrapFatalError(err))
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return response.Choices[0].Content, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

const extractionPrompt = `You are a Knowledge Graph Specialist. Extract entities and relations from the given text.

Entity types: person, service, concept, project, task, document

Output format (one per line):
ENTITY|name|type|description
RELATION|source|target|relation_type|description

Guidelines:
- Extract all meaningful entities with brief descriptions
- Identify relationships between entities
- Use lowercase entity names with hyphens (e.g., "john-doe", "auth-service")
- For relation types use: works_on, owns, depends_on, references, mentions, relates_to`

// ExtractGraph asks the model for entities and relations in text and parses
// the line-oriented answer. Known entity names are passed along as hints.
func (m *Model) ExtractGraph(ctx context.Context, text string, known []string) (*Extraction, error) {
	hints := ""
	if len(known) > 0 {
		hints = fmt.Sprintf("\nExisting entities that may be referenced:\n%s", known)
	}

	userPrompt := fmt.Sprintf(`Text:
%s
%s

Extracted entities and relations:`, text, hints)

	raw, err := m.GenerateWithSystem(ctx, extractionPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("extract graph: %w", err)
	}
	return ParseExtraction(raw), nil
}
