// Package ai maps logical model names to provider clients. Each
// submission carries its own API key, so providers are constructed per
// request rather than held for the process lifetime.
package ai

import (
	"fmt"
	"log/slog"

	"github.com/modelarena/llm-evaluator/internal/config"
	"github.com/modelarena/llm-evaluator/internal/domain"
)

// Provider families.
const (
	FamilyOpenAI = "openai"
	FamilyGoogle = "google"
	FamilyOllama = "ollama"
)

type modelMapping struct {
	family string
	model  string
}

// modelTable maps the logical names accepted at the gateway to concrete
// provider models. Lookups are exact; unknown names fall back to the
// OpenAI default.
var modelTable = map[string]modelMapping{
	"ChatGPT":          {FamilyOpenAI, "gpt-4o-mini"},
	"GPT-4":            {FamilyOpenAI, "gpt-4"},
	"GPT-4o":           {FamilyOpenAI, "gpt-4o"},
	"GPT-4o-mini":      {FamilyOpenAI, "gpt-4o-mini"},
	"Gemini":           {FamilyGoogle, "gemini-2.0-flash"},
	"Gemini-Flash":     {FamilyGoogle, "gemini-2.0-flash"},
	"Gemini-2.5-Flash": {FamilyGoogle, "gemini-2.5-flash"},
	"Gemini-Pro":       {FamilyGoogle, "gemini-2.5-pro"},
	"Llama3":           {FamilyOllama, "llama3"},
	"Qwen2.5":          {FamilyOllama, "qwen2.5"},
}

var defaultMapping = modelMapping{FamilyOpenAI, "gpt-4o-mini"}

// Factory builds provider clients from logical model names.
type Factory struct {
	cfg config.Config
}

// NewFactory constructs a Factory.
func NewFactory(cfg config.Config) *Factory {
	return &Factory{cfg: cfg}
}

func resolve(logicalName string) modelMapping {
	if m, ok := modelTable[logicalName]; ok {
		return m
	}
	slog.Warn("unknown target model, using default",
		slog.String("model", logicalName),
		slog.String("default", defaultMapping.model))
	return defaultMapping
}

// ResolveModelName returns the concrete provider model for a logical
// name.
func (f *Factory) ResolveModelName(logicalName string) string {
	return resolve(logicalName).model
}

// CreateProvider returns the provider client for a logical model name,
// bound to the request's API key.
func (f *Factory) CreateProvider(logicalName, apiKey string) (domain.Provider, error) {
	m := resolve(logicalName)
	switch m.family {
	case FamilyOpenAI:
		return NewOpenAIProvider(f.cfg.OpenAIBaseURL, apiKey), nil
	case FamilyGoogle:
		return NewGoogleProvider(f.cfg.GoogleBaseURL, apiKey), nil
	case FamilyOllama:
		return NewOllamaProvider(f.cfg.OllamaBaseURL), nil
	}
	return nil, fmt.Errorf("op=ai.CreateProvider: %w: unknown provider family %q", domain.ErrInternal, m.family)
}
