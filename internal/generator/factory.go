package generator

import (
	"fmt"
	"os"
	"strings"
)

// Provider names
const (
	ProviderOpenAI   = "openai"
	ProviderTemplate = "template"

	// EnvProvider selects the generator provider
	EnvProvider = "DOCRAG_GENERATOR_PROVIDER"
)

// Config holds generator configuration
type Config struct {
	Provider string
	OpenAI   OpenAIConfig
}

// New creates a generator. An empty provider falls back to DetectProvider.
func New(cfg Config) (Generator, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAIGenerator(cfg.OpenAI)
	case ProviderTemplate:
		return NewTemplateGenerator(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// DetectProvider returns the provider selected by the environment:
// DOCRAG_GENERATOR_PROVIDER, then openai when OPENAI_API_KEY is set,
// otherwise the offline template generator.
func DetectProvider() string {
	if p := os.Getenv(EnvProvider); p != "" {
		return strings.ToLower(p)
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderTemplate
}
