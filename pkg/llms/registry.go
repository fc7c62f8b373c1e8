package llms

import (
	"fmt"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/registry"
)

// ProviderFactory builds an LLM from configuration.
type ProviderFactory func(cfg config.LLMConfig) (LLM, error)

// ProviderRegistry maps provider type names to factories.
type ProviderRegistry struct {
	*registry.BaseRegistry[ProviderFactory]
}

// NewProviderRegistry returns a registry preloaded with the built-in providers.
func NewProviderRegistry() *ProviderRegistry {
	r := &ProviderRegistry{BaseRegistry: registry.NewBaseRegistry[ProviderFactory]()}
	_ = r.Register("openai", func(cfg config.LLMConfig) (LLM, error) {
		return NewOpenAIProvider(cfg), nil
	})
	return r
}

// Create builds the provider named by cfg.Provider.
func (r *ProviderRegistry) Create(cfg config.LLMConfig) (LLM, error) {
	factory, ok := r.Get(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return factory(cfg)
}
