package anthropiclm

import (
	"genesis/pkg/config"
	"genesis/pkg/llm"
)

// AnthropicFactory handles creation of anthropiclm Clients.
type AnthropicFactory struct{}

// Create implements llm.ProviderFactory.
func (f *AnthropicFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	// Cartesian Product: Models x Keys (prioritize models)
	for _, model := range cfg.Models {
		for _, key := range cfg.APIKeys {
			client := NewClient(key, model, cfg.BaseURL, cfg.Options)
			clients = append(clients, client)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("anthropic", &AnthropicFactory{})
}
