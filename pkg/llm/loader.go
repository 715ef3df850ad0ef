package llm

import (
	"fmt"
	"log"
	"time"

	"genesis/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// defaultCapabilities is applied to any provider group that does not
// declare an explicit "capabilities" list.
var defaultCapabilities = []Capability{CapabilityText, CapabilityTools}

func parseCapabilities(raw []string) []Capability {
	if len(raw) == 0 {
		return defaultCapabilities
	}
	out := make([]Capability, 0, len(raw))
	for _, c := range raw {
		out = append(out, Capability(c))
	}
	return out
}

// NewFromConfig acts as a universal entry point for instantiating an LLM
// router from raw JSON configuration. It automatically detects provider
// types, validates credentials, and applies engine-level technical
// parameters.
//
// Logic Flow:
//  1. Unmarshals raw JSON into a slice of ProviderGroupConfig.
//  2. Iterates through each group and retrieves the matching ProviderFactory
//     from the global registry.
//  3. Creates one or more atomic LLMClients (one per model) per group, and
//     wraps each in an Endpoint carrying priority/capability metadata.
//  4. Wraps all endpoints into a single Router with system-level retry and
//     fallback settings.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (*Router, error) {
	var allEndpoints []*Endpoint

	if rawLLM == nil {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := jsoniter.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %v", err)
	}

	for _, group := range groups {
		log.Printf("Loading LLM Group: %s (%d models)", group.Type, len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			log.Printf("Unknown provider type: %s", group.Type)
			continue
		}

		clients, err := factory.Create(group, system)
		if err != nil {
			log.Printf("Failed to create clients for %s: %v", group.Type, err)
			continue
		}

		caps := parseCapabilities(group.Capabilities)
		for i, client := range clients {
			model := ""
			if i < len(group.Models) {
				model = group.Models[i]
			}
			name := fmt.Sprintf("%s-%s", group.Type, model)
			if model == "" {
				name = fmt.Sprintf("%s-%d", group.Type, i)
			}
			allEndpoints = append(allEndpoints, NewEndpoint(name, group.Type, model, client, group.Priority, caps))
		}
	}

	if len(allEndpoints) == 0 {
		return nil, fmt.Errorf("no LLM endpoints could be initialized")
	}

	log.Printf("✅ Total LLM endpoints initialized: %d", len(allEndpoints))

	return NewRouter(
		allEndpoints,
		system.MaxRetries,
		time.Duration(system.RetryDelayMs)*time.Millisecond,
		system.FallbackOnError,
	), nil
}
