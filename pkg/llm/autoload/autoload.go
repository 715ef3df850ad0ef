// Package autoload registers every built-in LLM provider factory as a side
// effect of being imported. main imports it blank so the binary supports all
// providers without each caller needing to know the provider package names.
package autoload

import (
	_ "genesis/pkg/llm/anthropiclm"
	_ "genesis/pkg/llm/gemini"
	_ "genesis/pkg/llm/ollama"
	_ "genesis/pkg/llm/openailm"
)
