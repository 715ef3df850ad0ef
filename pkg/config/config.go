package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like channel API keys and LLM provider choices.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the configuration for the primary reasoning/chat LLM
	// provider group list, in raw JSON (see llm.ProviderGroupConfig).
	LLM jsoniter.RawMessage `json:"llm"`
	// CompilerEndpoints optionally configures a dedicated, typically
	// smaller/cheaper, model group used for summarization and context
	// compression calls instead of the primary LLM group.
	CompilerEndpoints jsoniter.RawMessage `json:"compiler_endpoints,omitempty"`
	// STTEndpoints optionally configures a speech-to-text provider group
	// used to transcribe voice attachments before they enter the prompt.
	STTEndpoints jsoniter.RawMessage `json:"stt_endpoints,omitempty"`
	// SystemPrompt is the global persona/instruction string sent to the AI
	// as the initial system message in every conversation.
	SystemPrompt string `json:"system_prompt"`
}

// DeepCopy creates a shallow copy of Config.
// Since Channels is a map, we need to clone the map itself.
func (c *Config) DeepCopy() *Config {
	newCfg := *c
	if c.Channels != nil {
		newCfg.Channels = make(map[string]jsoniter.RawMessage)
		for k, v := range c.Channels {
			newCfg.Channels[k] = v
		}
	}
	return &newCfg
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the Genesis engine.
type SystemConfig struct {
	// MaxRetries is the number of times the system will attempt to
	// recover from a transient LLM or network error before giving up.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the duration to wait (in milliseconds) between
	// consecutive retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for an
	// LLM request. The context will be cancelled if exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer defines the size of the internal Go channels
	// used for buffering stream chunks to prevent production blocking.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// ThinkingInitDelayMs is the time to wait (in milliseconds) after a
	// user message before showing the "AI is thinking" status in the UI.
	ThinkingInitDelayMs int `json:"thinking_init_delay_ms"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses will be split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DownloadTimeoutMs is the timeout (in milliseconds) applied when
	// fetching external media or files (e.g., from Telegram servers).
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// ShowThinking determines whether the AI's internal reasoning process (thinking blocks)
	// should be streamed and displayed to the end user.
	ShowThinking bool `json:"show_thinking"`
	// DebugChunks enables saving every raw LLM response chunk to the /debug
	// folder for inspection and troubleshooting purposes.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles the tool calling (agentic) functionality.
	// If false, the AI will not be provided with any external tools/capabilities.
	EnableTools bool `json:"enable_tools"`
	// HistorySummarizeThreshold is the number of messages after which summarization is triggered.
	HistorySummarizeThreshold int `json:"history_summarize_threshold"`
	// HistoryKeepRecentCount is the number of most recent message groups (a tool-call message
	// and its tool results form one group) kept verbatim after summarization; a history of
	// no more messages than this is never compressed.
	HistoryKeepRecentCount int `json:"history_keep_recent_count"`
	// HistoryMaxChars is the character limit for the conversation history before triggering summarization.
	HistoryMaxChars int `json:"history_max_chars"`
	// HistoryMaxTokens is the token limit for the conversation history before triggering summarization.
	// This uses the actual usage reported by the LLM.
	HistoryMaxTokens int `json:"history_max_tokens"`

	// FallbackOnError controls whether the Router advances to the next
	// candidate endpoint after the current one exhausts its retries, or
	// stops and surfaces the error immediately.
	FallbackOnError bool `json:"fallback_on_error"`

	// MaxContinuations bounds how many times the agent loop will re-prompt
	// the model to keep writing after a length-truncated response before
	// giving up and returning what it has.
	MaxContinuations int `json:"max_continuations"`
	// MaxIterations bounds the number of think-act-observe iterations
	// within a single task run, independent of continuations.
	MaxIterations int `json:"max_iterations"`
	// LoopSignatureWindow is the size of the sliding window of recent
	// tool-call signatures used for repeated-call loop detection.
	LoopSignatureWindow int `json:"loop_signature_window"`
	// LoopSignatureThreshold is the number of occurrences of the same
	// signature within the window at which the loop guard aborts the task.
	LoopSignatureThreshold int `json:"loop_signature_threshold"`

	// ToolParallelism bounds how many tool calls from a single batch may
	// execute concurrently.
	ToolParallelism int `json:"tool_parallelism"`
	// ToolTimeoutMs is the per-call timeout applied to tool execution.
	ToolTimeoutMs int `json:"tool_timeout_ms"`
	// ToolPayloadGuardBytes truncates any single tool result's serialized
	// payload beyond this size, replacing the remainder with a stable
	// overflow marker.
	ToolPayloadGuardBytes int `json:"tool_payload_guard_bytes"`

	// PromptTokenBudget is the total token budget the prompt assembler
	// allocates across persona, memory, tool-schema, and history sections.
	PromptTokenBudget int `json:"prompt_token_budget"`

	// MemoryDedupOverlapThreshold is the token-set overlap ratio (0..1) at
	// or above which a memory entry of any kind counts as a duplicate of an
	// existing one: Remember skips it at write time and Consolidate removes
	// it in later sweeps.
	MemoryDedupOverlapThreshold float64 `json:"memory_dedup_overlap_threshold"`
	// MemoryTopK is the default number of memory entries retrieved per query.
	MemoryTopK int `json:"memory_top_k"`
}

// DeepCopy creates a full copy of SystemConfig.
func (s *SystemConfig) DeepCopy() *SystemConfig {
	newSys := *s
	return &newSys
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded safe defaults.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:                3,
		RetryDelayMs:              500,
		LLMTimeoutMs:              600000,
		OllamaDefaultURL:          "http://localhost:11434/v1",
		InternalChannelBuffer:     100,
		ThinkingInitDelayMs:       500,
		TelegramMessageLimit:      4000,
		DownloadTimeoutMs:         10000,
		ShowThinking:              true,
		LogLevel:                  "info",
		EnableTools:               true,
		HistorySummarizeThreshold: 10,
		HistoryKeepRecentCount:    5,
		HistoryMaxChars:           10000,
		HistoryMaxTokens:          4000,

		FallbackOnError: true,

		MaxContinuations:       3,
		MaxIterations:          100,
		LoopSignatureWindow:    6,
		LoopSignatureThreshold: 3,

		ToolParallelism:       1,
		ToolTimeoutMs:         60000,
		ToolPayloadGuardBytes: 32 * 1024,

		PromptTokenBudget: 8000,

		MemoryDedupOverlapThreshold: 0.7,
		MemoryTopK:                  5,
	}
}

// Load reads and parses the JSON configuration files and returns configuration objects.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg
	}

	return cfg
}
