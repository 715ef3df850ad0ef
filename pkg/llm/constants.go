package llm

// StopReason constants define normalized reasons for LLM generation termination.
// All providers must normalize their native stop reasons to these values.
const (
	StopReasonStop      = "stop"       // Normal completion
	StopReasonLength    = "length"     // Output truncated due to token limit
	StopReasonToolUse   = "tool_use"   // Model requested one or more tool calls
	StopReasonError     = "error"      // Terminated by a transport/provider error
	StopReasonCancelled = "cancelled"  // Terminated by a user/system cancel signal
)

// ContentBlock Type constants define the supported content block formats
// used throughout the message pipeline.
const (
	BlockTypeText       = "text"        // Plain text content
	BlockTypeThinking   = "thinking"    // Internal reasoning/chain-of-thought
	BlockTypeImage      = "image"       // Binary image data
	BlockTypeVideo      = "video"       // Binary video data
	BlockTypeAudio      = "audio"       // Binary audio data
	BlockTypeDocument   = "document"    // Binary document data (PDF, etc.)
	BlockTypeToolUse    = "tool_use"    // A tool invocation requested by the model
	BlockTypeToolResult = "tool_result" // The result of a tool invocation
	BlockTypeError      = "error"       // Error message displayed to user
)
