package llm

// StreamEventKind enumerates the high-level lifecycle events a streaming
// turn can emit, independent of the lower-level ContentBlock/StreamChunk
// wire representation the provider clients already speak.
type StreamEventKind string

const (
	StreamEventTextDelta     StreamEventKind = "text_delta"
	StreamEventThinkingDelta StreamEventKind = "thinking_delta"
	StreamEventToolCallStart StreamEventKind = "tool_call_start"
	StreamEventIterationStart StreamEventKind = "iteration_start"
	StreamEventDone          StreamEventKind = "done"
	StreamEventError         StreamEventKind = "error"
)

// StreamEvent is a coarse-grained notification describing turn progress,
// meant for observers that care about lifecycle (a UI progress indicator,
// an audit log, a metrics counter) rather than the actual block payload.
// It is emitted alongside, not instead of, the existing ContentBlock
// streaming: StreamChunk remains the channel that carries renderable
// content, StreamEvent is a parallel, lossy summary of the same stream.
type StreamEvent struct {
	Kind      StreamEventKind `json:"kind"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Iteration int             `json:"iteration,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Err       error           `json:"-"`
}

// NewIterationStartEvent marks the beginning of a new think-act-observe
// iteration of the reasoning loop.
func NewIterationStartEvent(iteration int) StreamEvent {
	return StreamEvent{Kind: StreamEventIterationStart, Iteration: iteration}
}

// NewDoneEvent marks the terminal, successful end of a turn's stream.
func NewDoneEvent(reason string) StreamEvent {
	return StreamEvent{Kind: StreamEventDone, Reason: reason}
}

// DeriveStreamEvents projects a StreamChunk onto the coarser StreamEvent
// lifecycle, preserving the ordering guarantees of the underlying chunk
// stream: events for a chunk are always returned in the same relative order
// the chunk's own blocks appear in.
func DeriveStreamEvents(chunk StreamChunk) []StreamEvent {
	var events []StreamEvent

	if chunk.Error != "" {
		events = append(events, StreamEvent{Kind: StreamEventError, Reason: chunk.Error, Err: chunk.RawError})
	}

	for _, block := range chunk.ContentBlocks {
		switch block.Type {
		case BlockTypeText:
			events = append(events, StreamEvent{Kind: StreamEventTextDelta})
		case BlockTypeThinking:
			events = append(events, StreamEvent{Kind: StreamEventThinkingDelta})
		}
	}

	for _, call := range chunk.ToolCalls {
		events = append(events, StreamEvent{Kind: StreamEventToolCallStart, ToolName: call.Name, ToolUseID: call.ID})
	}

	if chunk.IsFinal {
		events = append(events, StreamEvent{Kind: StreamEventDone, Reason: chunk.FinishReason})
	}

	return events
}
