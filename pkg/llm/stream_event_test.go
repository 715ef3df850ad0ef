package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveStreamEventsOrdersTextThenToolCallThenDone(t *testing.T) {
	chunk := StreamChunk{
		ContentBlocks: []ContentBlock{NewTextBlock("hi")},
		ToolCalls:     []ToolCall{{ID: "t1", Name: "search"}},
		IsFinal:       true,
		FinishReason:  "tool_calls",
	}
	events := DeriveStreamEvents(chunk)
	require.Len(t, events, 3, "expected 3 events (text, tool call, done)")
	assert.Equal(t, StreamEventTextDelta, events[0].Kind)
	assert.Equal(t, StreamEventToolCallStart, events[1].Kind)
	assert.Equal(t, "search", events[1].ToolName)
	assert.Equal(t, "t1", events[1].ToolUseID)
	assert.Equal(t, StreamEventDone, events[2].Kind)
	assert.Equal(t, "tool_calls", events[2].Reason)
}

func TestDeriveStreamEventsEmitsErrorEvent(t *testing.T) {
	raw := errors.New("boom")
	chunk := NewErrorChunk("provider exploded", raw, true)
	events := DeriveStreamEvents(chunk)
	require.NotEmpty(t, events)
	assert.Equal(t, StreamEventError, events[0].Kind)
	assert.Same(t, raw, events[0].Err, "expected the error event to carry the underlying raw error")
}

func TestDeriveStreamEventsThinkingOnlyChunkYieldsNoExtraEvents(t *testing.T) {
	chunk := NewThinkingChunk("pondering")
	events := DeriveStreamEvents(chunk)
	require.Len(t, events, 1)
	assert.Equal(t, StreamEventThinkingDelta, events[0].Kind)
}

func TestDeriveStreamEventsEmptyChunkYieldsNoEvents(t *testing.T) {
	assert.Empty(t, DeriveStreamEvents(StreamChunk{}))
}
