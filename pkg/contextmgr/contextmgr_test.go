package contextmgr

import (
	"context"
	"genesis/pkg/config"
	"genesis/pkg/llm"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokensMonotonicWithLength(t *testing.T) {
	short := EstimateTokens("hello")
	long := EstimateTokens(strings.Repeat("hello world ", 20))
	assert.Greater(t, long, short)
}

func TestEstimateTokensEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokensCJKCountsRoughlyOnePerRune(t *testing.T) {
	cjk := "你好世界你好世界你好世界你好世界"
	ascii := strings.Repeat("a", len([]rune(cjk)))

	cjkTokens := EstimateTokens(cjk)
	asciiTokens := EstimateTokens(ascii)
	assert.Greater(t, cjkTokens, asciiTokens, "expected CJK text to estimate more tokens per rune than ASCII of equal rune count")
}

func TestGroupMessagesKeepsToolCallAndResultTogether(t *testing.T) {
	msgs := []llm.Message{
		llm.NewUserMessage("what's the weather?"),
		{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "weather", Function: llm.FunctionCall{Name: "weather", Arguments: "{}"}},
			},
		},
		{Role: "tool", ToolCallID: "c1", Content: []llm.ContentBlock{llm.NewTextBlock("sunny")}},
		llm.NewAssistantMessage("it's sunny"),
	}

	groups := GroupMessages(msgs)
	require.Len(t, groups, 3, "expected 3 groups (user, assistant+tool, assistant)")
	require.Len(t, groups[1].Messages, 2, "expected the tool-call group to absorb its tool-result message")
	assert.Equal(t, "assistant", groups[1].Messages[0].Role)
	assert.Equal(t, "tool", groups[1].Messages[1].Role)
}

func TestGroupMessagesAbsorbsMultipleToolResults(t *testing.T) {
	msgs := []llm.Message{
		{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "a", Function: llm.FunctionCall{Name: "a", Arguments: "{}"}},
				{ID: "c2", Name: "b", Function: llm.FunctionCall{Name: "b", Arguments: "{}"}},
			},
		},
		{Role: "tool", ToolCallID: "c1"},
		{Role: "tool", ToolCallID: "c2"},
		llm.NewUserMessage("next turn"),
	}

	groups := GroupMessages(msgs)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Messages, 3, "expected the first group to absorb both tool results")
}

// fakeSummarizer is a minimal llm.LLMClient that echoes back a fixed summary
// string as a single text chunk, for exercising Manager.Compress without a
// real provider.
type fakeSummarizer struct {
	reply string
}

func (f *fakeSummarizer) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.NewTextChunk(f.reply)
	close(ch)
	return ch, nil
}
func (f *fakeSummarizer) IsTransientError(err error) bool { return false }
func (f *fakeSummarizer) Provider() string                { return "fake" }

func testSysCfg(keepRecent int) *config.SystemConfig {
	return &config.SystemConfig{HistoryKeepRecentCount: keepRecent}
}

func TestManagerCompressPreservesGroupAtomicity(t *testing.T) {
	msgs := []llm.Message{
		llm.NewUserMessage("turn 1"),
		{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "lookup", Function: llm.FunctionCall{Name: "lookup", Arguments: "{}"}},
			},
		},
		{Role: "tool", ToolCallID: "c1", Content: []llm.ContentBlock{llm.NewTextBlock("result")}},
		llm.NewUserMessage("turn 2"),
		llm.NewAssistantMessage("reply 2"),
	}

	mgr := NewManager(&fakeSummarizer{reply: "summary so far"}, testSysCfg(1))
	summary, kept, err := mgr.Compress(context.Background(), "", msgs)
	require.NoError(t, err)
	assert.Equal(t, "summary so far", summary, "expected the summarizer's output to become the new summary")

	// Only the last group (keepGroups=1) should remain, and it must not be
	// split mid-tool-batch: the kept tail below is the final assistant
	// message, the dropped head includes the intact tool-call/tool-result pair.
	for _, m := range kept {
		assert.NotEqual(t, "tool", m.Role, "tool-result message leaked into the kept tail: %+v", m)
	}
}

func TestManagerShouldCompressRespectsKeepCount(t *testing.T) {
	sysCfg := testSysCfg(5)
	mgr := NewManager(&fakeSummarizer{}, sysCfg)

	msgs := make([]llm.Message, 3)
	for i := range msgs {
		msgs[i] = llm.NewUserMessage("hi")
	}
	assert.False(t, mgr.ShouldCompress(msgs, nil), "expected history shorter than keep-count to never need compression")
}

func TestManagerShouldCompressOnTokenUsage(t *testing.T) {
	sysCfg := testSysCfg(1)
	sysCfg.HistoryMaxTokens = 100
	mgr := NewManager(&fakeSummarizer{}, sysCfg)

	msgs := make([]llm.Message, 3)
	for i := range msgs {
		msgs[i] = llm.NewUserMessage("hi")
	}
	usage := &llm.LLMUsage{TotalTokens: 150}
	assert.True(t, mgr.ShouldCompress(msgs, usage), "expected usage exceeding HistoryMaxTokens to trigger compression")
}
