package tools

import (
	"context"
	"errors"
	"genesis/pkg/api"
	"genesis/pkg/llm"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry is a minimal in-memory api.ToolRegistry for exercising the
// Executor without pulling in the real tool implementations.
type fakeRegistry struct {
	tools map[string]api.Tool
}

func newFakeRegistry(tools ...api.Tool) *fakeRegistry {
	r := &fakeRegistry{tools: make(map[string]api.Tool)}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *fakeRegistry) Register(t api.Tool)   { r.tools[t.Name()] = t }
func (r *fakeRegistry) Unregister(name string) { delete(r.tools, name) }
func (r *fakeRegistry) Get(name string) (api.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}
func (r *fakeRegistry) GetAll() []api.Tool {
	out := make([]api.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// delayTool returns its own name after sleeping d, so tests can force
// out-of-order completion and assert the Executor still places results by
// input index.
type delayTool struct {
	name  string
	delay time.Duration
}

func (t *delayTool) Name() string                  { return t.name }
func (t *delayTool) Description() string            { return "test tool" }
func (t *delayTool) Parameters() map[string]any     { return map[string]any{} }
func (t *delayTool) RequiredParameters() []string   { return nil }
func (t *delayTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	time.Sleep(t.delay)
	return &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: t.name}}}, nil
}

// serialTool records concurrent-entry violations into shared via a mutex so
// the test can assert RequiresSerialExecution is actually honored.
type serialTool struct {
	mu      sync.Mutex
	active  int
	violate bool
}

func (t *serialTool) Name() string                { return "serial" }
func (t *serialTool) Description() string          { return "test serial tool" }
func (t *serialTool) Parameters() map[string]any   { return map[string]any{} }
func (t *serialTool) RequiredParameters() []string { return nil }
func (t *serialTool) RequiresSerialExecution() bool { return true }
func (t *serialTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	t.mu.Lock()
	t.active++
	if t.active > 1 {
		t.violate = true
	}
	t.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	t.mu.Lock()
	t.active--
	t.mu.Unlock()
	return &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: "ok"}}}, nil
}

type panicTool struct{}

func (t *panicTool) Name() string                { return "panics" }
func (t *panicTool) Description() string          { return "test panic tool" }
func (t *panicTool) Parameters() map[string]any   { return map[string]any{} }
func (t *panicTool) RequiredParameters() []string { return nil }
func (t *panicTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	panic("boom")
}

func callFor(name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:       "id-" + name,
		Name:     name,
		Function: llm.FunctionCall{Name: name, Arguments: args},
	}
}

func TestExecuteBatchPreservesInputOrderDespiteCompletionOrder(t *testing.T) {
	slow := &delayTool{name: "slow", delay: 30 * time.Millisecond}
	fast := &delayTool{name: "fast", delay: 1 * time.Millisecond}
	reg := newFakeRegistry(slow, fast)
	exec := NewExecutor(reg, 4, 0)

	calls := []llm.ToolCall{callFor("slow", "{}"), callFor("fast", "{}")}
	results := exec.ExecuteBatch(context.Background(), calls, nil)

	require.Len(t, results, 2)
	assert.Equal(t, "slow", results[0].ToolName)
	assert.Equal(t, "fast", results[1].ToolName)
}

func TestExecuteBatchUnknownTool(t *testing.T) {
	reg := newFakeRegistry()
	exec := NewExecutor(reg, 2, 0)

	results := exec.ExecuteBatch(context.Background(), []llm.ToolCall{callFor("missing", "{}")}, nil)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, ErrorTypeUnknownTool, results[0].Err.ErrorType)
}

func TestExecuteBatchBadArguments(t *testing.T) {
	reg := newFakeRegistry(&delayTool{name: "x"})
	exec := NewExecutor(reg, 2, 0)

	results := exec.ExecuteBatch(context.Background(), []llm.ToolCall{callFor("x", "{not json")}, nil)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, ErrorTypeBadArguments, results[0].Err.ErrorType)
}

func TestExecuteBatchRecoversFromPanic(t *testing.T) {
	reg := newFakeRegistry(&panicTool{})
	exec := NewExecutor(reg, 2, 0)

	results := exec.ExecuteBatch(context.Background(), []llm.ToolCall{callFor("panics", "{}")}, nil)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, ErrorTypePanic, results[0].Err.ErrorType)
}

func TestExecuteBatchHonorsCancelledBeforeRunning(t *testing.T) {
	reg := newFakeRegistry(&delayTool{name: "x"})
	exec := NewExecutor(reg, 2, 0)

	cancelled := func() bool { return true }
	results := exec.ExecuteBatch(context.Background(), []llm.ToolCall{callFor("x", "{}")}, cancelled)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, ErrorTypeCancelled, results[0].Err.ErrorType)
}

func TestExecuteBatchSerializesSerialTool(t *testing.T) {
	st := &serialTool{}
	reg := newFakeRegistry(st)
	exec := NewExecutor(reg, 4, 0)

	calls := make([]llm.ToolCall, 5)
	for i := range calls {
		calls[i] = callFor("serial", "{}")
	}
	exec.ExecuteBatch(context.Background(), calls, nil)

	assert.False(t, st.violate, "expected RequiresSerialExecution to prevent concurrent entry into the same tool")
}

func TestExecuteBatchGuardTruncatesOversizedPayload(t *testing.T) {
	oversized := &textTool{name: "big", text: strings.Repeat("x", 1000)}
	reg := newFakeRegistry(oversized)
	exec := NewExecutor(reg, 1, 10) // tiny payload cap

	results := exec.ExecuteBatch(context.Background(), []llm.ToolCall{callFor("big", "{}")}, nil)
	require.Len(t, results[0].Blocks, 1, "expected truncation to collapse to a single marker block")
	assert.Contains(t, results[0].Blocks[0].Text, "truncated")
}

// failingTool always returns the given error from Execute, for testing how
// the Executor classifies execution failures into ToolError.
type failingTool struct {
	name string
	err  error
}

func (t *failingTool) Name() string                { return t.name }
func (t *failingTool) Description() string          { return "test failing tool" }
func (t *failingTool) Parameters() map[string]any   { return map[string]any{} }
func (t *failingTool) RequiredParameters() []string { return nil }
func (t *failingTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	return nil, t.err
}

func TestExecuteBatchFlagsRetrySuggestionForTransientFailure(t *testing.T) {
	reg := newFakeRegistry(&failingTool{name: "flaky", err: errors.New("429 rate limit exceeded")})
	exec := NewExecutor(reg, 1, 0)

	results := exec.ExecuteBatch(context.Background(), []llm.ToolCall{callFor("flaky", "{}")}, nil)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, ErrorTypeExecution, results[0].Err.ErrorType)
	assert.NotEmpty(t, results[0].Err.RetrySuggestion, "expected a rate-limit failure to carry a retry suggestion")
}

func TestExecuteBatchOmitsRetrySuggestionForPermanentFailure(t *testing.T) {
	reg := newFakeRegistry(&failingTool{name: "broken", err: errors.New("no such file or directory")})
	exec := NewExecutor(reg, 1, 0)

	results := exec.ExecuteBatch(context.Background(), []llm.ToolCall{callFor("broken", "{}")}, nil)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, ErrorTypeExecution, results[0].Err.ErrorType)
	assert.Empty(t, results[0].Err.RetrySuggestion, "expected no retry suggestion for a non-transient failure")
}

type textTool struct {
	name string
	text string
}

func (t *textTool) Name() string                { return t.name }
func (t *textTool) Description() string          { return "test text tool" }
func (t *textTool) Parameters() map[string]any   { return map[string]any{} }
func (t *textTool) RequiredParameters() []string { return nil }
func (t *textTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	return &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: t.text}}}, nil
}
