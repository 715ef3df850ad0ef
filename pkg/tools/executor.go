package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"genesis/pkg/api"
	"genesis/pkg/llm"
	"log/slog"
	"strings"
	"sync"
)

// ErrorType classifies why a tool call failed, so the LLM (and any retry
// logic upstream) can distinguish "this input was wrong" from "try again"
// from "this tool doesn't exist at all".
type ErrorType string

const (
	ErrorTypeUnknownTool  ErrorType = "unknown_tool"
	ErrorTypeBadArguments ErrorType = "bad_arguments"
	ErrorTypeExecution    ErrorType = "execution_error"
	ErrorTypeCancelled    ErrorType = "cancelled"
	ErrorTypePanic        ErrorType = "panic"
)

// ToolError is the structured failure payload surfaced to the model in place
// of a raw error string, so it can reason about whether/how to retry.
type ToolError struct {
	ErrorType        ErrorType `json:"error_type"`
	ToolName         string    `json:"tool_name"`
	Message          string    `json:"message"`
	RetrySuggestion  string    `json:"retry_suggestion,omitempty"`
	AlternativeTools []string  `json:"alternative_tools,omitempty"`
}

// SerialTool may be implemented by a Tool whose Execute is not safe to run
// concurrently with other invocations of itself (e.g. one that drives a
// single shared desktop/OS session). The Executor serializes calls to any
// tool name reporting true here, even under an otherwise-parallel batch.
type SerialTool interface {
	RequiresSerialExecution() bool
}

// Result is one tool call's outcome, placed at the same index its ToolCall
// held in the input batch.
type Result struct {
	ToolCallID string
	ToolName   string
	Blocks     []llm.ContentBlock
	Err        *ToolError // non-nil only when the call failed
}

// Executor runs a batch of tool calls with a bounded worker pool, guard-rail
// payload truncation, and input-order-preserving result placement.
type Executor struct {
	registry    api.ToolRegistry
	parallelism int
	payloadCap  int

	serialMu sync.Map // tool name -> *sync.Mutex, for SerialTool enforcement
}

// NewExecutor builds an Executor. parallelism <= 0 is treated as 1
// (sequential, the spec's default). payloadCap <= 0 disables truncation.
func NewExecutor(registry api.ToolRegistry, parallelism, payloadCap int) *Executor {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Executor{registry: registry, parallelism: parallelism, payloadCap: payloadCap}
}

// Cancelled is implemented by the caller's interrupt/suspension primitive
// (pkg/agent.Task) so the executor can check it per-call without importing
// pkg/agent.
type Cancelled func() bool

// ExecuteBatch runs every call in calls, honoring the configured
// parallelism ceiling, and returns one Result per call in the same order as
// calls. A cancellation observed before a given call starts is reported as
// an is_error result for that call (and every call after it), rather than
// aborting the batch outright — every call still gets a placed result.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []llm.ToolCall, cancelled Cancelled) []Result {
	results := make([]Result, len(calls))
	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup

	for i, tc := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, tc llm.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()

			if cancelled != nil && cancelled() {
				results[i] = Result{
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
					Blocks:     []llm.ContentBlock{llm.NewErrorBlock("tool call skipped: task cancelled")},
					Err:        &ToolError{ErrorType: ErrorTypeCancelled, ToolName: tc.Name, Message: "task cancelled before this call ran"},
				}
				return
			}

			results[i] = e.executeOne(ctx, tc)
		}(i, tc)
	}

	wg.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, tc llm.ToolCall) (result Result) {
	result = Result{ToolCallID: tc.ID, ToolName: tc.Name}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool execution panicked", "tool", tc.Name, "panic", r)
			result.Blocks = []llm.ContentBlock{llm.NewErrorBlock("internal tool panic")}
			result.Err = &ToolError{ErrorType: ErrorTypePanic, ToolName: tc.Name, Message: fmt.Sprintf("%v", r)}
		}
	}()

	cleanName := strings.TrimPrefix(tc.Name, "functions.")
	tool, ok := e.registry.Get(cleanName)
	if !ok {
		result.Blocks = []llm.ContentBlock{llm.NewErrorBlock(fmt.Sprintf("unknown tool '%s'", tc.Name))}
		result.Err = &ToolError{
			ErrorType:       ErrorTypeUnknownTool,
			ToolName:        tc.Name,
			Message:         fmt.Sprintf("no tool registered with name %q", tc.Name),
			RetrySuggestion: "check the tool catalogue for the exact registered name",
			AlternativeTools: e.similarToolNames(tc.Name),
		}
		return
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		result.Blocks = []llm.ContentBlock{llm.NewErrorBlock(fmt.Sprintf("invalid arguments: %v", err))}
		result.Err = &ToolError{
			ErrorType:       ErrorTypeBadArguments,
			ToolName:        tc.Name,
			Message:         err.Error(),
			RetrySuggestion: "re-emit the call with well-formed JSON arguments matching the tool's schema",
		}
		return
	}

	unlock := e.lockIfSerial(tool)
	defer unlock()

	res, err := tool.Execute(ctx, args)
	if err != nil {
		result.Blocks = []llm.ContentBlock{llm.NewErrorBlock(fmt.Sprintf("tool execution failed: %v", err))}
		toolErr := &ToolError{ErrorType: ErrorTypeExecution, ToolName: tc.Name, Message: err.Error()}
		if retryable(err) {
			toolErr.RetrySuggestion = "this looks like a transient upstream failure; retrying the same call may succeed"
		}
		result.Err = toolErr
		return
	}

	result.Blocks = e.guardTruncate(ConvertToolResult(res))
	return
}

// lockIfSerial returns a no-op unlock func unless tool reports it requires
// serialized execution, in which case it acquires (and returns an unlocker
// for) a per-tool-name mutex.
func (e *Executor) lockIfSerial(tool api.Tool) func() {
	st, ok := tool.(SerialTool)
	if !ok || !st.RequiresSerialExecution() {
		return func() {}
	}

	muAny, _ := e.serialMu.LoadOrStore(tool.Name(), &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// guardTruncate caps the total serialized size of blocks at payloadCap
// bytes, replacing anything past the cap with a single stable marker block
// rather than silently dropping data.
func (e *Executor) guardTruncate(blocks []llm.ContentBlock) []llm.ContentBlock {
	if e.payloadCap <= 0 {
		return blocks
	}

	total := 0
	out := make([]llm.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		size := len(b.Text) + len(b.Data)
		if total+size > e.payloadCap {
			out = append(out, llm.NewTextBlock("[...tool output truncated: exceeded payload guard...]"))
			return out
		}
		total += size
		out = append(out, b)
	}
	return out
}

// retryable reports whether a tool's execution error looks like a
// transient upstream failure (e.g. a tool that itself calls out to an LLM
// or another flaky network dependency), reusing the Router's own error
// classification heuristic rather than inventing a second one.
func retryable(err error) bool {
	switch llm.Classify(err) {
	case llm.ClassTransient, llm.ClassRateLimit, llm.ClassTimeout:
		return true
	default:
		return false
	}
}

func (e *Executor) similarToolNames(name string) []string {
	var out []string
	for _, t := range e.registry.GetAll() {
		if t.Name() != name {
			out = append(out, t.Name())
		}
		if len(out) >= 3 {
			break
		}
	}
	return out
}
