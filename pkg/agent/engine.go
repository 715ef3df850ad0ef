package agent

import (
	"context"
	"fmt"
	"genesis/pkg/api"
	"genesis/pkg/config"
	"genesis/pkg/contextmgr"
	"genesis/pkg/llm"
	"genesis/pkg/prompt"
	"genesis/pkg/tools"
	"genesis/pkg/utils"
	"log/slog"
	"maps"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AgentEngine manages the core reasoning loop, including LLM communication,
// tool execution, and recursive turn handling.
// It implements api.AgentEngine.
type AgentEngine struct {
	client       llm.LLMClient
	responder    api.MessageResponder
	sysCfg       *config.SystemConfig
	appCfg       *config.Config
	toolRegistry api.ToolRegistry
	sessions     *llm.SessionManager
	tasks        *TaskRegistry
	ctxMgr       *contextmgr.Manager
	executor     *tools.Executor
	eventSink    func(api.SessionContext, llm.StreamEvent)
}

// SetEventSink registers a callback that receives each StreamEvent derived
// from the stream alongside its normal ContentBlock delivery, for observers
// that only care about turn lifecycle (progress UI, metrics, audit logs).
// Optional: a nil sink (the default) means events are derived and discarded.
func (e *AgentEngine) SetEventSink(sink func(api.SessionContext, llm.StreamEvent)) {
	e.eventSink = sink
}

// NewAgentEngine initializes a new AgentEngine with config managers. The
// context compressor defaults to reusing the primary reasoning client; call
// SetCompiler to point it at a dedicated, typically cheaper, summarization
// endpoint instead.
func NewAgentEngine(
	client llm.LLMClient,
	appCfg *config.Config,
	sysCfg *config.SystemConfig,
	sessions *llm.SessionManager,
) *AgentEngine {
	return &AgentEngine{
		client:   client,
		appCfg:   appCfg,
		sysCfg:   sysCfg,
		sessions: sessions,
		tasks:    NewTaskRegistry(),
		ctxMgr:   contextmgr.NewManager(client, sysCfg),
	}
}

// SetCompiler replaces the context manager's summarization client, used
// when Config.CompilerEndpoints configures a dedicated compression model.
func (e *AgentEngine) SetCompiler(client llm.LLMClient) {
	e.ctxMgr = contextmgr.NewManager(client, e.sysCfg)
}

// CancelSession requests that the currently-running task for a session (if
// any) stop at its next suspension point. It is a no-op if the session has
// no active task.
func (e *AgentEngine) CancelSession(sessionID string) bool {
	t, ok := e.tasks.Active(sessionID)
	if !ok {
		return false
	}
	t.Cancel()
	return true
}

// InsertIntoSession queues a synthetic message into the session's active
// task, to be spliced into history before its next LLM call. Returns false
// if the session has no active task (callers typically fall back to
// injecting the message as a fresh HandleMessage call in that case).
func (e *AgentEngine) InsertIntoSession(sessionID string, msg llm.Message) bool {
	t, ok := e.tasks.Active(sessionID)
	if !ok {
		return false
	}
	t.Insert(msg)
	return true
}

// SetResponder sets the messaging interface used by the engine to send replies.
func (e *AgentEngine) SetResponder(responder api.MessageResponder) {
	e.responder = responder
}

// SetToolRegistry sets the tool registry used by the engine for tool execution.
func (e *AgentEngine) SetToolRegistry(tr api.ToolRegistry) {
	e.toolRegistry = tr
}

// RegisterTool adds one or more tools to the engine's registry.
// It automatically initializes the registry if it's currently nil.
func (e *AgentEngine) RegisterTool(tl ...api.Tool) {
	if e.toolRegistry == nil {
		e.toolRegistry = tools.NewToolRegistry()
	}
	for _, t := range tl {
		e.toolRegistry.Register(t)
	}
}

// HandleMessage is the primary entry point for processing an user message in the engine.
func (e *AgentEngine) HandleMessage(ctx context.Context, msg *api.UnifiedMessage, history *llm.ChatHistory) llm.Message {
	sessionID := llm.BuildSessionID(msg.Session.ChannelID, msg.Session.ChatID, msg.Session.UserID)

	e.ensureSystemPrompt(history)

	if strings.HasPrefix(msg.Content, "/") {
		return e.handleSlashCommand(ctx, msg, history, sessionID)
	}

	userMsg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      "user",
		Content:   []llm.ContentBlock{},
		Timestamp: time.Now().Unix(),
	}

	if msg.Content != "" {
		userMsg.Content = append(userMsg.Content, llm.NewTextBlock(msg.Content))
	}

	for _, file := range msg.Files {
		if file.Path != "" {
			userMsg.Content = append(userMsg.Content, llm.NewImageBlockFromFile(file.Path, file.MimeType))
			slog.InfoContext(ctx, "Attached file from disk", "name", file.Filename, "mime", file.MimeType, "path", file.Path)
		} else {
			userMsg.Content = append(userMsg.Content, llm.NewImageBlock(file.Data, file.MimeType))
			slog.InfoContext(ctx, "Attached file inline", "name", file.Filename, "mime", file.MimeType, "bytes", len(file.Data))
		}
	}

	history.Add(userMsg)
	e.sessions.SaveSession(sessionID)

	task := NewTask(sessionID, e.sysCfg.LoopSignatureWindow, e.sysCfg.LoopSignatureThreshold)
	e.tasks.Start(task)
	defer e.tasks.Finish(task)

	assistantMsg := e.ProcessLLMStream(ctx, msg, history, task)

	if len(assistantMsg.Content) > 0 {
		history.Add(assistantMsg)
		e.sessions.SaveSession(sessionID)
	}

	e.maybeSummarize(ctx, sessionID, history, assistantMsg.Usage)
	return assistantMsg
}

// ensureSystemPrompt ensures that the initial system prompt is present in
// the ChatHistory. It assembles the identity/behaviour text from
// Config.SystemPrompt together with the running conversation summary
// (treated as the "retrieved memory" section) under the engine's prompt
// token budget, so a long summary degrades gracefully instead of pushing
// the model's effective context window past its limit.
func (e *AgentEngine) ensureSystemPrompt(history *llm.ChatHistory) {
	assembler := prompt.NewAssembler(e.sysCfg.PromptTokenBudget)

	sections := []prompt.Section{
		{Kind: prompt.SectionIdentity, Text: e.appCfg.SystemPrompt},
	}
	if summary := history.GetSummary(); summary != "" {
		sections = append(sections, prompt.Section{Kind: prompt.SectionMemory, Text: "[CONVERSATION SUMMARY]\n" + summary})
	}

	text, truncated := assembler.Assemble(sections)
	prompt.LogTruncations(truncated)

	if text != "" {
		history.EnsureSystemMessage(text)
	}
}

// handleSlashCommand parses and executes manual "slash" commands entered by the user.
func (e *AgentEngine) handleSlashCommand(ctx context.Context, msg *api.UnifiedMessage, history *llm.ChatHistory, sessionID string) llm.Message {
	parts := strings.SplitN(strings.TrimPrefix(msg.Content, "/"), " ", 3)
	if len(parts) < 2 {
		e.responder.SendReply(msg.Session, "❌ Format error. Please use: /[tool_name] [action] [JSON_params(optional)]\nExample: `/os list_desktop` or `/os run_command {\"command\":\"dir\"}`")
		return llm.Message{}
	}

	toolName := parts[0]
	action := parts[1]

	if toolName == "notools" {
		msg.NoTools = true
		msg.Content = action
		if len(parts) > 2 {
			msg.Content += " " + parts[2]
		}

		task := NewTask(sessionID, e.sysCfg.LoopSignatureWindow, e.sysCfg.LoopSignatureThreshold)
		e.tasks.Start(task)
		defer e.tasks.Finish(task)

		assistantMsg := e.ProcessLLMStream(ctx, msg, history, task)
		if len(assistantMsg.Content) > 0 {
			history.Add(assistantMsg)
			e.sessions.SaveSession(sessionID)
		}
		return assistantMsg
	}

	var params map[string]any
	if len(parts) > 2 {
		if err := json.Unmarshal([]byte(parts[2]), &params); err != nil {
			if (toolName == "os" || toolName == "os_control") && action == "run_command" {
				params = map[string]any{"command": parts[2]}
			} else {
				e.responder.SendReply(msg.Session, fmt.Sprintf("❌ Parameter parsing failed: %v", err))
				return llm.Message{}
			}
		}
	} else {
		params = make(map[string]any)
	}

	args := make(map[string]any)
	args["action"] = action
	maps.Copy(args, params)

	tool, ok := e.toolRegistry.Get(toolName)
	if !ok {
		tool, ok = e.toolRegistry.Get(toolName + "_control")
		if !ok {
			e.responder.SendReply(msg.Session, fmt.Sprintf("❌ Tool not found: %s", toolName))
			return llm.Message{}
		}
	}

	e.responder.SendReply(msg.Session, fmt.Sprintf("🛠️ Manually executing tool: %s/%s...", toolName, action))

	res, err := tool.Execute(ctx, args)
	if err != nil {
		e.responder.SendReply(msg.Session, fmt.Sprintf("❌ Execution error: %v", err))
		return llm.Message{}
	}

	resBlocks := ConvertToolResult(res)
	e.StreamBlocks(ctx, msg.Session, resBlocks)

	return llm.Message{
		ID:        utils.GenerateID(),
		Role:      "assistant",
		Content:   resBlocks,
		Timestamp: time.Now().Unix(),
	}
}

// maybeSummarize triggers group-atomic context compression via ctxMgr once
// the session history crosses any configured size threshold.
func (e *AgentEngine) maybeSummarize(ctx context.Context, sessionID string, history *llm.ChatHistory, usage *llm.LLMUsage) {
	msgs := history.GetMessages()
	if !e.ctxMgr.ShouldCompress(msgs, usage) {
		return
	}

	slog.InfoContext(ctx, "Triggering context compression", "session", sessionID, "messages", len(msgs))

	summary, keep, err := e.ctxMgr.Compress(ctx, history.GetSummary(), msgs)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to compress session context", "session", sessionID, "error", err)
		return
	}

	history.SetSummary(summary)
	history.Replace(keep)
	e.sessions.SaveSession(sessionID)
	contextmgr.LogCompression(ctx, sessionID, len(msgs), len(keep))
}

// rotateEndpointOnStuckLoop asks the Router to try a different endpoint on
// the next turn when the loop guard trips. A repeated-call loop is as likely
// to be a model-specific failure mode as a prompt problem, so giving the next
// turn a fresh provider is a cheap way to unstick the conversation without
// waiting for that endpoint to actually error. A no-op when the engine isn't
// backed by a Router (e.g. a single bare LLMClient in tests).
func (e *AgentEngine) rotateEndpointOnStuckLoop(ctx context.Context, sessionID string) {
	router, ok := e.client.(*llm.Router)
	if !ok {
		return
	}
	router.Rotate()
	slog.InfoContext(ctx, "Rotated to a different endpoint after loop guard trip", "session", sessionID)
}

// ProcessLLMStream manages the core Agentic reasoning loop including streaming
// response forwarding, tool execution recursion, and error recovery. Each
// call represents one think-act-observe iteration of task; the caller owns
// the Task for its full lifetime so suspension-point polling (cancel/skip)
// and the iteration ceiling survive across the recursive tool-call rounds.
func (e *AgentEngine) ProcessLLMStream(ctx context.Context, msg *api.UnifiedMessage, history *llm.ChatHistory, task *Task) llm.Message {
	if task.Cancelled() {
		e.responder.SendReply(msg.Session, "⏹️ 已停止")
		return cancelledMessage()
	}

	sysCfg := e.sysCfg
	iteration := task.NextIteration()
	if max := sysCfg.MaxIterations; max > 0 && iteration > max {
		slog.WarnContext(ctx, "Reasoning loop hit iteration ceiling", "session", task.SessionID, "max", max)
		e.responder.SendReply(msg.Session, "⚠️ Reached the maximum number of reasoning steps for this turn.")
		return llm.Message{
			ID:        utils.GenerateID(),
			Role:      "assistant",
			Content:   []llm.ContentBlock{llm.NewErrorBlock("Iteration ceiling reached")},
			Timestamp: time.Now().Unix(),
		}
	}
	if e.eventSink != nil {
		e.eventSink(msg.Session, llm.NewIterationStartEvent(iteration))
	}

	for _, m := range task.DrainInserts() {
		history.Add(m)
	}

	timeout := time.Duration(sysCfg.LLMTimeoutMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Inject native tools; clients will format them appropriately
	var availableTools []llm.Tool
	if sysCfg.EnableTools && !msg.NoTools {
		apiTools := e.toolRegistry.GetAll()
		availableTools = make([]llm.Tool, len(apiTools))
		for i, t := range apiTools {
			availableTools[i] = t
		}
	}

	chunkCh, err := e.client.StreamChat(runCtx, history.GetMessages(), availableTools)

	if err != nil {
		slog.ErrorContext(runCtx, "LLM stream init failed", "error", err)
		errMsg := fmt.Sprintf("Error during stream initiation: %v", err)
		e.responder.SendReply(msg.Session, "❌ "+errMsg)

		return llm.Message{
			ID:        utils.GenerateID(),
			Role:      "assistant",
			Content:   []llm.ContentBlock{llm.NewErrorBlock(errMsg)},
			Timestamp: time.Now().Unix(),
		}
	}

	blockCh := make(chan llm.ContentBlock, 100)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := e.responder.StreamReply(msg.Session, blockCh); err != nil {
			slog.ErrorContext(runCtx, "Failed to stream reply", "error", err)
		}
	}()

	closed := false
	safeClose := func() {
		if !closed {
			close(blockCh)
			<-streamDone
			closed = true
		}
	}
	defer safeClose()

	assistantMsg, streamErr := e.CollectChunks(runCtx, msg.Session, chunkCh, blockCh)
	safeClose()

	// --- Tool Execution Logic ---
	if len(assistantMsg.ToolCalls) > 0 {
		sessionID := llm.BuildSessionID(msg.Session.ChannelID, msg.Session.ChatID, msg.Session.UserID)
		history.Add(assistantMsg)
		e.sessions.SaveSession(sessionID)

		if task.ObserveToolCalls(assistantMsg.ToolCalls) {
			slog.WarnContext(ctx, "Loop guard tripped, aborting turn", "session", sessionID)
			e.rotateEndpointOnStuckLoop(ctx, sessionID)
			e.responder.SendReply(msg.Session, "⚠️ Detected a repeated tool-call loop; stopping this turn.")
			return llm.Message{
				ID:        utils.GenerateID(),
				Role:      "assistant",
				Content:   []llm.ContentBlock{llm.NewErrorBlock("Loop guard aborted the turn")},
				Timestamp: time.Now().Unix(),
			}
		}

		if task.Cancelled() {
			e.responder.SendReply(msg.Session, "⏹️ 已停止")
			return cancelledMessage()
		}

		if task.ConsumeSkip() {
			slog.InfoContext(ctx, "Tool batch skipped by request", "session", sessionID)
			e.skipToolBatch(ctx, assistantMsg.ToolCalls, history)
		} else {
			e.RunToolBatch(ctx, assistantMsg.ToolCalls, msg, history, task.Cancelled)
		}

		e.sessions.SaveSession(sessionID)
		return e.ProcessLLMStream(ctx, msg, history, task)
	}

	reason := "UNKNOWN"
	if assistantMsg.Usage != nil {
		reason = assistantMsg.Usage.StopReason
	}

	hasContent, hasThinking, preview := SummarizeContent(assistantMsg)
	isNormal := streamErr == nil && (hasContent || hasThinking) && (reason == llm.StopReasonStop || reason == "UNKNOWN")

	if !isNormal {
		if reason == llm.StopReasonLength {
			slog.InfoContext(runCtx, "Response truncated by length limit", "thinking", hasThinking, "content", hasContent)
			e.responder.SendReply(msg.Session, "⚠️ Response truncated due to length limit.")
			return assistantMsg
		}

		if retried := e.AttemptRetry(ctx, msg, reason, streamErr, preview); retried {
			safeClose()
			return e.ProcessLLMStream(ctx, msg, history, task)
		}

		if streamErr != nil {
			assistantMsg.AddContentBlock(llm.NewErrorBlock(fmt.Sprintf("\n❌ Stream error: %v", streamErr)))
		} else if !hasContent && !hasThinking {
			assistantMsg.AddContentBlock(llm.NewErrorBlock(fmt.Sprintf("\n❌ Abnormal response: %s", reason)))
		}
	}

	return assistantMsg
}

// cancelledMessage builds the single terminal assistant message returned
// when a task is cancelled at a suspension point.
func cancelledMessage() llm.Message {
	return llm.Message{
		ID:        utils.GenerateID(),
		Role:      "assistant",
		Content:   []llm.ContentBlock{llm.NewErrorBlock("Cancelled")},
		Timestamp: time.Now().Unix(),
		Usage:     &llm.LLMUsage{StopReason: llm.StopReasonCancelled},
	}
}

// CollectChunks is an auxiliary method dedicated to consuming a StreamChunk channel.
func (e *AgentEngine) CollectChunks(ctx context.Context, session api.SessionContext, chunkCh <-chan llm.StreamChunk, blockCh chan<- llm.ContentBlock) (llm.Message, error) {
	msg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      "assistant",
		Content:   []llm.ContentBlock{},
		Timestamp: time.Now().Unix(),
	}
	var lastError error

	sysCfg := e.sysCfg
	delay := time.Duration(sysCfg.ThinkingInitDelayMs) * time.Millisecond
	thinkingTimer := time.NewTimer(delay)
	defer thinkingTimer.Stop()
	timerChan := thinkingTimer.C

	for {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				return msg, lastError
			}
			if chunk.RawError != nil {
				return msg, chunk.RawError
			}

			if thinkingTimer != nil {
				thinkingTimer.Stop()
				thinkingTimer = nil
				timerChan = nil
			}

			e.ProcessChunk(ctx, session, chunk, &msg, blockCh)

			if chunk.IsFinal {
				return msg, lastError
			}

		case <-timerChan:
			e.responder.SendSignal(session, "thinking")
			timerChan = nil
		}
	}
}

// ensureExecutor lazily builds the tool Executor against the engine's
// current registry. Built lazily (rather than in NewAgentEngine) because
// the registry is commonly populated afterwards via RegisterTool.
func (e *AgentEngine) ensureExecutor() *tools.Executor {
	if e.executor == nil {
		e.executor = tools.NewExecutor(e.toolRegistry, e.sysCfg.ToolParallelism, e.sysCfg.ToolPayloadGuardBytes)
	}
	return e.executor
}

// RunToolBatch dispatches every call in a batch through the Executor's
// bounded worker pool, then commits each result to history and streams it
// to the user in the batch's original order — the commit/stream side
// effects stay sequential even though execution itself may run in
// parallel, so the user-visible ordering never depends on which call
// happened to finish first.
func (e *AgentEngine) RunToolBatch(ctx context.Context, calls []llm.ToolCall, msg *api.UnifiedMessage, history *llm.ChatHistory, cancelled tools.Cancelled) {
	results := e.ensureExecutor().ExecuteBatch(ctx, calls, cancelled)

	for _, r := range results {
		if r.Err != nil {
			slog.WarnContext(ctx, "Tool call failed", "tool", r.ToolName, "error_type", r.Err.ErrorType, "message", r.Err.Message)
		}

		toolResMsg := llm.Message{
			ID:         utils.GenerateID(),
			Role:       "tool",
			ToolCallID: r.ToolCallID,
			ToolName:   r.ToolName,
			Content:    r.Blocks,
			Timestamp:  time.Now().Unix(),
		}
		history.Add(toolResMsg)

		e.responder.SendSignal(msg.Session, "role:system")
		e.StreamBlocks(ctx, msg.Session, r.Blocks)
	}
}

// skipToolBatch handles a user-requested skip of a pending tool-call batch.
// The assistant's tool_use blocks are already committed to history by the
// caller, so every pending call still needs a matching tool-result message
// before the next StreamChat round — otherwise history ends in a tool_use
// with no tool_result, which both Anthropic's and OpenAI's wire dialects
// reject outright.
func (e *AgentEngine) skipToolBatch(ctx context.Context, calls []llm.ToolCall, history *llm.ChatHistory) {
	for _, c := range calls {
		history.Add(llm.Message{
			ID:         utils.GenerateID(),
			Role:       "tool",
			ToolCallID: c.ID,
			ToolName:   c.Name,
			Content:    []llm.ContentBlock{llm.NewTextBlock("user skipped this step")},
			Timestamp:  time.Now().Unix(),
		})
	}
}

// StreamBlocks is a utility to pipe a slice of content blocks into the gateway's stream.
func (e *AgentEngine) StreamBlocks(ctx context.Context, session api.SessionContext, blocks []llm.ContentBlock) {
	if len(blocks) == 0 {
		return
	}
	resCh := make(chan llm.ContentBlock, len(blocks))
	for _, b := range blocks {
		resCh <- b
	}
	close(resCh)
	if err := e.responder.StreamReply(session, resCh); err != nil {
		slog.ErrorContext(ctx, "Failed to stream blocks", "error", err)
	}
}

// ProcessChunk handles the low-level parsing of a single LLM StreamChunk. It
// also derives the chunk's coarse-grained StreamEvent lifecycle notifications
// and forwards them to the registered event sink, alongside the ContentBlock
// delivery on blockCh.
func (e *AgentEngine) ProcessChunk(ctx context.Context, session api.SessionContext, chunk llm.StreamChunk, msg *llm.Message, blockCh chan<- llm.ContentBlock) {
	if e.eventSink != nil {
		for _, ev := range llm.DeriveStreamEvents(chunk) {
			e.eventSink(session, ev)
		}
	}

	if chunk.Error != "" {
		errorMsg := fmt.Sprintf("\n❌ %s", chunk.Error)
		msg.AddContentBlock(llm.NewErrorBlock(errorMsg))
		blockCh <- llm.NewErrorBlock(errorMsg)
	}

	for _, block := range chunk.ContentBlocks {
		msg.AddContentBlock(block)

		switch block.Type {
		case llm.BlockTypeText:
			blockCh <- block
		case llm.BlockTypeThinking:
			if e.sysCfg.ShowThinking {
				blockCh <- block
			}
		case llm.BlockTypeImage:
			blockCh <- block
		}
	}

	if len(chunk.ToolCalls) > 0 {
		msg.ToolCalls = append(msg.ToolCalls, chunk.ToolCalls...)
	}

	if chunk.Usage != nil {
		msg.Usage = chunk.Usage
	}
}

// AttemptRetry checks if a retry is allowed and, if so, increments the counter.
func (e *AgentEngine) AttemptRetry(ctx context.Context, msg *api.UnifiedMessage, reason string, streamErr error, preview string) bool {
	if streamErr != nil && !e.client.IsTransientError(streamErr) {
		slog.ErrorContext(ctx, "Non-transient error, skipping retry", "error", streamErr)
		e.responder.SendReply(msg.Session, fmt.Sprintf("❌ %v", streamErr))
		return false
	}

	sysCfg := e.sysCfg
	maxRetries := sysCfg.MaxRetries
	if msg.RetryCount >= maxRetries {
		slog.ErrorContext(ctx, "Max retries reached", "max", maxRetries, "reason", reason, "error", streamErr)
		e.responder.SendReply(msg.Session, "❌ AI response remains abnormal, please try rephrasing or restarting the conversation.")
		return false
	}

	msg.RetryCount++
	slog.WarnContext(ctx, "Abnormal response, retrying",
		"reason", reason,
		"error", streamErr,
		"preview", preview,
		"has_content", preview != "",
		"retry", fmt.Sprintf("%d/%d", msg.RetryCount, maxRetries),
	)

	retryNotice := fmt.Sprintf("⚠️ Abnormal response (%s), attempting automatic fix (%d/%d)...", reason, msg.RetryCount, maxRetries)
	if streamErr != nil {
		retryNotice = fmt.Sprintf("⚠️ Connection error (%v), attempting automatic recovery (%d/%d)...", streamErr, msg.RetryCount, maxRetries)
	}
	e.responder.SendReply(msg.Session, retryNotice)

	time.Sleep(time.Duration(sysCfg.RetryDelayMs) * time.Millisecond)
	return true
}

// SummarizeContent performs a single pass over the message to derive content info.
func SummarizeContent(msg llm.Message) (hasContent, hasThinking bool, preview string) {
	var sb strings.Builder
	sb.Grow(100)

	for _, b := range msg.Content {
		if b.Type == llm.BlockTypeThinking && len(b.Text) > 0 {
			hasThinking = true
		} else if b.Type == llm.BlockTypeText && len(b.Text) > 0 {
			hasContent = true
			if sb.Len() < 100 {
				remaining := 100 - sb.Len()
				if len(b.Text) > remaining {
					sb.WriteString(b.Text[:remaining])
				} else {
					sb.WriteString(b.Text)
				}
			}
		}
	}

	preview = sb.String()
	if len(preview) >= 100 {
		preview += "..."
	}
	return
}

// ConvertToolResult transforms a api.ToolResult into a slice of llm.ContentBlock.
// Kept as a thin alias so existing call sites in this package don't need to
// change; the real implementation now lives in pkg/tools so the Executor
// (which cannot import pkg/agent without a cycle) can share it too.
func ConvertToolResult(res *api.ToolResult) []llm.ContentBlock {
	return tools.ConvertToolResult(res)
}
