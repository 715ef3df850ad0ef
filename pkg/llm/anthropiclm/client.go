// Package anthropiclm implements the llm.LLMClient contract against the
// Anthropic Messages API. No example repo in the corpus vendors an
// official Anthropic Go SDK (see DESIGN.md), so this client speaks the
// documented REST/SSE wire format directly with net/http and
// encoding/json, following the same structural shape (provider struct,
// StreamChat goroutine pushing llm.StreamChunk, convertMessages/convertTools
// helpers) as the openailm and gemini clients.
package anthropiclm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"genesis/pkg/llm"
	"io"
	"net/http"
	"strings"
)

const defaultBaseURL = "https://api.anthropic.com/v1/messages"
const anthropicVersion = "2023-06-01"
const defaultMaxTokens = 4096

// Client speaks the Anthropic Messages API's streaming SSE protocol.
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	provider   string
	debug      bool
}

// NewClient builds an anthropiclm Client. options may set "max_tokens" to
// override the default response cap.
func NewClient(apiKey, model, baseURL string, options map[string]any) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxTokens := defaultMaxTokens
	if options != nil {
		if v, ok := options["max_tokens"].(float64); ok && v > 0 {
			maxTokens = int(v)
		}
	}

	return &Client{
		httpClient: &http.Client{Timeout: 0}, // caller drives cancellation via ctx
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		provider:   "anthropic",
	}
}

func (c *Client) Provider() string { return c.provider }

// IsTransientError classifies connection resets, timeouts, and Anthropic's
// documented overloaded/rate-limit responses as retry-worthy.
func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "connection reset", "connection refused", "context deadline exceeded", "overloaded", "rate_limit", "529", "503"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// wire request/response shapes, named to match the documented API fields.

type wireMessage struct {
	Role    string             `json:"role"`
	Content []wireContentBlock `json:"content"`
}

type wireContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *wireImageSrc   `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireImageSrc struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

// StreamChat issues one streaming Messages API call and translates its SSE
// event stream into llm.StreamChunk values.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, availableTools []llm.Tool) (<-chan llm.StreamChunk, error) {
	system, converted := convertMessages(messages)

	req := wireRequest{
		Model:     c.model,
		Messages:  converted,
		System:    system,
		MaxTokens: c.maxTokens,
		Stream:    true,
	}
	if len(availableTools) > 0 {
		req.Tools = convertTools(availableTools)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic request failed (%d): %s", resp.StatusCode, string(payload))
	}

	chunkCh := make(chan llm.StreamChunk, 100)
	go c.consumeStream(resp.Body, chunkCh)
	return chunkCh, nil
}

// sseEvent mirrors the subset of Anthropic's streaming event payloads this
// client interprets: message_start/delta/stop bracket the response,
// content_block_start/delta/stop carry incremental text, thinking, and
// tool-input JSON fragments.
type sseEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *wireContentBlock `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`

	Message *struct {
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
}

func (c *Client) consumeStream(body io.ReadCloser, chunkCh chan<- llm.StreamChunk) {
	defer close(chunkCh)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var activeTool *llm.ToolCall
	var toolArgsBuf strings.Builder
	var usage *llm.LLMUsage
	stopReason := llm.StopReasonStop

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				activeTool = &llm.ToolCall{
					ID:   ev.ContentBlock.ID,
					Name: ev.ContentBlock.Name,
				}
				toolArgsBuf.Reset()
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				chunkCh <- llm.NewTextChunk(ev.Delta.Text)
			case "thinking_delta":
				chunkCh <- llm.NewThinkingChunk(ev.Delta.Thinking)
			case "input_json_delta":
				toolArgsBuf.WriteString(ev.Delta.PartialJSON)
			}

		case "content_block_stop":
			if activeTool != nil {
				activeTool.Function = llm.FunctionCall{Name: activeTool.Name, Arguments: toolArgsBuf.String()}
				chunkCh <- llm.StreamChunk{ToolCalls: []llm.ToolCall{*activeTool}}
				activeTool = nil
			}

		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				stopReason = normalizeStopReason(ev.Delta.StopReason)
			}
			if ev.Usage != nil {
				usage = &llm.LLMUsage{
					PromptTokens:     ev.Usage.InputTokens,
					CompletionTokens: ev.Usage.OutputTokens,
					TotalTokens:      ev.Usage.InputTokens + ev.Usage.OutputTokens,
					StopReason:       stopReason,
				}
			}

		case "message_stop":
			chunkCh <- llm.NewFinalChunk(stopReason, usage)
			return

		case "error":
			chunkCh <- llm.NewErrorChunk(payload, fmt.Errorf("anthropic stream error: %s", payload), true)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		chunkCh <- llm.NewErrorChunk(fmt.Sprintf("stream read error: %v", err), err, true)
		return
	}

	// Stream ended without an explicit message_stop (connection closed
	// early); still surface whatever usage/reason we accumulated.
	chunkCh <- llm.NewFinalChunk(stopReason, usage)
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.StopReasonStop
	case "max_tokens":
		return llm.StopReasonLength
	case "tool_use":
		return llm.StopReasonToolUse
	default:
		return reason
	}
}

// convertMessages splits out any leading system message (Anthropic takes
// system as a top-level request field, not a message) and translates the
// rest into Anthropic's role/content-block shape. Tool-role messages
// become user-role tool_result blocks, and assistant tool calls become
// tool_use blocks, per the documented protocol.
func convertMessages(messages []llm.Message) (system string, out []wireMessage) {
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.GetTextContent()
			continue
		}

		if m.Role == "tool" {
			out = append(out, wireMessage{
				Role: "user",
				Content: []wireContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.GetTextContent(),
				}},
			})
			continue
		}

		role := m.Role
		var blocks []wireContentBlock

		for _, b := range m.Content {
			switch b.Type {
			case llm.BlockTypeText:
				blocks = append(blocks, wireContentBlock{Type: "text", Text: b.Text})
			case llm.BlockTypeImage:
				if b.Source != nil && b.Source.Type == "base64" {
					blocks = append(blocks, wireContentBlock{
						Type: "image",
						Source: &wireImageSrc{
							Type:      "base64",
							MediaType: b.Source.MediaType,
							Data:      base64.StdEncoding.EncodeToString(b.Source.Data),
						},
					})
				} else {
					blocks = append(blocks, wireContentBlock{Type: "text", Text: llm.PlaceholderForUnsupportedMedia(b.Type)})
				}
			default:
				if b.Text != "" {
					blocks = append(blocks, wireContentBlock{Type: "text", Text: b.Text})
				}
			}
		}

		for _, tc := range m.ToolCalls {
			var input json.RawMessage
			if tc.Function.Arguments != "" {
				input = json.RawMessage(tc.Function.Arguments)
			} else {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, wireContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: input,
			})
		}

		if len(blocks) == 0 {
			continue
		}
		out = append(out, wireMessage{Role: role, Content: blocks})
	}
	return system, out
}

// convertTools builds Anthropic tool-use declarations directly from each
// Tool's interface methods (mirrors llm.ToolsToFunctionSchema's shape, but
// Anthropic's wire format nests the schema under input_schema rather than
// function.parameters).
func convertTools(tools []llm.Tool) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: map[string]any{
				"type":       "object",
				"properties": t.Parameters(),
				"required":   t.RequiredParameters(),
			},
		})
	}
	return out
}

