package tools

import (
	"context"
	"fmt"
	"genesis/pkg/api"
	"genesis/pkg/memory"
)

const (
	MemoryActionRemember = "remember"
	MemoryActionRecall   = "recall"
)

// MemoryTool exposes the long-term memory store as an ordinary tool call,
// following the same action dispatch pattern as OSTool: one tool name,
// an "action" parameter selecting the operation.
type MemoryTool struct {
	store *memory.Store
}

// NewMemoryTool wraps store as an executable api.Tool.
func NewMemoryTool(store *memory.Store) *MemoryTool {
	return &MemoryTool{store: store}
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Description() string {
	return "Store or retrieve long-term memories about the user (facts, preferences, events). " +
		"Actions: 'remember' (store a fact/preference/event), 'recall' (retrieve similar memories)."
}

func (t *MemoryTool) Parameters() map[string]any {
	return map[string]any{
		"action": map[string]any{
			"type":        "string",
			"description": "Operation to perform",
			"enum":        []string{MemoryActionRemember, MemoryActionRecall},
		},
		"kind": map[string]any{
			"type":        "string",
			"description": "For 'remember': the kind of memory to store",
			"enum": []string{
				string(memory.KindFact), string(memory.KindPreference), string(memory.KindRule),
				string(memory.KindSkill), string(memory.KindPersonaTrait), string(memory.KindContext),
				string(memory.KindError), string(memory.KindEvent),
			},
		},
		"text": map[string]any{
			"type":        "string",
			"description": "For 'remember': the text to store",
		},
		"session_id": map[string]any{
			"type":        "string",
			"description": "The current session identifier",
		},
		"importance": map[string]any{
			"type":        "number",
			"description": "For 'remember': how important this memory is, in [0,1] (default 0.5)",
		},
		"priority": map[string]any{
			"type":        "string",
			"description": "For 'remember': retention class",
			"enum":        []string{string(memory.PriorityTransient), string(memory.PriorityShortTerm), string(memory.PriorityLongTerm), string(memory.PriorityPermanent)},
		},
		"tags": map[string]any{
			"type":        "array",
			"description": "For 'remember': free-form labels for this memory",
			"items":       map[string]any{"type": "string"},
		},
		"dimension": map[string]any{
			"type":        "string",
			"description": "For 'remember' with kind=persona_trait: the facet name (e.g. 'humor_level'); a new value supersedes the previous one for the same dimension",
		},
		"query": map[string]any{
			"type":        "string",
			"description": "For 'recall': the text to search similar memories for",
		},
		"top_k": map[string]any{
			"type":        "integer",
			"description": "For 'recall': maximum number of memories to return (default 5)",
		},
	}
}

func (t *MemoryTool) RequiredParameters() []string {
	return []string{"action"}
}

func (t *MemoryTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	action, _ := args["action"].(string)

	switch action {
	case MemoryActionRemember:
		return t.remember(ctx, args)
	case MemoryActionRecall:
		return t.recall(ctx, args)
	default:
		return nil, fmt.Errorf("unsupported memory action: %q", action)
	}
}

func (t *MemoryTool) remember(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	text, _ := args["text"].(string)
	if text == "" {
		return nil, fmt.Errorf("remember requires non-empty 'text'")
	}
	kind := memory.Kind(stringOr(args["kind"], string(memory.KindFact)))
	sessionID, _ := args["session_id"].(string)

	opts := memory.RememberOptions{
		Priority:  memory.Priority(stringOr(args["priority"], "")),
		Dimension: stringOr(args["dimension"], ""),
	}
	if v, ok := args["importance"].(float64); ok {
		opts.Importance = v
	}
	if raw, ok := args["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok && s != "" {
				opts.Tags = append(opts.Tags, s)
			}
		}
	}

	id, err := t.store.Remember(ctx, sessionID, kind, text, opts)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return &api.ToolResult{
			Content: []api.ContentBlock{{Type: "text", Text: "Skipped: an equivalent memory already exists."}},
			Details: map[string]any{"stored": false},
		}, nil
	}
	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: fmt.Sprintf("Stored memory %s", id)}},
		Details: map[string]any{"stored": true, "id": id},
	}, nil
}

func (t *MemoryTool) recall(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("recall requires non-empty 'query'")
	}
	topK := 5
	if v, ok := args["top_k"].(float64); ok && v > 0 {
		topK = int(v)
	}

	entries, err := t.store.Recall(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: "No matching memories found."}}}, nil
	}

	blocks := make([]api.ContentBlock, 0, len(entries))
	for _, e := range entries {
		blocks = append(blocks, api.ContentBlock{
			Type: "text",
			Text: fmt.Sprintf("[%s, importance %.2f] %s (score %.3f)", e.Kind, e.Importance, e.Text, e.Score),
		})
	}
	return &api.ToolResult{Content: blocks, Details: map[string]any{"count": len(entries)}}, nil
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
