package tools

import (
	"context"
	"fmt"
	"genesis/pkg/api"
	"genesis/pkg/scheduler"
)

const (
	SchedulerActionAdd    = "add"
	SchedulerActionRemove = "remove"
	SchedulerActionList   = "list"
)

// SchedulerTool exposes proactive-trigger management (reminders, scheduled
// prompts) as a tool call, dispatching on an "action" parameter like
// MemoryTool and OSTool.
type SchedulerTool struct {
	sched *scheduler.Scheduler
}

// NewSchedulerTool wraps sched as an executable api.Tool.
func NewSchedulerTool(sched *scheduler.Scheduler) *SchedulerTool {
	return &SchedulerTool{sched: sched}
}

func (t *SchedulerTool) Name() string { return "scheduler" }

func (t *SchedulerTool) Description() string {
	return "Schedule a future prompt or reminder for this session, list scheduled jobs, or cancel one. " +
		"Actions: 'add', 'remove', 'list'."
}

func (t *SchedulerTool) Parameters() map[string]any {
	return map[string]any{
		"action": map[string]any{
			"type":        "string",
			"description": "Operation to perform",
			"enum":        []string{SchedulerActionAdd, SchedulerActionRemove, SchedulerActionList},
		},
		"id": map[string]any{
			"type":        "string",
			"description": "Unique job identifier (required for 'add' and 'remove')",
		},
		"session_id": map[string]any{
			"type":        "string",
			"description": "For 'add': the session the job fires into",
		},
		"kind": map[string]any{
			"type":        "string",
			"description": "For 'add': trigger kind",
			"enum":        []string{string(scheduler.TriggerOnce), string(scheduler.TriggerInterval), string(scheduler.TriggerCron)},
		},
		"schedule": map[string]any{
			"type":        "string",
			"description": "For 'add': RFC3339 time ('once'), Go duration ('interval'), or 5-field cron expression ('cron')",
		},
		"job_action": map[string]any{
			"type":        "string",
			"description": "For 'add': what happens on firing",
			"enum":        []string{string(scheduler.ActionPrompt), string(scheduler.ActionReminder)},
		},
		"payload": map[string]any{
			"type":        "string",
			"description": "For 'add': the text delivered on firing",
		},
	}
}

func (t *SchedulerTool) RequiredParameters() []string {
	return []string{"action"}
}

func (t *SchedulerTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	action, _ := args["action"].(string)

	switch action {
	case SchedulerActionAdd:
		return t.add(ctx, args)
	case SchedulerActionRemove:
		return t.remove(args)
	case SchedulerActionList:
		return t.list()
	default:
		return nil, fmt.Errorf("unsupported scheduler action: %q", action)
	}
}

func (t *SchedulerTool) add(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	id, _ := args["id"].(string)
	sessionID, _ := args["session_id"].(string)
	schedule, _ := args["schedule"].(string)
	payload, _ := args["payload"].(string)
	if id == "" || sessionID == "" || schedule == "" {
		return nil, fmt.Errorf("'add' requires 'id', 'session_id', and 'schedule'")
	}

	job := &scheduler.Job{
		ID:        id,
		SessionID: sessionID,
		Kind:      scheduler.TriggerKind(stringOr(args["kind"], string(scheduler.TriggerOnce))),
		Schedule:  schedule,
		Action:    scheduler.Action(stringOr(args["job_action"], string(scheduler.ActionPrompt))),
		Payload:   payload,
	}

	if err := t.sched.Add(ctx, job); err != nil {
		return nil, err
	}
	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: fmt.Sprintf("Scheduled job %s", id)}},
		Details: map[string]any{"id": id},
	}, nil
}

func (t *SchedulerTool) remove(args map[string]any) (*api.ToolResult, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("'remove' requires 'id'")
	}
	if err := t.sched.Remove(id); err != nil {
		return nil, err
	}
	return &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: fmt.Sprintf("Removed job %s", id)}}}, nil
}

func (t *SchedulerTool) list() (*api.ToolResult, error) {
	jobs := t.sched.List()
	if len(jobs) == 0 {
		return &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: "No scheduled jobs."}}}, nil
	}

	blocks := make([]api.ContentBlock, 0, len(jobs))
	for _, j := range jobs {
		blocks = append(blocks, api.ContentBlock{
			Type: "text",
			Text: fmt.Sprintf("%s: %s %q -> %s(%q)", j.ID, j.Kind, j.Schedule, j.Action, j.Payload),
		})
	}
	return &api.ToolResult{Content: blocks, Details: map[string]any{"count": len(jobs)}}, nil
}
