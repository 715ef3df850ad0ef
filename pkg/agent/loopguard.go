package agent

import (
	"genesis/pkg/llm"
	"sort"
	"strings"
)

// LoopGuard detects when the model keeps invoking the same tool with the
// same arguments over and over without making progress. It tracks a sliding
// window of canonicalized call signatures and flags a loop once a signature
// occurs threshold times within that window.
type LoopGuard struct {
	window    int
	threshold int
	history   []string
}

// NewLoopGuard builds a guard with the given window size and repeat
// threshold. Non-positive values disable loop detection entirely.
func NewLoopGuard(window, threshold int) *LoopGuard {
	return &LoopGuard{window: window, threshold: threshold}
}

// Observe records one batch of tool calls issued in a single turn and
// reports whether the recent history now looks like a stuck loop.
func (g *LoopGuard) Observe(calls []llm.ToolCall) bool {
	if g.window <= 0 || g.threshold <= 0 {
		return false
	}

	for _, tc := range calls {
		g.history = append(g.history, signature(tc))
	}

	if len(g.history) > g.window {
		g.history = g.history[len(g.history)-g.window:]
	}

	counts := make(map[string]int, len(g.history))
	for _, sig := range g.history {
		counts[sig]++
		if counts[sig] >= g.threshold {
			return true
		}
	}
	return false
}

// Reset clears the tracked history, typically called after a successful
// endpoint rotation or a genuinely new user turn.
func (g *LoopGuard) Reset() {
	g.history = g.history[:0]
}

// signature canonicalizes a tool call into a stable string: the tool name
// plus its arguments sorted by key, so that key ordering differences in the
// model's JSON output don't defeat repeat detection.
func signature(tc llm.ToolCall) string {
	name := strings.TrimPrefix(tc.Name, "functions.")

	var args map[string]any
	if tc.Function.Arguments != "" {
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteString("|")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(toComparable(args[k]))
	}
	return sb.String()
}

func toComparable(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
