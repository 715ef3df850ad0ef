// Package contextmgr manages the size of a session's conversation history:
// estimating how many tokens it occupies, grouping messages so that a tool
// call and its result are never split apart, and compressing old groups
// into a running summary once the history grows past budget.
package contextmgr

import (
	"context"
	"fmt"
	"genesis/pkg/config"
	"genesis/pkg/llm"
	"log/slog"
	"strings"
)

// EstimateTokens approximates the token count of a piece of text without a
// provider-specific tokenizer. CJK characters (Chinese/Japanese/Korean) are
// counted roughly one-per-token since most BPE tokenizers split them nearly
// 1:1; runs of other text are approximated at four bytes per token, which
// tracks typical English BPE vocabularies closely enough for budgeting.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	cjk := 0
	otherBytes := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			otherBytes += utf8Len(r)
		}
	}

	tokens := cjk + (otherBytes+3)/4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana/Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK Extension A
		return true
	default:
		return false
	}
}

func utf8Len(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}

// EstimateMessageTokens sums the estimated token cost of every text-bearing
// block in a message, plus a small fixed overhead per non-text block
// (images/tool calls) to account for their wire-format metadata.
func EstimateMessageTokens(msg llm.Message) int {
	total := 4 // role + id + timestamp framing overhead
	for _, b := range msg.Content {
		switch b.Type {
		case llm.BlockTypeText, llm.BlockTypeThinking, llm.BlockTypeError:
			total += EstimateTokens(b.Text)
		default:
			total += 16
		}
	}
	for _, tc := range msg.ToolCalls {
		total += EstimateTokens(tc.Function.Arguments) + 8
	}
	return total
}

// EstimateHistoryTokens sums the estimated token cost across every message.
func EstimateHistoryTokens(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}

// Group is a contiguous run of messages that must be kept or dropped
// together: specifically, an assistant message that issued tool calls is
// glued to the tool-role messages carrying their results, since splitting
// them would leave a dangling tool_use with no matching tool_result.
type Group struct {
	Messages []llm.Message
}

// GroupMessages partitions a message slice into atomic groups. A single
// user or plain assistant message is its own group of one; an assistant
// message with ToolCalls starts a group that absorbs every following
// tool-role message until the next non-tool message.
func GroupMessages(msgs []llm.Message) []Group {
	groups := make([]Group, 0, len(msgs))

	i := 0
	for i < len(msgs) {
		m := msgs[i]
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			g := Group{Messages: []llm.Message{m}}
			j := i + 1
			for j < len(msgs) && msgs[j].Role == "tool" {
				g.Messages = append(g.Messages, msgs[j])
				j++
			}
			groups = append(groups, g)
			i = j
			continue
		}
		groups = append(groups, Group{Messages: []llm.Message{m}})
		i++
	}
	return groups
}

// Tokens returns the estimated token cost of every message in the group.
func (g Group) Tokens() int {
	return EstimateHistoryTokens(g.Messages)
}

// Manager drives compression of a session's history once it grows past the
// configured thresholds, using a dedicated (typically smaller/cheaper) LLM
// client to produce the running summary. If no dedicated client is
// supplied, the primary session client can be reused instead.
type Manager struct {
	summarizer llm.LLMClient
	sysCfg     *config.SystemConfig
}

// NewManager builds a Manager. summarizer is usually the client built from
// Config.CompilerEndpoints; pass the primary reasoning client if no
// dedicated compiler endpoint is configured.
func NewManager(summarizer llm.LLMClient, sysCfg *config.SystemConfig) *Manager {
	return &Manager{summarizer: summarizer, sysCfg: sysCfg}
}

// ShouldCompress reports whether the session history has crossed any of the
// configured thresholds (message count, character count, or reported token
// usage) and therefore needs compression.
func (m *Manager) ShouldCompress(msgs []llm.Message, usage *llm.LLMUsage) bool {
	sysCfg := m.sysCfg
	keepCount := sysCfg.HistoryKeepRecentCount

	if len(msgs) <= keepCount {
		return false
	}

	if usage != nil && usage.TotalTokens > 0 && sysCfg.HistoryMaxTokens > 0 && usage.TotalTokens >= sysCfg.HistoryMaxTokens {
		return true
	}

	if sysCfg.HistorySummarizeThreshold > 0 && len(msgs) >= sysCfg.HistorySummarizeThreshold {
		return true
	}

	if sysCfg.HistoryMaxChars > 0 {
		chars := 0
		for _, mg := range msgs {
			for _, b := range mg.Content {
				if b.Type == llm.BlockTypeText {
					chars += len(b.Text)
				}
			}
		}
		if chars >= sysCfg.HistoryMaxChars {
			return true
		}
	}

	return false
}

// Compress produces an updated running summary covering every message
// group except the most recent HistoryKeepRecentCount groups, merging it
// with the existing summary. It never splits a tool-use/tool-result group,
// so the boundary between "summarized" and "kept" always falls between
// groups rather than inside one.
func (m *Manager) Compress(ctx context.Context, existingSummary string, msgs []llm.Message) (summary string, keep []llm.Message, err error) {
	groups := GroupMessages(msgs)

	keepGroups := m.sysCfg.HistoryKeepRecentCount
	if keepGroups <= 0 {
		keepGroups = 1
	}
	if len(groups) <= keepGroups {
		return existingSummary, msgs, nil
	}

	// Never summarize away a leading system message; treat it as always-kept.
	startIdx := 0
	if len(groups) > 0 && len(groups[0].Messages) == 1 && groups[0].Messages[0].Role == "system" {
		startIdx = 1
	}

	splitAt := len(groups) - keepGroups
	if splitAt <= startIdx {
		return existingSummary, msgs, nil
	}

	toSummarize := groups[startIdx:splitAt]
	remaining := append(append([]Group{}, groups[:startIdx]...), groups[splitAt:]...)

	var transcript strings.Builder
	for _, g := range toSummarize {
		for _, mg := range g.Messages {
			text := flattenText(mg)
			if text == "" {
				continue
			}
			transcript.WriteString(fmt.Sprintf("[%s]: %s\n", roleLabel(mg.Role), text))
		}
	}

	if transcript.Len() == 0 {
		// Nothing textual to fold in; just drop the groups and keep summary as-is.
		return existingSummary, flattenGroups(remaining), nil
	}

	summary, err = m.summarize(ctx, existingSummary, transcript.String())
	if err != nil {
		return "", nil, err
	}

	return summary, flattenGroups(remaining), nil
}

func flattenGroups(groups []Group) []llm.Message {
	out := make([]llm.Message, 0)
	for _, g := range groups {
		out = append(out, g.Messages...)
	}
	return out
}

func flattenText(m llm.Message) string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == llm.BlockTypeText {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

func roleLabel(role string) string {
	switch role {
	case "assistant":
		return "助手"
	case "tool":
		return "工具"
	case "system":
		return "系統"
	default:
		return "用戶"
	}
}

// summarize issues the actual compression call. It reuses the teacher's
// Traditional-Chinese summarization prompt style, folding the existing
// summary with the newly-dropped transcript into a single updated summary.
// Calling it twice on an unchanged tail is idempotent: with nothing new to
// fold in, ShouldCompress/Compress above never invoke it in the first
// place, so re-summarization only ever happens when the window genuinely
// advanced.
func (m *Manager) summarize(ctx context.Context, existing, transcript string) (string, error) {
	if existing == "" {
		existing = "(目前尚無摘要)"
	}

	summaryPrompt := "你是一個對話分析助手。請根據「之前的摘要」以及「新發生的對話片段」，產出一份更新後的簡潔對話摘要。\n" +
		"摘要應包含：重要的事實、用戶偏好、以及討論結論。\n" +
		"指令：請僅輸出更新後的摘要文字，不要有開場白或解釋。"

	msgs := []llm.Message{
		llm.NewSystemMessage(summaryPrompt),
		llm.NewUserMessage(fmt.Sprintf("【之前的摘要】：\n%s\n\n【新發生的需要被總結的片段】：\n%s\n\n請提供產出整合後的最新摘要：", existing, transcript)),
	}

	chunkCh, err := m.summarizer.StreamChat(ctx, msgs, nil)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for chunk := range chunkCh {
		if chunk.RawError != nil {
			return "", chunk.RawError
		}
		for _, b := range chunk.ContentBlocks {
			if b.Type == llm.BlockTypeText {
				out.WriteString(b.Text)
			}
		}
	}

	return out.String(), nil
}

// LogCompression is a small logging helper kept separate so callers don't
// need to duplicate the structured-log fields on every call site.
func LogCompression(ctx context.Context, sessionID string, before, after int) {
	slog.InfoContext(ctx, "Compressed session context", "session", sessionID, "messages_before", before, "messages_after", after)
}
