// Package prompt assembles the system prompt sent at the start of every
// conversation from independently-budgeted sections: identity, core
// behaviours, tooling instructions, user profile, retrieved memory, active
// plan status, persona hints, and a tool catalogue synopsis. Each section
// carries its own token budget; a section that runs over budget is
// truncated and logged, never silently dropped or allowed to starve the
// sections after it.
package prompt

import (
	"fmt"
	"genesis/pkg/contextmgr"
	"log/slog"
	"strings"
)

// SectionKind identifies one of the fixed prompt sections.
type SectionKind string

const (
	SectionIdentity    SectionKind = "identity"
	SectionBehaviours  SectionKind = "core_behaviours"
	SectionTooling     SectionKind = "tooling_instructions"
	SectionUserProfile SectionKind = "user_profile"
	SectionMemory      SectionKind = "retrieved_memory"
	SectionPlan        SectionKind = "active_plan"
	SectionPersona     SectionKind = "persona_hints"
	SectionToolCatalog SectionKind = "tool_catalogue"
)

// defaultShares allocates SystemConfig.PromptTokenBudget across sections.
// Identity, core behaviours and retrieved memory get the largest shares
// (20% each); tooling, user profile and plan get 10% each; persona hints
// and the tool catalogue get 5% each.
var defaultShares = map[SectionKind]float64{
	SectionIdentity:    0.20,
	SectionBehaviours:  0.20,
	SectionTooling:     0.10,
	SectionUserProfile: 0.10,
	SectionMemory:      0.20,
	SectionPlan:        0.10,
	SectionPersona:     0.05,
	SectionToolCatalog: 0.05,
}

// sectionOrder fixes the rendering order in the assembled prompt.
var sectionOrder = []SectionKind{
	SectionIdentity,
	SectionBehaviours,
	SectionTooling,
	SectionUserProfile,
	SectionMemory,
	SectionPlan,
	SectionPersona,
	SectionToolCatalog,
}

// Section is one piece of prompt content before budgeting is applied.
type Section struct {
	Kind SectionKind
	Text string
}

// Assembler builds the final system prompt text from a set of sections
// under a total token budget.
type Assembler struct {
	totalBudget int
}

// NewAssembler creates an Assembler with the given total token budget
// (typically SystemConfig.PromptTokenBudget). A non-positive budget
// disables truncation entirely.
func NewAssembler(totalBudget int) *Assembler {
	return &Assembler{totalBudget: totalBudget}
}

// Assemble renders the non-empty sections in fixed order, truncating any
// section that exceeds its share of the total budget. It returns the
// final prompt text and the list of sections that had to be truncated
// (warn-only: truncation never aborts assembly).
func (a *Assembler) Assemble(sections []Section) (string, []SectionKind) {
	byKind := make(map[SectionKind]string, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		byKind[s.Kind] = s.Text
	}

	var out strings.Builder
	var truncated []SectionKind

	for _, kind := range sectionOrder {
		text, ok := byKind[kind]
		if !ok {
			continue
		}

		budget := a.budgetFor(kind)
		if budget > 0 {
			if estimated := contextmgr.EstimateTokens(text); estimated > budget {
				text = truncateToTokens(text, budget)
				truncated = append(truncated, kind)
			}
		}

		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(text)
	}

	return out.String(), truncated
}

func (a *Assembler) budgetFor(kind SectionKind) int {
	if a.totalBudget <= 0 {
		return 0
	}
	share, ok := defaultShares[kind]
	if !ok {
		return 0
	}
	return int(float64(a.totalBudget) * share)
}

// truncateToTokens trims text down to approximately budget tokens by
// estimated character count, appending a stable marker so truncation is
// visible to anyone reading the assembled prompt (or a debug dump of it).
func truncateToTokens(text string, budget int) string {
	// Our estimator is ~4 bytes/token for non-CJK text; use that as the
	// cut length, then trim to the nearest rune boundary.
	approxBytes := budget * 4
	if approxBytes >= len(text) {
		return text
	}

	cut := approxBytes
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n[...truncated to fit prompt budget...]"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// LogTruncations emits a single structured warning listing which sections
// had to be truncated, if any.
func LogTruncations(truncated []SectionKind) {
	if len(truncated) == 0 {
		return
	}
	names := make([]string, len(truncated))
	for i, k := range truncated {
		names[i] = string(k)
	}
	slog.Warn("Prompt sections exceeded their token budget and were truncated", "sections", fmt.Sprintf("%v", names))
}
