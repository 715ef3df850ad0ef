package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssembleOrdersSectionsFixedRegardlessOfInputOrder(t *testing.T) {
	a := NewAssembler(0) // no budget: truncation disabled
	text, truncated := a.Assemble([]Section{
		{Kind: SectionToolCatalog, Text: "catalogue"},
		{Kind: SectionIdentity, Text: "identity"},
		{Kind: SectionMemory, Text: "memory"},
	})

	assert.Empty(t, truncated)
	idIdx := strings.Index(text, "identity")
	memIdx := strings.Index(text, "memory")
	catIdx := strings.Index(text, "catalogue")
	assert.True(t, idIdx < memIdx && memIdx < catIdx, "expected fixed section order identity < memory < tool_catalogue regardless of input order")
}

func TestAssembleSkipsBlankSections(t *testing.T) {
	a := NewAssembler(0)
	text, _ := a.Assemble([]Section{
		{Kind: SectionIdentity, Text: "identity"},
		{Kind: SectionPersona, Text: "   "},
	})
	assert.Equal(t, "identity", text, "expected a blank-after-trim section to be skipped entirely, not rendered as an empty block")
}

func TestAssembleTruncatesSectionExceedingItsBudgetShare(t *testing.T) {
	a := NewAssembler(100) // identity gets 20% share = 20 tokens
	longText := strings.Repeat("word ", 200)
	text, truncated := a.Assemble([]Section{{Kind: SectionIdentity, Text: longText}})

	assert.Equal(t, []SectionKind{SectionIdentity}, truncated)
	assert.Contains(t, text, "[...truncated to fit prompt budget...]")
	assert.Less(t, len(text), len(longText), "expected the rendered section to be shorter than the untruncated input")
}

func TestAssembleZeroBudgetDisablesTruncation(t *testing.T) {
	a := NewAssembler(0)
	longText := strings.Repeat("word ", 5000)
	text, truncated := a.Assemble([]Section{{Kind: SectionIdentity, Text: longText}})

	assert.Empty(t, truncated)
	assert.Equal(t, longText, text, "expected a non-positive total budget to disable truncation entirely")
}

func TestLogTruncationsNoopOnEmpty(t *testing.T) {
	// Should not panic on an empty slice; nothing to assert beyond that.
	LogTruncations(nil)
}
