package agent

import (
	"genesis/pkg/llm"
	"testing"

	"github.com/stretchr/testify/assert"
)

func callWith(name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:   "call-" + name,
		Name: name,
		Function: llm.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestLoopGuardFlagsRepeatedIdenticalCalls(t *testing.T) {
	guard := NewLoopGuard(10, 3)

	call := callWith("search", `{"query":"weather"}`)
	assert.False(t, guard.Observe([]llm.ToolCall{call}), "should not flag a loop on the first occurrence")
	assert.False(t, guard.Observe([]llm.ToolCall{call}), "should not flag a loop on the second occurrence")
	assert.True(t, guard.Observe([]llm.ToolCall{call}), "expected a loop to be flagged on the third identical occurrence")
}

func TestLoopGuardIgnoresArgumentKeyOrdering(t *testing.T) {
	guard := NewLoopGuard(10, 2)

	first := callWith("lookup", `{"a":"1","b":"2"}`)
	second := callWith("lookup", `{"b":"2","a":"1"}`)

	guard.Observe([]llm.ToolCall{first})
	assert.True(t, guard.Observe([]llm.ToolCall{second}), "expected key-reordered arguments to be recognized as the same call signature")
}

func TestLoopGuardDistinctArgumentsDontAccumulate(t *testing.T) {
	guard := NewLoopGuard(10, 2)

	for i := 0; i < 5; i++ {
		distinct := callWith("search", `{"query":"q`+string(rune('a'+i))+`"}`)
		assert.False(t, guard.Observe([]llm.ToolCall{distinct}), "distinct arguments should never be flagged as a repeat loop")
	}
}

func TestLoopGuardWindowEvictsOldHistory(t *testing.T) {
	guard := NewLoopGuard(2, 2)

	a := callWith("a", `{}`)
	b := callWith("b", `{}`)

	guard.Observe([]llm.ToolCall{a})
	guard.Observe([]llm.ToolCall{b})
	// Window size 2: when "a" is observed again its first occurrence has
	// scrolled out (the window holds b, a), so it is not a repeat.
	assert.False(t, guard.Observe([]llm.ToolCall{a}), "expected the original 'a' occurrence to have aged out of the window")
}

func TestLoopGuardResetClearsHistory(t *testing.T) {
	guard := NewLoopGuard(10, 2)
	call := callWith("search", `{"query":"x"}`)

	guard.Observe([]llm.ToolCall{call})
	guard.Reset()

	assert.False(t, guard.Observe([]llm.ToolCall{call}), "expected history to be cleared after Reset")
}

func TestLoopGuardDisabledWhenNonPositive(t *testing.T) {
	guard := NewLoopGuard(0, 0)
	call := callWith("search", `{"query":"x"}`)
	for i := 0; i < 5; i++ {
		assert.False(t, guard.Observe([]llm.ToolCall{call}), "a non-positive window/threshold should disable loop detection entirely")
	}
}
