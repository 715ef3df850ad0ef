package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenOverlapIdenticalTextIsOne(t *testing.T) {
	assert.Equal(t, 1.0, TokenOverlap("the cat sat on the mat", "the cat sat on the mat"))
}

func TestTokenOverlapDisjointTextIsZero(t *testing.T) {
	got := TokenOverlap("apples and oranges", "submarines and telescopes")
	assert.LessOrEqual(t, got, 0.2, "expected largely disjoint text to have low overlap")
}

func TestTokenOverlapPartialOverlapAboveThreshold(t *testing.T) {
	a := "the user prefers dark mode in the editor"
	b := "the user prefers dark mode in the editor theme"
	got := TokenOverlap(a, b)
	assert.GreaterOrEqual(t, got, 0.7, "expected near-duplicate phrasing to overlap at least 0.7")
}

func TestStoreRememberDedupesNearDuplicates(t *testing.T) {
	store, err := NewStore("", nil, 0.7)
	require.NoError(t, err)

	ctx := context.Background()
	id1, err := store.Remember(ctx, "sess-1", KindPreference, "the user prefers dark mode in the editor", RememberOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, id1, "expected the first memory to be stored with a non-empty ID")

	id2, err := store.Remember(ctx, "sess-1", KindPreference, "the user prefers dark mode in the editor theme", RememberOptions{})
	require.NoError(t, err)
	assert.Empty(t, id2, "expected a near-duplicate (overlap >= 0.7) to be skipped")
}

func TestStoreRememberKeepsDistinctEntries(t *testing.T) {
	store, err := NewStore("", nil, 0.7)
	require.NoError(t, err)

	ctx := context.Background()
	id1, err := store.Remember(ctx, "sess-1", KindFact, "the user's favorite color is blue", RememberOptions{})
	require.NoError(t, err)
	id2, err := store.Remember(ctx, "sess-1", KindFact, "the user lives in Tokyo", RememberOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2, "expected distinct entries to get distinct IDs")
}

func TestStoreRememberDefaultsImportanceAndPriority(t *testing.T) {
	store, err := NewStore("", nil, 0.7)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Remember(ctx, "sess-1", KindFact, "the user's favorite color is blue", RememberOptions{})
	require.NoError(t, err)

	entries, err := store.Recall(ctx, "favorite color", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, defaultImportance, entries[0].Importance)
	assert.Equal(t, defaultPriority, entries[0].Priority)
}

func TestStoreRecallOrdersByImportanceNotSimilarity(t *testing.T) {
	store, err := NewStore("", nil, 0.99) // avoid dedup skipping any of these
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Remember(ctx, "sess-1", KindFact, "the user's favorite color is blue", RememberOptions{Importance: 0.2})
	require.NoError(t, err)
	_, err = store.Remember(ctx, "sess-1", KindFact, "the user's favorite food is sushi", RememberOptions{Importance: 0.9})
	require.NoError(t, err)

	entries, err := store.Recall(ctx, "favorite", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 0.9, entries[0].Importance, "expected the higher-importance entry to be ranked first regardless of similarity order")
}

func TestStoreRememberSupersedesSameDimensionedPersonaTrait(t *testing.T) {
	store, err := NewStore("", nil, 0.7)
	require.NoError(t, err)

	ctx := context.Background()
	id1, err := store.Remember(ctx, "sess-1", KindPersonaTrait, "dry and understated", RememberOptions{Dimension: "humor_level"})
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := store.Remember(ctx, "sess-1", KindPersonaTrait, "warm and playful", RememberOptions{Dimension: "humor_level"})
	require.NoError(t, err)
	assert.NotEmpty(t, id2)

	entries, err := store.Recall(ctx, "humor", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "expected the newer persona_trait entry to supersede the older one for the same dimension")
	assert.Equal(t, "warm and playful", entries[0].Text)
}

func TestStoreConsolidateRemovesDuplicatesAccumulatedBeforeDedupCheck(t *testing.T) {
	// A threshold above 1 disables Remember's own dedup check (no overlap
	// can reach it), so store two near-duplicates directly to exercise
	// Consolidate's sweep independent of Remember's guard.
	store, err := NewStore("", nil, 2.0) // impossible threshold: Remember never dedups
	require.NoError(t, err)
	store.dedupThresh = 0.7 // lower only for the Consolidate sweep below

	ctx := context.Background()
	_, err = store.Remember(ctx, "sess-1", KindFact, "the user's favorite color is blue", RememberOptions{})
	require.NoError(t, err)
	_, err = store.Remember(ctx, "sess-1", KindFact, "the user's favorite colour is blue", RememberOptions{})
	require.NoError(t, err)

	removed, err := store.Consolidate(ctx)
	require.NoError(t, err)
	assert.Greater(t, removed, 0, "expected Consolidate to remove at least one near-duplicate entry")
}
