// Package memory implements the assistant's long-term memory store: durable
// facts and preferences that outlive a single conversation session. Entries
// are embedded and indexed with chromem-go (an embedded, pure-Go vector
// database), retrieved by similarity at prompt-assembly time, and
// periodically deduplicated by token-set overlap during consolidation.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
)

// Kind distinguishes the category of a stored memory entry.
type Kind string

const (
	KindFact         Kind = "fact"          // a durable fact learned about the user or world
	KindPreference   Kind = "preference"    // a stated user preference
	KindRule         Kind = "rule"          // a standing instruction the assistant must follow
	KindSkill        Kind = "skill"         // a learned procedure or capability
	KindPersonaTrait Kind = "persona_trait" // a dimensioned facet of the assistant's persona
	KindContext      Kind = "context"       // background context that isn't itself a fact
	KindError        Kind = "error"         // a past mistake worth remembering not to repeat
	KindEvent        Kind = "event"         // something notable that happened
)

// dimensionedKinds tracks entries as named dimensions rather than an
// unbounded accumulating set: storing a new entry under the same
// (Kind, Dimension) pair supersedes the previous one instead of piling up
// alongside it (e.g. the assistant's "humor_level" persona_trait only ever
// has one current value).
var dimensionedKinds = map[Kind]bool{
	KindPersonaTrait: true,
}

// Priority is the retention class of a memory entry, independent of its
// Importance score — a transient entry can still be highly important to the
// current turn without being worth keeping once the session ends.
type Priority string

const (
	PriorityTransient Priority = "transient"
	PriorityShortTerm Priority = "short_term"
	PriorityLongTerm  Priority = "long_term"
	PriorityPermanent Priority = "permanent"
)

// defaultImportance and defaultPriority are applied when Remember's caller
// doesn't specify one, so existing callers that only care about Kind/Text
// still get a sensible retention class rather than a zero value that would
// always sort last.
const defaultImportance = 0.5

const defaultPriority = PriorityShortTerm

// Entry is one unit of long-term memory.
type Entry struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text"`
	SessionID  string    `json:"session_id"`
	Importance float64   `json:"importance"` // in [0,1]; higher recalls first
	Priority   Priority  `json:"priority"`
	Tags       []string  `json:"tags,omitempty"`
	Dimension  string    `json:"dimension,omitempty"` // only set for dimensioned kinds, e.g. persona_trait
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
	Score      float64   `json:"score,omitempty"` // vector similarity, set on retrieval only
}

// RememberOptions carries the optional dimensions of a memory entry beyond
// its kind and text. The zero value is a valid request: Importance defaults
// to defaultImportance and Priority to defaultPriority.
type RememberOptions struct {
	Importance float64
	Priority   Priority
	Tags       []string
	// Dimension names the facet a dimensioned-kind entry belongs to (e.g.
	// "humor_level" for a persona_trait). Ignored for non-dimensioned kinds.
	Dimension string
}

// collectionName is the single chromem-go collection all entries live in.
// Kind is stored as metadata rather than as separate collections so that a
// single similarity query can rank facts and preferences against each
// other.
const collectionName = "genesis_memory"

// Embedder computes a fixed-length similarity vector for a piece of text.
type Embedder func(text string) []float32

// Store is the long-term memory index. It owns a chromem-go database for
// similarity search and a plain in-process index of entry metadata (kept
// alongside, rather than re-derived from the vector store) so consolidation
// sweeps don't depend on the vector store exposing a full listing API.
type Store struct {
	db          *chromem.DB
	embed       Embedder
	dedupThresh float64

	mu      sync.Mutex
	col     *chromem.Collection
	entries []Entry
}

// NewStore opens (or creates) a chromem-go database at persistPath. An
// empty persistPath keeps the index in memory only, useful for tests. embed
// computes the similarity vector for a piece of text; HashEmbedder provides
// a dependency-free default grounded purely in shared vocabulary.
func NewStore(persistPath string, embed Embedder, dedupThreshold float64) (*Store, error) {
	var db *chromem.DB
	var err error

	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	if embed == nil {
		embed = HashEmbedder
	}

	return &Store{db: db, embed: embed, dedupThresh: dedupThreshold}, nil
}

func (s *Store) collection() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col != nil {
		return s.col, nil
	}

	// chromem-go requires an EmbeddingFunc per collection; ours just
	// adapts the Store's configured Embedder to chromem's signature.
	col, err := s.db.GetOrCreateCollection(collectionName, nil, func(_ context.Context, text string) ([]float32, error) {
		return s.embed(text), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open memory collection: %w", err)
	}
	s.col = col
	return col, nil
}

// Remember indexes a new memory entry, skipping it if an existing entry
// already overlaps it at or above the configured dedup threshold (see
// TokenOverlap). Returns the stored entry's ID, which is empty when the
// entry was skipped as a duplicate. For a dimensioned kind (e.g.
// persona_trait) with opts.Dimension set, any existing entry sharing that
// (kind, dimension) pair is superseded rather than kept alongside the new
// one.
func (s *Store) Remember(ctx context.Context, sessionID string, kind Kind, text string, opts RememberOptions) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	col, err := s.collection()
	if err != nil {
		return "", err
	}

	if s.findDuplicate(text) {
		slog.Debug("Skipped duplicate memory entry", "text", truncate(text, 60))
		return "", nil
	}

	importance := opts.Importance
	if importance <= 0 {
		importance = defaultImportance
	}
	if importance > 1 {
		importance = 1
	}
	priority := opts.Priority
	if priority == "" {
		priority = defaultPriority
	}

	if dimensionedKinds[kind] && opts.Dimension != "" {
		if err := s.supersede(ctx, col, kind, opts.Dimension); err != nil {
			return "", err
		}
	}

	id := fmt.Sprintf("mem_%d_%s", time.Now().UnixNano(), sessionID)
	vector := s.embed(text)
	doc := chromem.Document{
		ID:        id,
		Content:   text,
		Embedding: vector,
		Metadata: map[string]string{
			"kind":       string(kind),
			"session_id": sessionID,
			"importance": strconv.FormatFloat(importance, 'f', -1, 64),
			"priority":   string(priority),
			"tags":       strings.Join(opts.Tags, ","),
			"dimension":  opts.Dimension,
		},
	}

	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return "", fmt.Errorf("failed to store memory entry: %w", err)
	}

	now := time.Now()
	entry := Entry{
		ID:         id,
		Kind:       kind,
		Text:       text,
		SessionID:  sessionID,
		Importance: importance,
		Priority:   priority,
		Tags:       append([]string(nil), opts.Tags...),
		Dimension:  opts.Dimension,
		CreatedAt:  now,
		AccessedAt: now,
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	return id, nil
}

// supersede removes every entry already stored under the given (kind,
// dimension) pair, both from the in-process index and the vector
// collection, so a dimensioned kind like persona_trait never accumulates
// more than one current value per dimension.
func (s *Store) supersede(ctx context.Context, col *chromem.Collection, kind Kind, dimension string) error {
	s.mu.Lock()
	kept := make([]Entry, 0, len(s.entries))
	var removedIDs []string
	for _, e := range s.entries {
		if e.Kind == kind && e.Dimension == dimension {
			removedIDs = append(removedIDs, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.mu.Unlock()

	for _, id := range removedIDs {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			slog.Warn("Failed to delete superseded dimensioned memory entry", "id", id, "dimension", dimension, "error", err)
		}
	}
	return nil
}

// Recall retrieves up to topK entries relevant to query, regardless of
// kind: candidates are selected by vector similarity, then the result is
// ordered by Importance (spec: recall results are "deduplicated and ordered
// by importance", not raw similarity rank). Each returned entry's
// AccessedAt is updated in the in-process index.
func (s *Store) Recall(ctx context.Context, query string, topK int) ([]Entry, error) {
	col, err := s.collection()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	total := len(s.entries)
	s.mu.Unlock()
	if total == 0 {
		return nil, nil
	}

	if topK <= 0 {
		topK = 5
	}
	if topK > total {
		topK = total
	}

	vector := s.embed(query)
	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory recall failed: %w", err)
	}

	out := make([]Entry, 0, len(results))
	for _, r := range results {
		out = append(out, entryFromMetadata(r.ID, r.Content, r.Metadata, float64(r.Similarity)))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	s.touch(out)
	return out, nil
}

// touch updates AccessedAt for each recalled entry in the in-process index.
func (s *Store) touch(recalled []Entry) {
	now := time.Now()
	byID := make(map[string]bool, len(recalled))
	for _, e := range recalled {
		byID[e.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if byID[s.entries[i].ID] {
			s.entries[i].AccessedAt = now
		}
	}
}

// entryFromMetadata reconstructs an Entry from chromem-go's string-only
// metadata map, the same shape Remember wrote it in.
func entryFromMetadata(id, text string, meta map[string]string, score float64) Entry {
	importance, err := strconv.ParseFloat(meta["importance"], 64)
	if err != nil {
		importance = defaultImportance
	}

	var tags []string
	if raw := meta["tags"]; raw != "" {
		tags = strings.Split(raw, ",")
	}

	return Entry{
		ID:         id,
		Kind:       Kind(meta["kind"]),
		Text:       text,
		SessionID:  meta["session_id"],
		Importance: importance,
		Priority:   Priority(meta["priority"]),
		Tags:       tags,
		Dimension:  meta["dimension"],
		Score:      score,
	}
}

// findDuplicate reports whether any already-remembered entry's token-set
// overlap with text meets the dedup threshold. The entry list is small
// enough (long-term memory, not conversation history) that a linear scan
// is simpler and more predictable than another vector round-trip.
func (s *Store) findDuplicate(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if TokenOverlap(text, e.Text) >= s.dedupThresh {
			return true
		}
	}
	return false
}

// Consolidate sweeps the in-process entry index and removes any entry that
// duplicates an earlier, retained entry above the dedup threshold. It
// returns the number of entries removed. Run periodically (see
// runMemoryConsolidation in main.go) to catch duplicates written far enough apart that
// Remember's write-time check, which only compares against entries present
// at write time, didn't previously consider them together.
func (s *Store) Consolidate(ctx context.Context) (int, error) {
	col, err := s.collection()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	entries := append([]Entry{}, s.entries...)
	s.mu.Unlock()

	kept := make([]Entry, 0, len(entries))
	removedIDs := make([]string, 0)

	for _, e := range entries {
		dup := false
		for _, k := range kept {
			if TokenOverlap(e.Text, k.Text) >= s.dedupThresh {
				dup = true
				break
			}
		}
		if dup {
			removedIDs = append(removedIDs, e.ID)
			continue
		}
		kept = append(kept, e)
	}

	for _, id := range removedIDs {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			slog.Warn("Failed to delete duplicate memory entry during consolidation", "id", id, "error", err)
		}
	}

	s.mu.Lock()
	s.entries = kept
	s.mu.Unlock()

	slog.Info("Memory consolidation complete", "kept", len(kept), "removed", len(removedIDs))
	return len(removedIDs), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TokenOverlap computes the Jaccard similarity (intersection over union) of
// the whitespace-delimited, lowercased token sets of a and b. Used both for
// duplicate detection on write and bulk consolidation sweeps.
func TokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// HashEmbedder is a dependency-free fallback embedding function: it hashes
// each token into one of a fixed number of buckets and accumulates a
// bag-of-words count vector, L2-normalized so cosine similarity behaves
// sensibly. It is not a semantic embedding, but gives chromem-go's vector
// index a real, deterministic vector to search over without depending on
// an external embedding API for tests and offline operation.
func HashEmbedder(text string) []float32 {
	const dims = 256
	vec := make([]float32, dims)

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv32(tok)
		vec[h%dims]++
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1.0) / sqrt32(norm)
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func sqrt32(x float32) float32 {
	if x == 0 {
		return 0
	}
	// Newton's method; precision well within what normalization needs.
	z := x
	for i := 0; i < 8; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}
