package llm

// contextKey is a private type to avoid collisions with context keys
// defined in other packages.
type contextKey string

// DebugDirContextKey carries a per-session subdirectory name so that
// StreamDebugger can nest raw chunk logs under debug/chunks/<session>/<provider>/
// instead of a single shared file per provider.
const DebugDirContextKey contextKey = "llm_debug_dir"
