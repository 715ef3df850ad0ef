package agent

import (
	"genesis/pkg/llm"
	"sync"
	"sync/atomic"
)

// Task tracks the lifetime of a single reasoning-acting run and carries the
// three interrupt primitives a running turn polls between suspension
// points: Cancel (abort and return whatever has been produced so far),
// Skip (discard the next pending tool-call batch instead of running it,
// keeping the task alive), and Insert (splice a synthetic message into the
// conversation before the next LLM call, e.g. a scheduler reminder that
// arrived mid-turn).
//
// All three are one-shot, goroutine-safe signals: setting one is cheap and
// idempotent, and the consuming goroutine drains it at most once per fire.
type Task struct {
	SessionID string

	iterations int32
	cancelled  atomic.Bool
	skipped    atomic.Bool

	mu      sync.Mutex
	pending []llm.Message

	guard *LoopGuard
}

// NewTask creates a fresh task bound to a session, with loop detection
// configured from the given window/threshold (see LoopGuard).
func NewTask(sessionID string, loopWindow, loopThreshold int) *Task {
	return &Task{
		SessionID: sessionID,
		guard:     NewLoopGuard(loopWindow, loopThreshold),
	}
}

// Cancel requests that the task stop as soon as it reaches the next
// suspension point. Safe to call from any goroutine, any number of times.
func (t *Task) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel has been requested.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// Skip requests that the task discard its next pending tool-call batch:
// each call in it is answered with a "user skipped this step" tool result
// instead of being run, and the task goes on without being cancelled.
func (t *Task) Skip() { t.skipped.Store(true) }

// ConsumeSkip reports whether Skip was requested and clears the flag, so
// each request is honored exactly once.
func (t *Task) ConsumeSkip() bool { return t.skipped.Swap(false) }

// Insert queues a synthetic message to be spliced into history just before
// the next LLM call. Used by the scheduler to inject reminders into a
// session that already has an active task.
func (t *Task) Insert(msg llm.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, msg)
}

// DrainInserts returns and clears any messages queued via Insert.
func (t *Task) DrainInserts() []llm.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil
	}
	out := t.pending
	t.pending = nil
	return out
}

// NextIteration increments and returns the 1-based iteration counter. The
// caller compares it against SystemConfig.MaxIterations to enforce the
// reasoning loop's iteration ceiling.
func (t *Task) NextIteration() int {
	return int(atomic.AddInt32(&t.iterations, 1))
}

// ObserveToolCalls feeds a batch of tool calls to the loop guard and
// reports whether the task now looks stuck in a repeat loop.
func (t *Task) ObserveToolCalls(calls []llm.ToolCall) bool {
	return t.guard.Observe(calls)
}

// TaskRegistry tracks the currently-active Task per session so that
// concurrent inbound events (a new user message, a scheduler fire, a
// cancel request from a channel) can find and signal the right task.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*Task)}
}

// Start registers t as the active task for its session, replacing any
// previous entry (a session has at most one active task at a time).
func (r *TaskRegistry) Start(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.SessionID] = t
}

// Finish removes the active task for a session, but only if it is still
// the one that was started (guards against a stale Finish racing a newer
// Start for the same session).
func (r *TaskRegistry) Finish(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tasks[t.SessionID]; ok && cur == t {
		delete(r.tasks, t.SessionID)
	}
}

// Active returns the currently-running task for a session, if any.
func (r *TaskRegistry) Active(sessionID string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[sessionID]
	return t, ok
}
