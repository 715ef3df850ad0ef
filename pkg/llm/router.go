package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Capability enumerates the wire-level features an Endpoint may or may not
// support. The Router uses the declared set to pick a feasible endpoint for
// a given conversation, and to soft-degrade unsupported media blocks rather
// than failing the whole request.
type Capability string

const (
	CapabilityText     Capability = "text"
	CapabilityTools    Capability = "tools"
	CapabilityVision   Capability = "vision"
	CapabilityVideo    Capability = "video"
	CapabilityAudio    Capability = "audio"
	CapabilityDocument Capability = "document"
	CapabilityThinking Capability = "thinking"
)

// mediaCapability maps a content block type to the capability required to
// send it to an endpoint.
var mediaCapability = map[string]Capability{
	BlockTypeImage:    CapabilityVision,
	BlockTypeVideo:    CapabilityVideo,
	BlockTypeAudio:    CapabilityAudio,
	BlockTypeDocument: CapabilityDocument,
}

// Endpoint wraps a concrete LLMClient with routing metadata: priority order,
// declared capabilities, and a sticky health flag set by the Router when the
// endpoint fails with a non-retryable (auth/permanent) error.
type Endpoint struct {
	Name         string
	Provider     string
	Model        string
	Client       LLMClient
	Priority     int // lower runs first
	Capabilities map[Capability]bool

	unhealthy atomic.Bool
}

func NewEndpoint(name, provider, model string, client LLMClient, priority int, caps []Capability) *Endpoint {
	capSet := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		capSet[c] = true
	}
	return &Endpoint{Name: name, Provider: provider, Model: model, Client: client, Priority: priority, Capabilities: capSet}
}

func (e *Endpoint) Healthy() bool { return !e.unhealthy.Load() }
func (e *Endpoint) markUnhealthy() { e.unhealthy.Store(true) }

// supports reports whether this endpoint declares every capability in need.
func (e *Endpoint) supports(need map[Capability]bool) bool {
	for c := range need {
		if !e.Capabilities[c] {
			return false
		}
	}
	return true
}

//----------------------------------------------------------------
// Error classification
//----------------------------------------------------------------

// ErrClass categorizes a provider error for retry-policy purposes.
type ErrClass int

// ErrClassification is the exported name for ErrClass used by callers
// outside this package (the reasoning engine, tool layer) that want to
// reason about a provider error's retry class without depending on the
// Router's internal retry-loop machinery. It is the same type as ErrClass,
// not a parallel taxonomy: classify() remains the single source of truth.
type ErrClassification = ErrClass

const (
	ClassTransient ErrClass = iota // single same-endpoint retry, then move on
	ClassRateLimit                 // bounded backoff, retry same endpoint
	ClassTimeout                   // single same-endpoint retry
	ClassAuth                      // endpoint marked unhealthy, no retry
	ClassPermanent                 // no retry, move to next endpoint
)

// Classify exposes the Router's error-classification heuristic to external
// callers (e.g. tools.Executor deciding whether a tool error wrapping an
// LLM-originated error is worth retrying) without requiring a live client
// reference — client may be nil, in which case only the string-heuristic
// classes (auth/rate-limit/timeout) are reachable and anything else falls
// through to ClassPermanent.
func Classify(err error) ErrClassification {
	return classify(nil, err)
}

// ErrAllEndpointsFailed is returned when every configured endpoint has been
// exhausted without producing a usable stream.
type ErrAllEndpointsFailed struct {
	Attempts []string
	Last     error
}

func (e *ErrAllEndpointsFailed) Error() string {
	return fmt.Sprintf("all endpoints failed (tried: %s): %v", strings.Join(e.Attempts, ", "), e.Last)
}

func (e *ErrAllEndpointsFailed) Unwrap() error { return e.Last }

func classify(client LLMClient, err error) ErrClass {
	if err == nil {
		return ClassPermanent
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "permission denied") || strings.Contains(msg, "403"):
		return ClassAuth
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return ClassRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "context canceled"):
		return ClassTimeout
	case client != nil && client.IsTransientError(err):
		return ClassTransient
	default:
		return ClassPermanent
	}
}

//----------------------------------------------------------------
// Router
//----------------------------------------------------------------

// Router selects a feasible Endpoint for a conversation and drives the
// classified retry / failover policy across the configured endpoint list.
// It replaces the older FallbackClient with capability-aware selection and
// soft-degrade of unsupported media blocks.
type Router struct {
	mu             sync.RWMutex
	endpoints      []*Endpoint
	maxRetries     int
	retryDelay     time.Duration
	fallbackOnErr  bool
}

func NewRouter(endpoints []*Endpoint, maxRetries int, retryDelay time.Duration, fallbackOnError bool) *Router {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	sorted := append([]*Endpoint(nil), endpoints...)
	sortByPriority(sorted)
	return &Router{endpoints: sorted, maxRetries: maxRetries, retryDelay: retryDelay, fallbackOnErr: fallbackOnError}
}

// Endpoints returns a snapshot of the endpoint list in the order StreamChat
// tries them: priority order, with any endpoint demoted by Rotate at the back.
func (r *Router) Endpoints() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// SwapEndpoints atomically replaces the endpoint list, used by the config
// hot-reload path.
func (r *Router) SwapEndpoints(endpoints []*Endpoint) {
	sorted := append([]*Endpoint(nil), endpoints...)
	sortByPriority(sorted)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = sorted
}

// Rotate demotes the current front-of-line healthy endpoint to the back
// of the list, so the next StreamChat call tries a different endpoint
// first. Unlike the automatic mid-call failover in StreamChat (which only
// moves on after an endpoint actually errors), Rotate lets a caller force a
// provider change between calls — e.g. the reasoning engine reaching for a
// different model after its loop guard trips, even though the current
// endpoint hasn't technically failed. A no-op with fewer than two endpoints.
func (r *Router) Rotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.endpoints) < 2 {
		return
	}
	for i, ep := range r.endpoints {
		if !ep.Healthy() {
			continue
		}
		rotated := make([]*Endpoint, 0, len(r.endpoints))
		rotated = append(rotated, r.endpoints[:i]...)
		rotated = append(rotated, r.endpoints[i+1:]...)
		rotated = append(rotated, ep)
		r.endpoints = rotated
		return
	}
}

// requiredCapabilities scans the message list for media blocks and returns
// the capability set a selected endpoint must support to avoid degrading them.
func requiredCapabilities(messages []Message, tools []Tool) map[Capability]bool {
	need := map[Capability]bool{CapabilityText: true}
	if len(tools) > 0 {
		need[CapabilityTools] = true
	}
	for _, m := range messages {
		for _, b := range m.Content {
			if cap, ok := mediaCapability[b.Type]; ok {
				need[cap] = true
			}
		}
	}
	return need
}

// degradeUnsupportedMedia replaces content blocks the chosen endpoint cannot
// accept with a stable text placeholder, rather than failing the request.
func degradeUnsupportedMedia(messages []Message, ep *Endpoint) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m
		var newContent []ContentBlock
		changed := false
		for _, b := range m.Content {
			if cap, ok := mediaCapability[b.Type]; ok && !ep.Capabilities[cap] {
				newContent = append(newContent, NewTextBlock(PlaceholderForUnsupportedMedia(b.Type)))
				changed = true
				continue
			}
			newContent = append(newContent, b)
		}
		if changed {
			out[i].Content = newContent
		}
	}
	return out
}

// candidateEndpoints returns the healthy endpoints that declare the full
// required capability set, in the Router's list order (priority order, as
// changed by Rotate). If none qualify, it returns all healthy endpoints in
// that order instead (their unsupported media blocks will be soft-degraded).
func (r *Router) candidateEndpoints(need map[Capability]bool) []*Endpoint {
	r.mu.RLock()
	all := make([]*Endpoint, len(r.endpoints))
	copy(all, r.endpoints)
	r.mu.RUnlock()

	var exact, degraded []*Endpoint
	for _, ep := range all {
		if !ep.Healthy() {
			continue
		}
		if ep.supports(need) {
			exact = append(exact, ep)
		} else {
			degraded = append(degraded, ep)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return degraded
}

func sortByPriority(eps []*Endpoint) {
	for i := 1; i < len(eps); i++ {
		for j := i; j > 0 && eps[j].Priority < eps[j-1].Priority; j-- {
			eps[j], eps[j-1] = eps[j-1], eps[j]
		}
	}
}

// StreamChat implements LLMClient, routing the request across the endpoint
// list with capability-aware selection and classified retries.
func (r *Router) StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error) {
	need := requiredCapabilities(messages, tools)
	candidates := r.candidateEndpoints(need)
	if len(candidates) == 0 {
		return nil, &ErrAllEndpointsFailed{Last: errors.New("no healthy endpoints configured")}
	}

	var tried []string
	var lastErr error

	for idx, ep := range candidates {
		if idx > 0 {
			log.Printf("⚠️ Endpoint %q unavailable/exhausted, trying %q...", candidates[idx-1].Name, ep.Name)
		}
		tried = append(tried, ep.Name)

		msgsForEp := degradeUnsupportedMedia(messages, ep)
		var epTools []Tool
		if ep.Capabilities[CapabilityTools] {
			epTools = tools
		}

		for attempt := 1; attempt <= r.maxRetries; attempt++ {
			if attempt > 1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(attempt-1) * r.retryDelay):
				}
			}

			ch, err := ep.Client.StreamChat(ctx, msgsForEp, epTools)
			if err == nil {
				return ch, nil
			}

			lastErr = err
			class := classify(ep.Client, err)
			slog.WarnContext(ctx, "endpoint call failed", "endpoint", ep.Name, "class", class, "attempt", attempt, "error", err)

			switch class {
			case ClassAuth:
				ep.markUnhealthy()
				attempt = r.maxRetries // stop retrying this endpoint
			case ClassRateLimit:
				if attempt < r.maxRetries {
					continue
				}
			case ClassTimeout, ClassTransient:
				// one same-endpoint retry, then move on
				if attempt < 2 && attempt < r.maxRetries {
					continue
				}
			case ClassPermanent:
				attempt = r.maxRetries
			}
			break
		}

		if !r.fallbackOnErr {
			break
		}
	}

	return nil, &ErrAllEndpointsFailed{Attempts: tried, Last: lastErr}
}

// IsTransientError classifies a mid-stream error using the same string
// heuristics as the per-endpoint retry policy, so callers driving their own
// retry loop (e.g. the agent engine reacting to a stream-level failure) can
// decide whether reinvoking StreamChat is worth it.
func (r *Router) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	switch classify(nil, err) {
	case ClassAuth, ClassPermanent:
		return false
	default:
		return true
	}
}

func (r *Router) Provider() string { return "router" }
