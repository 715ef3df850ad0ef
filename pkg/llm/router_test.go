package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient is a minimal LLMClient for router tests: it either succeeds
// with a fixed chunk or fails with a fixed error, and records every
// StreamChat invocation it receives.
type stubClient struct {
	name      string
	failWith  error
	transient bool
	calls     int
}

func (c *stubClient) StreamChat(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamChunk, error) {
	c.calls++
	if c.failWith != nil {
		return nil, c.failWith
	}
	ch := make(chan StreamChunk, 1)
	ch <- NewTextChunk("ok from " + c.name)
	close(ch)
	return ch, nil
}
func (c *stubClient) IsTransientError(err error) bool { return c.transient }
func (c *stubClient) Provider() string                { return c.name }

func drainFirstText(t *testing.T, ch <-chan StreamChunk) string {
	t.Helper()
	for chunk := range ch {
		for _, b := range chunk.ContentBlocks {
			if b.Type == BlockTypeText {
				return b.Text
			}
		}
	}
	return ""
}

func TestRouterPrefersHigherPriorityEndpoint(t *testing.T) {
	primary := &stubClient{name: "primary"}
	secondary := &stubClient{name: "secondary"}

	eps := []*Endpoint{
		NewEndpoint("secondary", "secondary", "m", secondary, 10, []Capability{CapabilityText}),
		NewEndpoint("primary", "primary", "m", primary, 0, []Capability{CapabilityText}),
	}
	router := NewRouter(eps, 1, time.Millisecond, true)

	ch, err := router.StreamChat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok from primary", drainFirstText(t, ch), "expected the lower-priority-number endpoint to be tried first")
	assert.Zero(t, secondary.calls, "expected secondary endpoint not to be called when primary succeeds")
}

func TestRouterFallsOverToNextEndpointOnAuthError(t *testing.T) {
	primary := &stubClient{name: "primary", failWith: errors.New("401 unauthorized")}
	secondary := &stubClient{name: "secondary"}

	eps := []*Endpoint{
		NewEndpoint("primary", "primary", "m", primary, 0, []Capability{CapabilityText}),
		NewEndpoint("secondary", "secondary", "m", secondary, 1, []Capability{CapabilityText}),
	}
	router := NewRouter(eps, 1, time.Millisecond, true)

	ch, err := router.StreamChat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok from secondary", drainFirstText(t, ch), "expected failover to the secondary endpoint after an auth error")

	// The auth-failed endpoint should now be marked unhealthy and excluded
	// from subsequent candidate selection.
	candidates := router.candidateEndpoints(requiredCapabilities(nil, nil))
	for _, ep := range candidates {
		assert.NotEqual(t, "primary", ep.Name, "expected the auth-failed endpoint to be excluded after being marked unhealthy")
	}
}

func TestRouterReturnsErrAllEndpointsFailedWhenExhausted(t *testing.T) {
	a := &stubClient{name: "a", failWith: errors.New("500 permanent failure")}
	b := &stubClient{name: "b", failWith: errors.New("500 permanent failure")}

	eps := []*Endpoint{
		NewEndpoint("a", "a", "m", a, 0, []Capability{CapabilityText}),
		NewEndpoint("b", "b", "m", b, 1, []Capability{CapabilityText}),
	}
	router := NewRouter(eps, 1, time.Millisecond, true)

	_, err := router.StreamChat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	require.Error(t, err)
	var allFailed *ErrAllEndpointsFailed
	require.ErrorAs(t, err, &allFailed)
	assert.Len(t, allFailed.Attempts, 2, "expected both endpoints to have been attempted")
}

func TestRouterNoFallbackStopsAtFirstEndpoint(t *testing.T) {
	primary := &stubClient{name: "primary", failWith: errors.New("500 permanent failure")}
	secondary := &stubClient{name: "secondary"}

	eps := []*Endpoint{
		NewEndpoint("primary", "primary", "m", primary, 0, []Capability{CapabilityText}),
		NewEndpoint("secondary", "secondary", "m", secondary, 1, []Capability{CapabilityText}),
	}
	router := NewRouter(eps, 1, time.Millisecond, false) // fallbackOnError disabled

	_, err := router.StreamChat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	require.Error(t, err, "expected an error since fallback is disabled and the only tried endpoint failed")
	assert.Zero(t, secondary.calls, "expected secondary never to be called with fallback disabled")
}

func TestRouterDegradesUnsupportedMediaInsteadOfFailing(t *testing.T) {
	textOnly := &stubClient{name: "text-only"}
	eps := []*Endpoint{
		NewEndpoint("text-only", "text-only", "m", textOnly, 0, []Capability{CapabilityText}),
	}
	router := NewRouter(eps, 1, time.Millisecond, true)

	msgs := []Message{
		{Role: "user", Content: []ContentBlock{NewImageBlockFromURL("http://example.com/x.png", "image/png")}},
	}
	ch, err := router.StreamChat(context.Background(), msgs, nil)
	require.NoError(t, err, "expected the router to degrade the unsupported image block rather than fail outright")
	drainFirstText(t, ch)
}

func TestRouterRotateTriesADifferentEndpointNext(t *testing.T) {
	primary := &stubClient{name: "primary"}
	secondary := &stubClient{name: "secondary"}

	eps := []*Endpoint{
		NewEndpoint("primary", "primary", "m", primary, 0, []Capability{CapabilityText}),
		NewEndpoint("secondary", "secondary", "m", secondary, 1, []Capability{CapabilityText}),
	}
	router := NewRouter(eps, 1, time.Millisecond, true)

	ch, err := router.StreamChat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	require.NoError(t, err)
	require.Equal(t, "ok from primary", drainFirstText(t, ch), "expected primary to be tried first before rotation")

	router.Rotate()

	ch, err = router.StreamChat(context.Background(), []Message{NewUserMessage("hi again")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok from secondary", drainFirstText(t, ch), "expected Rotate to push secondary to the front of the candidate order")
}

func TestRouterRotateNoopWithSingleEndpoint(t *testing.T) {
	only := &stubClient{name: "only"}
	router := NewRouter([]*Endpoint{NewEndpoint("only", "only", "m", only, 0, []Capability{CapabilityText})}, 1, time.Millisecond, true)

	router.Rotate() // must not panic or corrupt the single-endpoint list

	ch, err := router.StreamChat(context.Background(), []Message{NewUserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok from only", drainFirstText(t, ch), "expected the sole endpoint to still be usable after a no-op rotate")
}

func TestEndpointSupportsRequiresEveryCapability(t *testing.T) {
	ep := NewEndpoint("e", "p", "m", &stubClient{name: "e"}, 0, []Capability{CapabilityText})
	assert.False(t, ep.supports(map[Capability]bool{CapabilityText: true, CapabilityVision: true}), "expected an endpoint lacking vision to not support a vision-requiring set")
	assert.True(t, ep.supports(map[Capability]bool{CapabilityText: true}), "expected an endpoint to support a capability set it fully declares")
}

func TestClassifyWrapsTheSameHeuristicAsErrClassification(t *testing.T) {
	var got ErrClassification = Classify(errors.New("429 rate limit"))
	assert.Equal(t, ClassRateLimit, got)
}
