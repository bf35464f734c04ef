package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redloop-ai/redloop/pkg/breaker"
	"github.com/redloop-ai/redloop/pkg/config"
	"github.com/redloop-ai/redloop/pkg/events"
	"github.com/redloop-ai/redloop/pkg/models"
)

// scriptedClient returns canned results in order, repeating the last one.
type scriptedClient struct {
	name    string
	calls   int
	results []scriptedResult
}

type scriptedResult struct {
	res *CompletionResult
	err error
}

func (c *scriptedClient) Name() string { return c.name }

func (c *scriptedClient) Complete(ctx context.Context, model string, messages []Message, opts Options) (*CompletionResult, error) {
	i := c.calls
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	c.calls++
	r := c.results[i]
	if r.res != nil {
		out := *r.res
		return &out, r.err
	}
	return nil, r.err
}

func transientErr() error {
	return &ProviderError{Kind: KindTransient, Provider: "fake", StatusCode: 503, Message: "upstream down"}
}

func newTestGateway(client *scriptedClient, hub *events.Hub) *Gateway {
	cfg := config.DefaultGatewayConfig()
	cfg.CallTimeout = time.Second
	g := NewGatewayWithClients(
		map[string]Client{client.name: client},
		breaker.NewRegistry(breaker.DefaultConfig()),
		nil, hub, *cfg)
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func testRequest() *CompletionRequest {
	return &CompletionRequest{
		Role:         models.RoleTarget,
		Provider:     "fake",
		Model:        "test-model",
		Messages:     []Message{{Role: RoleUser, Content: "hello"}},
		ExperimentID: "exp-1",
		Iteration:    0,
	}
}

func TestCompleteSuccess(t *testing.T) {
	client := &scriptedClient{name: "fake", results: []scriptedResult{
		{res: &CompletionResult{Content: "hi", Provider: "fake", Usage: &Usage{TotalTokens: 12}}},
	}}
	hub := events.NewHub()
	sub, err := hub.Get("exp-1").Subscribe(2)
	require.NoError(t, err)

	g := newTestGateway(client, hub)
	res, err := g.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Content)
	assert.Equal(t, 1, client.calls)

	var kinds []events.Kind
	for len(sub.Events()) > 0 {
		kinds = append(kinds, (<-sub.Events()).Kind)
	}
	assert.Equal(t, []events.Kind{events.KindLLMRequest, events.KindLLMResponse}, kinds)
}

func TestCompleteRetriesTransientThenSucceeds(t *testing.T) {
	client := &scriptedClient{name: "fake", results: []scriptedResult{
		{err: transientErr()},
		{err: transientErr()},
		{res: &CompletionResult{Content: "third time", Provider: "fake"}},
	}}
	g := newTestGateway(client, events.NewHub())

	res, err := g.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "third time", res.Content)
	assert.Equal(t, 3, client.calls)
	assert.Equal(t, breaker.StateClosed, g.Breakers().Get("fake", "target").State())
}

func TestCompleteRetryBound(t *testing.T) {
	client := &scriptedClient{name: "fake", results: []scriptedResult{{err: transientErr()}}}
	g := newTestGateway(client, events.NewHub())

	_, err := g.Complete(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, config.DefaultGatewayConfig().RetryAttempts+1, client.calls)

	stats := g.Breakers().Get("fake", "target").Stats()
	assert.Equal(t, int64(1), stats.TotalFailures, "one logical failure per exhausted budget")
}

func TestCompleteDoesNotRetryNonTransient(t *testing.T) {
	client := &scriptedClient{name: "fake", results: []scriptedResult{
		{err: &ProviderError{Kind: KindAuth, Provider: "fake", StatusCode: 401, Message: "bad key"}},
	}}
	g := newTestGateway(client, events.NewHub())

	_, err := g.Complete(context.Background(), testRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, int64(0), g.Breakers().Get("fake", "target").Stats().TotalFailures)
}

func TestCompleteCircuitOpenSkipsProvider(t *testing.T) {
	client := &scriptedClient{name: "fake", results: []scriptedResult{{err: transientErr()}}}
	hub := events.NewHub()
	g := newTestGateway(client, hub)

	// Open the target breaker directly.
	b := g.Breakers().Get("fake", "target")
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, b.State())

	sub, err := hub.Get("exp-1").Subscribe(2)
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), testRequest())
	require.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.Zero(t, client.calls, "no provider call while open")

	e := <-sub.Events()
	assert.Equal(t, events.KindLLMError, e.Kind)
	assert.Equal(t, "circuit_open", e.Payload["error_kind"])
}

func TestCompleteBreakerSeparatesRoles(t *testing.T) {
	client := &scriptedClient{name: "fake", results: []scriptedResult{{err: transientErr()}}}
	g := newTestGateway(client, events.NewHub())

	b := g.Breakers().Get("fake", "target")
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	req := testRequest()
	req.Role = models.RoleJudge
	_, err := g.Complete(context.Background(), req)
	require.ErrorIs(t, err, ErrProviderUnavailable, "judge role unaffected by open target breaker")
}

func TestCompleteUnknownProvider(t *testing.T) {
	g := newTestGateway(&scriptedClient{name: "fake", results: []scriptedResult{{}}}, events.NewHub())
	req := testRequest()
	req.Provider = "nope"
	_, err := g.Complete(context.Background(), req)
	require.ErrorIs(t, err, config.ErrProviderNotFound)
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(transientErr()))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(&ProviderError{Kind: KindInvalidRequest}))
	assert.False(t, IsTransient(errors.New("weird")))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, KindTransient, classifyStatus(429))
	assert.Equal(t, KindTransient, classifyStatus(503))
	assert.Equal(t, KindAuth, classifyStatus(401))
	assert.Equal(t, KindContextLength, classifyStatus(413))
	assert.Equal(t, KindInvalidRequest, classifyStatus(400))
}

func TestBackoffCaps(t *testing.T) {
	cfg := config.DefaultGatewayConfig()
	g := &Gateway{cfg: *cfg}
	assert.Equal(t, cfg.RetryBaseDelay, g.backoff(0))
	assert.Equal(t, 2*cfg.RetryBaseDelay, g.backoff(1))
	assert.Equal(t, cfg.RetryMaxDelay, g.backoff(20))
}
