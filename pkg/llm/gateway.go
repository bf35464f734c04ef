package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redloop-ai/redloop/pkg/audit"
	"github.com/redloop-ai/redloop/pkg/breaker"
	"github.com/redloop-ai/redloop/pkg/config"
	"github.com/redloop-ai/redloop/pkg/events"
)

// Gateway routes completion calls to provider clients, gated by the
// per-(provider, role) circuit breakers and bounded by the retry budget.
// Every attempt lands in the audit trail; calls carrying an experiment id
// also emit llm_request / llm_response / llm_error events on that
// experiment's bus.
type Gateway struct {
	clients  map[string]Client
	breakers *breaker.Registry
	auditLog *audit.Logger
	hub      *events.Hub
	cfg      config.GatewayConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGateway builds a gateway with one HTTP client per configured provider.
func NewGateway(providers *config.ProviderRegistry, breakers *breaker.Registry, auditLog *audit.Logger, hub *events.Hub, cfg config.GatewayConfig) *Gateway {
	clients := make(map[string]Client)
	for _, name := range providers.Names() {
		if p, err := providers.Get(name); err == nil {
			clients[name] = NewHTTPClient(p)
		}
	}
	return newGateway(clients, breakers, auditLog, hub, cfg)
}

// NewGatewayWithClients wires explicit clients. Used by tests and demo mode.
func NewGatewayWithClients(clients map[string]Client, breakers *breaker.Registry, auditLog *audit.Logger, hub *events.Hub, cfg config.GatewayConfig) *Gateway {
	return newGateway(clients, breakers, auditLog, hub, cfg)
}

func newGateway(clients map[string]Client, breakers *breaker.Registry, auditLog *audit.Logger, hub *events.Hub, cfg config.GatewayConfig) *Gateway {
	return &Gateway{
		clients:  clients,
		breakers: breakers,
		auditLog: auditLog,
		hub:      hub,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

// Breakers exposes the registry for stats and admin reset.
func (g *Gateway) Breakers() *breaker.Registry { return g.breakers }

// Complete performs one logical completion call: breaker gate, then up to
// RetryAttempts+1 provider calls with exponential backoff on transient
// failures. Exhausted transient budgets are promoted to
// ErrProviderUnavailable and counted by the breaker.
func (g *Gateway) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	client, ok := g.clients[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrProviderNotFound, req.Provider)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("completion request has no messages")
	}

	role := string(req.Role)
	digest := promptDigest(req.Messages)
	b := g.breakers.Get(req.Provider, role)

	if err := b.Allow(); err != nil {
		g.writeAudit(req, audit.Entry{
			Outcome:      audit.OutcomeCircuitOpen,
			PromptDigest: digest,
		})
		g.publish(req, events.KindLLMError, map[string]any{
			"role":       role,
			"iteration":  req.Iteration,
			"error_kind": "circuit_open",
			"message":    err.Error(),
		})
		return nil, err
	}

	g.publish(req, events.KindLLMRequest, map[string]any{
		"role":          role,
		"iteration":     req.Iteration,
		"prompt_digest": digest,
	})

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= g.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoff(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		res, err := client.Complete(callCtx, req.Model, req.Messages, req.Options)
		cancel()

		if err == nil {
			res.LatencyMS = time.Since(start).Milliseconds()
			b.RecordSuccess()
			entry := audit.Entry{
				Outcome:      audit.OutcomeSuccess,
				PromptDigest: digest,
				LatencyMS:    res.LatencyMS,
			}
			if res.Usage != nil {
				entry.InputTokens = res.Usage.PromptTokens
				entry.OutputTokens = res.Usage.CompletionTokens
			}
			g.writeAudit(req, entry)
			g.publish(req, events.KindLLMResponse, map[string]any{
				"role":       role,
				"iteration":  req.Iteration,
				"latency_ms": res.LatencyMS,
				"tokens":     res.Usage,
			})
			return res, nil
		}

		lastErr = err
		g.writeAudit(req, audit.Entry{
			Outcome:      audit.OutcomeError,
			PromptDigest: digest,
			Error:        err.Error(),
			LatencyMS:    time.Since(start).Milliseconds(),
		})
		if !IsTransient(err) {
			break
		}
		slog.Warn("LLM call failed, will retry",
			"provider", req.Provider, "role", role,
			"attempt", attempt+1, "error", err)
	}

	finalErr := lastErr
	if IsTransient(lastErr) {
		b.RecordFailure()
		finalErr = fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
	}
	g.publish(req, events.KindLLMError, map[string]any{
		"role":       role,
		"iteration":  req.Iteration,
		"error_kind": errorKind(lastErr),
		"message":    fmt.Sprint(lastErr),
	})
	return nil, finalErr
}

// backoff returns base * 2^attempt capped at the configured maximum.
func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.cfg.RetryBaseDelay << attempt
	if d > g.cfg.RetryMaxDelay || d <= 0 {
		d = g.cfg.RetryMaxDelay
	}
	return d
}

func (g *Gateway) writeAudit(req *CompletionRequest, entry audit.Entry) {
	if g.auditLog == nil {
		return
	}
	entry.ExperimentID = req.ExperimentID
	entry.Iteration = req.Iteration
	entry.Provider = req.Provider
	entry.Role = string(req.Role)
	entry.Model = req.Model
	if err := g.auditLog.Write(entry); err != nil {
		slog.Error("Failed to write audit entry", "error", err)
	}
}

func (g *Gateway) publish(req *CompletionRequest, kind events.Kind, payload map[string]any) {
	if g.hub == nil || req.ExperimentID == "" {
		return
	}
	g.hub.Get(req.ExperimentID).Publish(kind, payload)
}

func errorKind(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	return "unknown"
}

func promptDigest(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteByte(':')
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return audit.PromptDigest(sb.String())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
