// Package gateway is the thin ingress front door: a token-bucket rate
// check keyed by user_scope, followed by binding-based agent resolution,
// before an inbound message is handed to the orchestrator.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/internal/config"
	"github.com/relaymesh/core/internal/orchestrator"
	"github.com/relaymesh/core/internal/ratelimit"
	"github.com/relaymesh/core/pkg/models"
)

// ErrRateLimited is returned when the inbound's user_scope has exhausted
// its token bucket.
var ErrRateLimited = errors.New("gateway: rate limited")

// ErrNoAgent is returned when no binding matches and no default_agent_id
// is configured.
var ErrNoAgent = errors.New("gateway: no agent resolved for inbound")

// Turns is the subset of *orchestrator.Loop the gateway depends on.
type Turns interface {
	Run(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResult, error)
}

// Gateway resolves an inbound message to an agent, applies the rate
// limiter and forwards accepted turns to the orchestrator.
type Gateway struct {
	bindings       []config.Binding
	defaultAgentID string
	agents         map[string]config.AgentConfig
	limiter        *ratelimit.Limiter
	turns          Turns
	bus            *bus.Bus
	logger         *slog.Logger
}

// New builds a Gateway from the gateway and agent sections of the
// runtime config.
func New(gw config.GatewayConfig, agents []config.AgentConfig, turns Turns, b *bus.Bus, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]config.AgentConfig, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return &Gateway{
		bindings:       gw.Bindings,
		defaultAgentID: gw.DefaultAgentID,
		agents:         byID,
		limiter:        ratelimit.New(gw.RateLimit),
		turns:          turns,
		bus:            b,
		logger:         logger,
	}
}

// kindOf classifies an inbound message into the binding-kind vocabulary.
// A mention always takes priority since IsMention is adapter-asserted
// truth; absent that, a conversation whose scope equals its own user
// scope is a one-to-one DM, anything else a multi-party group.
func kindOf(msg models.InboundMessage) config.BindingKind {
	if msg.IsMention {
		return config.BindingMention
	}
	if msg.ConversationScope == msg.UserScope {
		return config.BindingDM
	}
	return config.BindingGroup
}

// resolveAgent picks the agent for an inbound: first binding
// whose (channel_type, connector_id, kind) matches, with mention
// bindings additionally requiring Pattern to match MentionTarget; falls
// back to DefaultAgentID.
func (g *Gateway) resolveAgent(msg models.InboundMessage) (string, error) {
	kind := kindOf(msg)
	for _, b := range g.bindings {
		if b.ChannelType != msg.ChannelType || b.ConnectorID != msg.ConnectorID || b.Kind != kind {
			continue
		}
		if kind == config.BindingMention && b.Pattern != "" {
			matched, err := regexp.MatchString(b.Pattern, msg.MentionTarget)
			if err != nil || !matched {
				continue
			}
		}
		return b.AgentID, nil
	}
	if g.defaultAgentID != "" {
		return g.defaultAgentID, nil
	}
	return "", ErrNoAgent
}

// Run consumes HandleIncomingMessage events published by transport
// adapters until ctx is cancelled. Each inbound runs synchronously in
// this goroutine; concurrency across sessions comes from adapters
// publishing from their own receive loops, not from fan-out here.
func (g *Gateway) Run(ctx context.Context) {
	sub := g.bus.Subscribe(bus.TopicHandleIncomingMessage)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.C:
			if incoming, ok := msg.(bus.HandleIncomingMessage); ok {
				g.HandleInbound(ctx, incoming.Message)
			}
		}
	}
}

// HandleInbound admits one inbound message: rate-limit, resolve agent,
// publish MessageAccepted, forward to the orchestrator, and publish
// TaskFailed on any error instead of propagating it to the adapter.
func (g *Gateway) HandleInbound(ctx context.Context, msg models.InboundMessage) {
	sessionKey := msg.SessionKey()

	if !g.limiter.Allow(msg.UserScope) {
		g.logger.Warn("gateway: rate limited", "user_scope", msg.UserScope, "trace_id", msg.TraceID)
		g.publishFailed(msg.TraceID, sessionKey, "rate_limit", ErrRateLimited)
		return
	}

	agentID, err := g.resolveAgent(msg)
	if err != nil {
		g.logger.Warn("gateway: no agent resolved", "trace_id", msg.TraceID, "channel", msg.ChannelType)
		g.publishFailed(msg.TraceID, sessionKey, "inbound", err)
		return
	}
	agent, ok := g.agents[agentID]
	if !ok {
		g.publishFailed(msg.TraceID, sessionKey, "inbound", fmt.Errorf("gateway: agent %q not configured", agentID))
		return
	}

	g.bus.Publish(bus.MessageAccepted{SessionKey: sessionKey, TraceID: msg.TraceID})

	req := orchestrator.TurnRequest{
		TraceID:        msg.TraceID,
		AgentID:        agent.ID,
		SessionKey:     sessionKey,
		SystemPrompt:   agent.SystemPrompt,
		Text:           msg.Text,
		Attachments:    msg.Attachments,
		Permissions:    agent.Permissions,
		PrimaryModel:   agent.PrimaryModel,
		FallbackModels: agent.FallbackModels,
	}

	if _, err := g.turns.Run(ctx, req); err != nil {
		g.logger.Error("gateway: turn failed", "trace_id", msg.TraceID, "err", err)
		g.publishFailed(msg.TraceID, sessionKey, "turn", err)
	}
}

func (g *Gateway) publishFailed(traceID string, sessionKey models.SessionKey, kind string, err error) {
	g.bus.Publish(bus.TaskFailed{TraceID: traceID, SessionKey: sessionKey, TaskKind: kind, Err: err.Error()})
}
