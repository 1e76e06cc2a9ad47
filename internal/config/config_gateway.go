package config

import (
	"github.com/relaymesh/core/internal/ratelimit"
	"github.com/relaymesh/core/pkg/models"
)

// BindingKind is the inbound-message shape a Binding matches against.
type BindingKind string

const (
	BindingDM      BindingKind = "dm"
	BindingMention BindingKind = "mention"
	BindingGroup   BindingKind = "group"
)

// Binding routes an inbound message to an agent by channel/connector and
// message kind. Mention bindings additionally match Pattern against the
// inbound's MentionTarget.
type Binding struct {
	ChannelType models.ChannelType `yaml:"channel_type"`
	ConnectorID string             `yaml:"connector_id"`
	Kind        BindingKind        `yaml:"kind"`
	Pattern     string             `yaml:"pattern,omitempty"`
	AgentID     string             `yaml:"agent_id"`
}

// GatewayConfig configures inbound agent resolution and rate limiting.
type GatewayConfig struct {
	Bindings       []Binding        `yaml:"bindings"`
	DefaultAgentID string           `yaml:"default_agent_id"`
	RateLimit      ratelimit.Config `yaml:"rate_limit"`
}

// DefaultGatewayConfig returns the standard rate-limit defaults with
// no bindings configured.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{RateLimit: ratelimit.DefaultConfig()}
}

func applyGatewayDefaults(g *GatewayConfig) {
	if g.RateLimit.RequestsPerMinute <= 0 {
		g.RateLimit = ratelimit.DefaultConfig()
	}
}
