package config

import "github.com/relaymesh/core/pkg/models"

// AgentConfig is one configured persona: its model chain, permission
// grants and the persona/skill prompt text the gateway hands the
// orchestrator verbatim as TurnRequest.SystemPrompt.
type AgentConfig struct {
	ID             string            `yaml:"id"`
	PrimaryModel   string            `yaml:"primary_model"`
	FallbackModels []string          `yaml:"fallback_models"`
	SystemPrompt   string            `yaml:"system_prompt"`
	Permissions    models.Permissions `yaml:"permissions"`
}

func applyAgentDefaults(a *AgentConfig) {
	if a.PrimaryModel == "" {
		a.PrimaryModel = "default"
	}
}
