// Package config loads the on-disk YAML configuration for the runtime:
// one struct per concern, each with a Default*Config constructor, with
// environment-variable overrides applied after parsing.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/core/internal/contextmgr"
	"github.com/relaymesh/core/internal/orchestrator"
	"github.com/relaymesh/core/internal/router"
)

// Config is the full runtime configuration, one field per component.
type Config struct {
	Runtime        RuntimeConfig                `yaml:"runtime"`
	ContextManager contextmgr.Config            `yaml:"context_manager"`
	WeakReAct      orchestrator.WeakReActConfig `yaml:"weak_react"`
	Gateway        GatewayConfig                `yaml:"gateway"`
	Scheduler      SchedulerConfig              `yaml:"scheduler"`
	WaitTasks      WaitTasksConfig              `yaml:"wait_tasks"`
	Agents         []AgentConfig                `yaml:"agents"`
	Providers      router.Config                `yaml:"providers"`
}

// RuntimeConfig holds the ambient paths and concurrency knobs that
// aren't specific to any one component.
type RuntimeConfig struct {
	JournalDir            string        `yaml:"journal_dir"`
	AuditLogPath          string        `yaml:"audit_log_path"`
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
	SessionLockTimeout    time.Duration `yaml:"session_lock_timeout"`
}

// SchedulerConfig points the schedule manager at its config directory
// and state database.
type SchedulerConfig struct {
	ConfigDir string `yaml:"config_dir"`
	DBPath    string `yaml:"db_path"`
}

// WaitTasksConfig points the wait-task manager at its state database.
type WaitTasksConfig struct {
	DBPath string `yaml:"db_path"`
}

// DefaultRuntimeConfig fills the ambient paths and concurrency knobs;
// callers overwrite only what their file sets.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		JournalDir:            "./data/sessions",
		AuditLogPath:          "./data/audit.log",
		MaxConcurrentSessions: 0,
		SessionLockTimeout:    30 * time.Second,
	}
}

// Default returns a Config with every component's documented defaults
// and no agents. Load starts from it before decoding the file; a missing
// file or a config with no agents is an error from Load.
func Default() Config {
	return Config{
		Runtime:        DefaultRuntimeConfig(),
		ContextManager: contextmgr.DefaultConfig(),
		WeakReAct:      orchestrator.DefaultWeakReActConfig(),
		Gateway:        DefaultGatewayConfig(),
		Scheduler:      SchedulerConfig{ConfigDir: "./data/schedules", DBPath: "./data/scheduler.db"},
		WaitTasks:      WaitTasksConfig{DBPath: "./data/waittasks.db"},
	}
}

// Load reads and parses the YAML configuration at path, applying
// defaults to unset fields and environment overrides afterward.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Runtime.JournalDir == "" {
		cfg.Runtime.JournalDir = "./data/sessions"
	}
	if cfg.Runtime.AuditLogPath == "" {
		cfg.Runtime.AuditLogPath = "./data/audit.log"
	}
	if cfg.Runtime.SessionLockTimeout <= 0 {
		cfg.Runtime.SessionLockTimeout = 30 * time.Second
	}
	if cfg.ContextManager.MaxTokens == 0 {
		cfg.ContextManager = contextmgr.DefaultConfig()
	}
	if cfg.WeakReAct.MaxSteps == 0 {
		cfg.WeakReAct = orchestrator.DefaultWeakReActConfig()
	}
	applyGatewayDefaults(&cfg.Gateway)
	if cfg.Scheduler.ConfigDir == "" {
		cfg.Scheduler.ConfigDir = "./data/schedules"
	}
	if cfg.Scheduler.DBPath == "" {
		cfg.Scheduler.DBPath = "./data/scheduler.db"
	}
	if cfg.WaitTasks.DBPath == "" {
		cfg.WaitTasks.DBPath = "./data/waittasks.db"
	}
	for i := range cfg.Agents {
		applyAgentDefaults(&cfg.Agents[i])
	}
}

// applyEnvOverrides covers the handful of values worth overriding
// without a redeploy. Provider credentials are read directly by the
// provider SDKs, so only paths and the rate limit are exposed here.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("RELAYMESH_JOURNAL_DIR")); v != "" {
		cfg.Runtime.JournalDir = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYMESH_AUDIT_LOG_PATH")); v != "" {
		cfg.Runtime.AuditLogPath = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYMESH_RATE_LIMIT_RPM")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Gateway.RateLimit.RequestsPerMinute = parsed
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("config: at least one agent must be configured")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agent missing id")
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	if cfg.Gateway.DefaultAgentID != "" && !seen[cfg.Gateway.DefaultAgentID] {
		return fmt.Errorf("config: gateway default_agent_id %q not in agents", cfg.Gateway.DefaultAgentID)
	}
	return nil
}
