package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/relaymesh/core/internal/audit"
	"github.com/relaymesh/core/internal/bus"
	"github.com/relaymesh/core/internal/config"
	"github.com/relaymesh/core/internal/gateway"
	"github.com/relaymesh/core/internal/metrics"
	"github.com/relaymesh/core/internal/orchestrator"
	"github.com/relaymesh/core/internal/providers"
	"github.com/relaymesh/core/internal/router"
	"github.com/relaymesh/core/internal/schedule"
	"github.com/relaymesh/core/internal/schedulerun"
	"github.com/relaymesh/core/internal/sessions"
	"github.com/relaymesh/core/internal/tools"
	"github.com/relaymesh/core/internal/waittask"
)

// runtime bundles every component the serve command drives, constructed
// inline rather than through a DI container.
type runtime struct {
	cfg *config.Config

	bus       *bus.Bus
	metrics   *metrics.Registry
	auditLog  *audit.Logger
	locks     *sessions.LockManager
	loop      *orchestrator.Loop
	gateway   *gateway.Gateway
	schedMgr  *schedule.Manager
	waitMgr   *waittask.Manager
	schedWork *schedulerun.Worker

	waitStore  *waittask.SQLiteStore
	schedStore *schedule.SQLiteStore
}

// buildRuntime constructs every component from cfg but starts nothing;
// callers (serve, status) decide what to Run.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	m := metrics.New()

	auditLog, err := audit.NewLogger(audit.Config{
		Enabled:       true,
		Output:        "file:" + cfg.Runtime.AuditLogPath,
		BufferSize:    1000,
		FlushInterval: audit.DefaultConfig().FlushInterval,
		MaxFieldSize:  audit.DefaultConfig().MaxFieldSize,
	})
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}

	b := bus.New(bus.WithDropHook(func(topic bus.Topic) {
		m.BusDropped.WithLabelValues(string(topic)).Inc()
	}))

	providerSet, err := buildProviders(ctx, logger)
	if err != nil {
		return nil, err
	}
	if len(providerSet) == 0 {
		logger.Warn("no LLM provider credentials found in the environment; the router will fail every turn")
	}

	llmRouter := router.New(providerSet, cfg.Providers, router.WithHooks(router.Hooks{
		OnRetry: func(p, model string) { m.RouterRetries.WithLabelValues(p, model).Inc() },
		OnFailover: func(p, model string) { m.RouterFailovers.WithLabelValues(p, model).Inc() },
	}))

	registry := orchestrator.NewRegistry(auditLog)
	registry.RegisterBuiltin(tools.NewReadFileTool())
	registry.RegisterBuiltin(tools.NewWriteFileTool())
	registry.RegisterExternal(tools.NewHTTPFetchTool())
	registry.RegisterExternal(tools.NewShellExecTool())

	locks := sessions.NewLockManager(cfg.Runtime.MaxConcurrentSessions, cfg.Runtime.SessionLockTimeout)

	loop := orchestrator.New(orchestrator.Deps{
		LLM:        llmRouter,
		Tools:      registry,
		Locks:      locks,
		JournalDir: cfg.Runtime.JournalDir,
		Bus:        b,
		Context:    cfg.ContextManager,
		ReAct:      cfg.WeakReAct,
	})

	gw := gateway.New(cfg.Gateway, cfg.Agents, loop, b, logger)

	schedStore, err := schedule.OpenSQLiteStore(cfg.Scheduler.DBPath)
	if err != nil {
		return nil, fmt.Errorf("schedule store: %w", err)
	}
	schedConfigDir, err := schedule.NewConfigDir(cfg.Scheduler.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("schedule config dir: %w", err)
	}
	schedMgr := schedule.NewManager(schedStore, schedConfigDir, b, logger, schedule.WithRunObserver(
		func(scheduleID, status string, d time.Duration) {
			m.ScheduleRuns.WithLabelValues(scheduleID, status).Observe(d.Seconds())
		},
	))

	waitStore, err := waittask.OpenSQLiteStore(cfg.WaitTasks.DBPath)
	if err != nil {
		return nil, fmt.Errorf("wait task store: %w", err)
	}
	waitMgr := waittask.NewManager(waitStore, b, logger, waittask.WithPollObserver(
		func(status string) { m.WaitTaskPolls.WithLabelValues(status).Inc() },
	))

	schedWorker := schedulerun.New(loop, cfg.Agents, b, logger)

	return &runtime{
		cfg:        cfg,
		bus:        b,
		metrics:    m,
		auditLog:   auditLog,
		locks:      locks,
		loop:       loop,
		gateway:    gw,
		schedMgr:   schedMgr,
		waitMgr:    waitMgr,
		schedWork:  schedWorker,
		waitStore:  waitStore,
		schedStore: schedStore,
	}, nil
}

// buildProviders constructs a router.Provider for each LLM backend whose
// credentials are present in the environment. Credential acquisition
// (OAuth, secret managers) is an external concern; plain environment
// variables are this runtime's only source.
func buildProviders(ctx context.Context, logger *slog.Logger) (map[string]router.Provider, error) {
	out := make(map[string]router.Provider)

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		out["anthropic"] = p
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		out["openai"] = p
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		p, err := providers.NewGeminiProvider(ctx, providers.GeminiConfig{APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		out["gemini"] = p
	}
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" || os.Getenv("AWS_REGION") != "" {
		p, err := providers.NewBedrockProvider(ctx, providers.BedrockConfig{
			Region:          os.Getenv("AWS_REGION"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		})
		if err != nil {
			logger.Warn("bedrock provider unavailable", "error", err)
		} else {
			out["bedrock"] = p
		}
	}
	return out, nil
}

// Close releases every component holding a file or database handle.
func (r *runtime) Close() {
	r.locks.Close()
	if r.schedStore != nil {
		_ = r.schedStore.Close()
	}
	if r.waitStore != nil {
		_ = r.waitStore.Close()
	}
}
