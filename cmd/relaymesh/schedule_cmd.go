package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaymesh/core/internal/config"
	"github.com/relaymesh/core/internal/schedule"
	"github.com/relaymesh/core/pkg/models"
)

func buildScheduleCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and control scheduled tasks",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "relaymesh.yaml", "Path to YAML configuration file")

	root.AddCommand(
		buildScheduleListCmd(&configPath),
		buildSchedulePauseCmd(&configPath),
		buildScheduleRunCmd(&configPath),
	)
	return root
}

func openScheduleStores(configPath string) (*config.Config, *schedule.SQLiteStore, *schedule.ConfigDir, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := schedule.OpenSQLiteStore(cfg.Scheduler.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open scheduler db: %w", err)
	}
	configDir, err := schedule.NewConfigDir(cfg.Scheduler.ConfigDir)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("open schedule config dir: %w", err)
	}
	return cfg, store, configDir, nil
}

func buildScheduleListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured schedules and their run state",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, configDir, err := openScheduleStores(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			schedules, err := configDir.LoadAll()
			if err != nil {
				return err
			}
			for _, cfg := range schedules {
				state, err := store.GetState(cmd.Context(), cfg.ScheduleID)
				if err != nil {
					return fmt.Errorf("load state for %s: %w", cfg.ScheduleID, err)
				}
				fmt.Printf("%-24s enabled=%-5v kind=%-9s agent=%-16s %s\n",
					cfg.ScheduleID, cfg.Enabled, cfg.Kind, cfg.AgentID, describeState(state))
			}
			if len(schedules) == 0 {
				fmt.Println("no schedules configured")
			}
			return nil
		},
	}
}

func describeState(state *models.ScheduleState) string {
	if state == nil {
		return "never run"
	}
	if state.RunningAtMs != nil {
		return "running now"
	}
	if state.NextRunAtMs != nil {
		return fmt.Sprintf("next_run=%s", time.UnixMilli(*state.NextRunAtMs).Format(time.RFC3339))
	}
	if state.LastRunStatus != nil {
		return fmt.Sprintf("last_status=%s", *state.LastRunStatus)
	}
	return "idle"
}

func buildSchedulePauseCmd(configPath *string) *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "pause <schedule-id>",
		Short: "Disable (or, with --resume, re-enable) a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, configDir, err := openScheduleStores(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			schedules, err := configDir.LoadAll()
			if err != nil {
				return err
			}
			for _, cfg := range schedules {
				if cfg.ScheduleID != args[0] {
					continue
				}
				cfg.Enabled = resume
				if err := configDir.Save(cfg); err != nil {
					return err
				}
				fmt.Printf("%s: enabled=%v\n", cfg.ScheduleID, cfg.Enabled)
				return nil
			}
			return fmt.Errorf("schedule %q not found", args[0])
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "Re-enable the schedule instead of pausing it")
	return cmd
}

func buildScheduleRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <schedule-id>",
		Short: "Mark a schedule due immediately",
		Long: `run sets the schedule's persisted next_run_at_ms to now.
The schedule manager reads state only at startup, so a "relaymesh serve"
process that is already running does not pick this up; it takes effect
when serve next starts. There is no live RPC to trigger it, since the
runtime exposes no admin RPC surface.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, configDir, err := openScheduleStores(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return markDue(cmd.Context(), store, configDir, args[0])
		},
	}
}

func markDue(ctx context.Context, store *schedule.SQLiteStore, configDir *schedule.ConfigDir, scheduleID string) error {
	schedules, err := configDir.LoadAll()
	if err != nil {
		return err
	}
	found := false
	for _, cfg := range schedules {
		if cfg.ScheduleID == scheduleID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("schedule %q not found", scheduleID)
	}

	state, err := store.GetState(ctx, scheduleID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &models.ScheduleState{ScheduleID: scheduleID}
	}
	now := time.Now().UnixMilli()
	state.NextRunAtMs = &now
	if err := store.SaveState(ctx, state); err != nil {
		return err
	}
	fmt.Printf("%s: marked due\n", scheduleID)
	return nil
}
