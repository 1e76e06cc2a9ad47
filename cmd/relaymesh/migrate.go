package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaymesh/core/internal/config"
	"github.com/relaymesh/core/internal/schedule"
	"github.com/relaymesh/core/internal/waittask"
)

func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the scheduler and wait-task SQLite databases",
		Long: `migrate opens (and so creates, if missing) the scheduler and
wait-task databases named in the config file, running their schema
migrations. It does not start any background loop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			schedStore, err := schedule.OpenSQLiteStore(cfg.Scheduler.DBPath)
			if err != nil {
				return fmt.Errorf("scheduler db: %w", err)
			}
			defer schedStore.Close()
			fmt.Printf("scheduler database ready: %s\n", cfg.Scheduler.DBPath)

			waitStore, err := waittask.OpenSQLiteStore(cfg.WaitTasks.DBPath)
			if err != nil {
				return fmt.Errorf("wait task db: %w", err)
			}
			defer waitStore.Close()
			fmt.Printf("wait task database ready: %s\n", cfg.WaitTasks.DBPath)

			if _, err := schedule.NewConfigDir(cfg.Scheduler.ConfigDir); err != nil {
				return fmt.Errorf("schedule config dir: %w", err)
			}
			fmt.Printf("schedule config directory ready: %s\n", cfg.Scheduler.ConfigDir)

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaymesh.yaml", "Path to YAML configuration file")
	return cmd
}
