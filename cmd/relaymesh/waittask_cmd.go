package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaymesh/core/internal/config"
	"github.com/relaymesh/core/internal/waittask"
)

func buildWaitTaskCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "waittask",
		Short: "Inspect and control wait tasks",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "relaymesh.yaml", "Path to YAML configuration file")

	root.AddCommand(
		buildWaitTaskListCmd(&configPath),
		buildWaitTaskCancelCmd(&configPath),
	)
	return root
}

func openWaitTaskStore(configPath string) (*waittask.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := waittask.OpenSQLiteStore(cfg.WaitTasks.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open wait task db: %w", err)
	}
	return store, nil
}

func buildWaitTaskListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List wait tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWaitTaskStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Printf("%-38s status=%-10s session=%-32s created=%s\n",
					t.ID, t.Status, t.SessionKey, time.UnixMilli(t.CreatedAtMs).Format(time.RFC3339))
			}
			if len(tasks) == 0 {
				fmt.Println("no wait tasks")
			}
			return nil
		},
	}
}

func buildWaitTaskCancelCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or running wait task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openWaitTaskStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s: cancel requested\n", args[0])
			return nil
		},
	}
}
