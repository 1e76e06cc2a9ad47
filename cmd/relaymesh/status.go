package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaymesh/core/internal/config"
	"github.com/relaymesh/core/internal/schedule"
	"github.com/relaymesh/core/internal/waittask"
)

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report configuration validity and component health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaymesh.yaml", "Path to YAML configuration file")
	return cmd
}

func runStatus(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("config:     INVALID (%s)\n", err)
		return err
	}
	fmt.Printf("config:     ok (%s)\n", configPath)
	fmt.Printf("agents:     %d configured\n", len(cfg.Agents))

	for _, name := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		fmt.Printf("provider %-18s %s\n", name+":", presence(os.Getenv(name)))
	}
	awsPresent := os.Getenv("AWS_ACCESS_KEY_ID") != "" || os.Getenv("AWS_REGION") != ""
	fmt.Printf("provider %-18s %s\n", "bedrock:", presence(boolToStr(awsPresent)))

	schedStore, err := schedule.OpenSQLiteStore(cfg.Scheduler.DBPath)
	if err != nil {
		fmt.Printf("scheduler:  unreachable (%s)\n", err)
	} else {
		defer schedStore.Close()
		configDir, err := schedule.NewConfigDir(cfg.Scheduler.ConfigDir)
		if err != nil {
			fmt.Printf("scheduler:  config dir error (%s)\n", err)
		} else {
			schedules, err := configDir.LoadAll()
			if err != nil {
				fmt.Printf("scheduler:  %s\n", err)
			} else {
				enabled := 0
				for _, s := range schedules {
					if s.Enabled {
						enabled++
					}
				}
				fmt.Printf("scheduler:  %d schedules configured (%d enabled)\n", len(schedules), enabled)
			}
		}
	}

	waitStore, err := waittask.OpenSQLiteStore(cfg.WaitTasks.DBPath)
	if err != nil {
		fmt.Printf("wait tasks: unreachable (%s)\n", err)
	} else {
		defer waitStore.Close()
		tasks, err := waitStore.ListAll(ctx)
		if err != nil {
			fmt.Printf("wait tasks: %s\n", err)
		} else {
			pending := 0
			for _, t := range tasks {
				if !t.Status.IsTerminal() {
					pending++
				}
			}
			fmt.Printf("wait tasks: %d total (%d active)\n", len(tasks), pending)
		}
	}

	return nil
}

func presence(v string) string {
	if v == "" {
		return "not set"
	}
	return "present"
}

func boolToStr(b bool) string {
	if b {
		return "x"
	}
	return ""
}
