package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"slack-digest/internal/logger"
	"slack-digest/internal/scheduler"
	"slack-digest/internal/task"
)

var configPath string

func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the report scheduler in the foreground",
		RunE:  runStart,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath, nil)
	if err != nil {
		return err
	}
	defer logger.Close()

	executor, err := task.NewExecutor(cfg)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	defer executor.Close()

	sched := scheduler.New(executor.Location())
	if _, err := executor.RegisterCadences(sched); err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.GetLogger().Info("Slack digest started. Press Ctrl+C to stop.")
	for name, next := range sched.Next() {
		logger.GetLogger().Infof("Next %s report: %s", name, next.Format(time.RFC1123))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.GetLogger().Info("Stopping, waiting for running reports to finish...")
	if err := sched.Stop(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	logger.GetLogger().Info("Stopped.")

	return nil
}
