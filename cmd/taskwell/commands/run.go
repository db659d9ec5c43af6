package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wrenlabs/taskwell/logger"
	"github.com/wrenlabs/taskwell/task"
)

// RunCmd starts the runner in foreground mode.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the task runner",
	Long: `Start the task runner in foreground mode.

The runner will:
- Poll the database for claimable tasks and execute their handlers
- Write a liveness heartbeat other processes can check
- Periodically reset abandoned tasks and delete old history
- Run until interrupted (Ctrl+C) with graceful shutdown

Example:
  taskwell run               # Start with configured worker count
  taskwell run --workers 3   # Start with 3 concurrent workers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, conn, cfg, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		runnerCfg := task.RunnerConfig{
			Workers:       cfg.Runner.Workers,
			PollInterval:  cfg.Runner.PollInterval(),
			CleanInterval: cfg.Runner.CleanInterval(),
			ResetTimeout:  cfg.Runner.ResetTimeout(),
			DeleteAfter:   cfg.Runner.DeleteAfter(),
			Service:       cfg.Runner.Service,
		}
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			runnerCfg.Workers = workers
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		heartbeat := task.NewHeartbeat(conn)
		runner := task.NewRunnerWithContext(ctx, store, heartbeat, runnerCfg, logger.Logger)
		runner.Start()

		fmt.Printf("taskwell runner started\n")
		fmt.Printf("  Workers:       %d\n", runnerCfg.Workers)
		fmt.Printf("  Poll interval: %v\n", runnerCfg.PollInterval)
		fmt.Printf("  Database:      %s\n", cfg.Database.Path)
		fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\nShutting down...\n")
		runner.Stop()
		fmt.Printf("taskwell runner stopped\n")
		return nil
	},
}

func init() {
	RunCmd.Flags().Int("workers", 0, "Number of concurrent workers (overrides configuration)")
}
